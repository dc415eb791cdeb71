// Package token 提供了用于校验和签发 JSON Web Tokens (JWT) 的功能。
package token

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"docqa-go/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired 凭证中的时间声明已过期
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidToken 凭证缺失、格式错误或签名不匹配
	ErrInvalidToken = errors.New("invalid token")
)

// JWTManager 负责 JWT 的校验，以及开发环境下的签发。
type JWTManager struct {
	hmacKey  []byte         // HS256 共享密钥
	rsaKey   *rsa.PublicKey // RS256 公钥
	issuer   string         // 允许包含 {tid} 占位符
	audience string
	leeway   time.Duration
	tokenDur time.Duration
}

// Claims 定义了我们从 JWT 中读取的身份声明。
// 它嵌入了 jwt.RegisteredClaims 以包含标准声明（如过期时间、受众）。
type Claims struct {
	ObjectID          string   `json:"oid,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	TenantID          string   `json:"tid,omitempty"`
	Groups            []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID 返回稳定的用户标识，优先使用 oid。
func (c *Claims) SubjectID() string {
	if c.ObjectID != "" {
		return c.ObjectID
	}
	return c.Subject
}

// NewJWTManager 根据认证配置创建 JWTManager。
// 配置了 PublicKeyPath 时使用 RS256 校验，否则使用 Secret 做 HS256。
func NewJWTManager(cfg config.AuthConfig) (*JWTManager, error) {
	m := &JWTManager{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   time.Duration(cfg.LeewaySeconds) * time.Second,
		tokenDur: time.Duration(cfg.DevTokenExpireHours) * time.Hour,
	}
	if cfg.PublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		m.rsaKey = key
	}
	if cfg.Secret != "" {
		m.hmacKey = []byte(cfg.Secret)
	}
	if m.rsaKey == nil && m.hmacKey == nil {
		return nil, errors.New("no verification key configured")
	}
	if m.tokenDur <= 0 {
		m.tokenDur = 8 * time.Hour
	}
	return m, nil
}

// GenerateToken 使用 HS256 签发 token，仅供开发与测试使用。
// claims 中未设置的过期时间、签发时间、受众与签发者会被补全。
func (m *JWTManager) GenerateToken(claims Claims) (string, error) {
	if m.hmacKey == nil {
		return "", errors.New("token signing requires a shared secret")
	}
	now := time.Now()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.tokenDur))
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.NotBefore == nil {
		claims.NotBefore = jwt.NewNumericDate(now)
	}
	if len(claims.Audience) == 0 && m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	if claims.Issuer == "" && m.issuer != "" {
		claims.Issuer = strings.ReplaceAll(m.issuer, "{tid}", claims.TenantID)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.hmacKey)
}

// VerifyToken 验证给定的 token 字符串。
// 过期返回 ErrTokenExpired，其余任何失败返回 ErrInvalidToken。
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(m.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods(m.validMethods()),
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" {
		expected := strings.ReplaceAll(m.issuer, "{tid}", claims.TenantID)
		if claims.Issuer != expected {
			return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
		}
	}
	if claims.SubjectID() == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func (m *JWTManager) validMethods() []string {
	var methods []string
	if m.rsaKey != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if m.hmacKey != nil {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	return methods
}

func (m *JWTManager) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		if m.rsaKey == nil {
			return nil, errors.New("unexpected signing method")
		}
		return m.rsaKey, nil
	case *jwt.SigningMethodHMAC:
		if m.hmacKey == nil {
			return nil, errors.New("unexpected signing method")
		}
		return m.hmacKey, nil
	}
	return nil, errors.New("unexpected signing method")
}

// Fingerprint returns a stable digest of a raw token so it can be compared without being stored.
func Fingerprint(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
