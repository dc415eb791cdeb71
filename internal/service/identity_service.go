package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"docqa-go/internal/config"
	"docqa-go/internal/errno"
	"docqa-go/internal/metrics"
	"docqa-go/internal/model"
	"docqa-go/pkg/log"
	"docqa-go/pkg/token"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// OBO 交换使用的授权类型
const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// IdentityService 校验入站凭证，并代表调用者换取下游凭证。
type IdentityService interface {
	// Resolve 校验凭证，缺失或格式错误返回 errno.ErrUnauthenticated，过期返回 errno.ErrExpired。
	Resolve(ctx context.Context, credential string) (*model.Identity, error)
	// Exchange 执行 on-behalf-of 交换，任何失败都返回 errno.ErrExchangeFailed。
	Exchange(ctx context.Context, credential, scope string) (*model.DelegatedCredential, error)
}

type identityService struct {
	jwtManager *token.JWTManager
	cfg        config.OBOConfig
	httpClient *http.Client
	metrics    *metrics.Metrics
	skew       time.Duration
	resource   string // 下游资源标识，受众为它的凭证已经是委托凭证
	now        func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	cache  map[string]*model.DelegatedCredential // subject|scope -> 委托凭证
	issued map[string]time.Time                  // 已签发委托凭证的指纹 -> 过期时间
}

// NewIdentityService 创建一个新的 IdentityService 实例。
func NewIdentityService(jwtManager *token.JWTManager, cfg config.OBOConfig, m *metrics.Metrics) IdentityService {
	skew := time.Duration(cfg.SkewSeconds) * time.Second
	if skew <= 0 {
		skew = 60 * time.Second
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &identityService{
		jwtManager: jwtManager,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		skew:       skew,
		resource:   scopeResource(cfg.Scope),
		now:        time.Now,
		cache:      make(map[string]*model.DelegatedCredential),
		issued:     make(map[string]time.Time),
	}
}

func (s *identityService) Resolve(ctx context.Context, credential string) (*model.Identity, error) {
	if credential == "" {
		return nil, errno.ErrUnauthenticated
	}
	if s.wasIssued(token.Fingerprint(credential)) {
		log.Warnf("[IdentityService] 拒绝把委托凭证当作原始凭证使用")
		return nil, errno.ErrUnauthenticated
	}

	claims, err := s.jwtManager.VerifyToken(credential)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, errno.ErrExpired
		}
		return nil, fmt.Errorf("%w: %w", errno.ErrUnauthenticated, err)
	}
	if s.issuedFor(claims, s.resource) {
		log.Warnf("[IdentityService] 拒绝受众为下游资源的凭证, subject: %s", claims.SubjectID())
		return nil, errno.ErrUnauthenticated
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Name
	}
	return model.NewIdentity(claims.SubjectID(), claims.Name, username, claims.TenantID, claims.Groups, credential, exp), nil
}

func (s *identityService) Exchange(ctx context.Context, credential, scope string) (*model.DelegatedCredential, error) {
	// 1. 委托凭证不能再次作为原始凭证参与交换
	if s.wasIssued(token.Fingerprint(credential)) {
		s.metrics.RecordTokenExchange("rejected")
		return nil, fmt.Errorf("%w: credential is already a delegated credential", errno.ErrExchangeFailed)
	}
	claims, err := s.jwtManager.VerifyToken(credential)
	if err != nil {
		s.metrics.RecordTokenExchange("rejected")
		return nil, fmt.Errorf("%w: %w", errno.ErrExchangeFailed, err)
	}
	if s.issuedFor(claims, s.resource, scopeResource(scope)) {
		s.metrics.RecordTokenExchange("rejected")
		return nil, fmt.Errorf("%w: credential is already issued for the downstream resource", errno.ErrExchangeFailed)
	}
	sourceExp := claims.ExpiresAt.Time
	key := claims.SubjectID() + "|" + scope

	// 2. 命中缓存直接返回
	if cred := s.cached(key); cred != nil {
		s.metrics.RecordTokenExchange("hit")
		return cred, nil
	}

	// 3. 同一 subject+scope 的并发交换合并为一次
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		if cred := s.cached(key); cred != nil {
			return cred, nil
		}
		return s.exchange(ctx, key, credential, scope, sourceExp)
	})
	if err != nil {
		s.metrics.RecordTokenExchange("failed")
		log.Errorf("[IdentityService] OBO 交换失败, subject: %s, scope: %s, error: %v", claims.SubjectID(), scope, err)
		return nil, fmt.Errorf("%w: %w", errno.ErrExchangeFailed, err)
	}
	s.metrics.RecordTokenExchange("exchanged")
	return v.(*model.DelegatedCredential), nil
}

func (s *identityService) exchange(ctx context.Context, key, credential, scope string, sourceExp time.Time) (*model.DelegatedCredential, error) {
	cc := &clientcredentials.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		TokenURL:     s.cfg.TokenURL,
		Scopes:       []string{scope},
		EndpointParams: url.Values{
			"grant_type":          {jwtBearerGrant},
			"assertion":           {credential},
			"requested_token_use": {"on_behalf_of"},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, s.httpClient))
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token endpoint returned an empty access token")
	}

	// 缓存过期时间不晚于源凭证，并预留 skew
	expiry := sourceExp
	if !tok.Expiry.IsZero() && tok.Expiry.Before(expiry) {
		expiry = tok.Expiry
	}
	cred := &model.DelegatedCredential{
		Token:     tok.AccessToken,
		Scope:     scope,
		ExpiresAt: expiry.Add(-s.skew),
	}

	s.mu.Lock()
	s.issued[token.Fingerprint(tok.AccessToken)] = expiry
	if cred.ExpiresAt.After(s.now()) {
		s.cache[key] = cred
	}
	s.mu.Unlock()
	return cred, nil
}

func (s *identityService) cached(key string) *model.DelegatedCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.cache[key]
	if !ok {
		return nil
	}
	if !s.now().Before(cred.ExpiresAt) {
		delete(s.cache, key)
		return nil
	}
	return cred
}

// wasIssued 报告指纹是否属于本进程签发过的委托凭证，顺带清理已过期的记录。
func (s *identityService) wasIssued(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.issued[fp]
	if !ok {
		return false
	}
	if s.now().After(exp) {
		delete(s.issued, fp)
		return false
	}
	return true
}

// scopeResource 去掉 scope 的 /.default 后缀，得到下游资源标识。
func scopeResource(scope string) string {
	return strings.TrimSuffix(strings.TrimSpace(scope), "/.default")
}

// issuedFor 报告凭证的受众是否包含任一下游资源。
func (s *identityService) issuedFor(claims *token.Claims, resources ...string) bool {
	for _, aud := range claims.Audience {
		for _, r := range resources {
			if r != "" && strings.EqualFold(strings.TrimRight(aud, "/"), strings.TrimRight(r, "/")) {
				return true
			}
		}
	}
	return false
}
