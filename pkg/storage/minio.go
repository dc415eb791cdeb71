// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"docqa-go/internal/config"
	"docqa-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// LocatorScheme 是对象存储中文档的定位符前缀：minio://bucket/object
const LocatorScheme = "minio://"

// Presigner 将对象存储定位符转换为限时可访问的下载链接。
type Presigner struct {
	client *minio.Client
	expiry time.Duration
}

// NewPresigner 初始化 MinIO 客户端。配置 Region 后签名无需访问服务端。
func NewPresigner(cfg config.MinIOConfig) (*Presigner, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	expiry := time.Duration(cfg.PresignExpireMinutes) * time.Minute
	if expiry <= 0 {
		expiry = time.Hour
	}
	log.Info("MinIO 客户端初始化成功")
	return &Presigner{client: client, expiry: expiry}, nil
}

// Handles 报告定位符是否指向对象存储。
func (p *Presigner) Handles(locator string) bool {
	return strings.HasPrefix(locator, LocatorScheme)
}

// PresignedURL 为 minio://bucket/object 生成预签名 GET 链接。
func (p *Presigner) PresignedURL(ctx context.Context, locator string) (string, error) {
	bucket, object, err := ParseLocator(locator)
	if err != nil {
		return "", err
	}
	presignedURL, err := p.client.PresignedGetObject(ctx, bucket, object, p.expiry, url.Values{})
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

// ParseLocator 拆分 minio://bucket/object 定位符。
func ParseLocator(locator string) (bucket, object string, err error) {
	if !strings.HasPrefix(locator, LocatorScheme) {
		return "", "", fmt.Errorf("not an object storage locator: %q", locator)
	}
	rest := strings.TrimPrefix(locator, LocatorScheme)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed object storage locator: %q", locator)
	}
	return parts[0], parts[1], nil
}
