package model

import "time"

// Identity 由已校验的凭证在请求入口构造，请求结束即丢弃，从不持久化。
type Identity struct {
	Subject  string   `json:"sub"`
	Name     string   `json:"name"`
	Username string   `json:"username"`
	TenantID string   `json:"tenant_id"`
	Groups   []string `json:"groups"`

	credential string
	expiresAt  time.Time
}

// NewIdentity 构造一个 Identity，credential 为原始 bearer 凭证，仅保存在内存中。
func NewIdentity(subject, name, username, tenantID string, groups []string, credential string, expiresAt time.Time) *Identity {
	return &Identity{
		Subject:    subject,
		Name:       name,
		Username:   username,
		TenantID:   tenantID,
		Groups:     groups,
		credential: credential,
		expiresAt:  expiresAt,
	}
}

// Credential 返回入站的原始凭证，用于 on-behalf-of 交换。
func (i *Identity) Credential() string {
	return i.credential
}

// ExpiresAt 返回入站凭证的过期时间。
func (i *Identity) ExpiresAt() time.Time {
	return i.expiresAt
}

// DelegatedCredential 是交换得到的下游凭证，只存在于进程内缓存。
type DelegatedCredential struct {
	Token     string
	Scope     string
	ExpiresAt time.Time
}
