// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"errors"
	"strings"

	"docqa-go/internal/errno"
	"docqa-go/internal/model"
	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// IdentityKey 是 gin 上下文中保存调用者身份的键
const IdentityKey = "identity"

// AuthMiddleware 创建一个 Gin 中间件，用于 bearer 凭证认证。
// 凭证通过 IdentityService 校验，得到的 Identity 存入上下文，只在本次请求内有效。
// allowQueryToken 为 true 时也接受 access_token 查询参数（浏览器 WebSocket 无法设置请求头）。
func AuthMiddleware(identityService service.IdentityService, allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := bearerToken(c.GetHeader("Authorization"))
		if credential == "" && allowQueryToken {
			credential = c.Query("access_token")
		}
		if credential == "" {
			abort(c, errno.ErrUnauthenticated)
			return
		}

		identity, err := identityService.Resolve(c.Request.Context(), credential)
		if err != nil {
			if errors.Is(err, errno.ErrExpired) {
				abort(c, errno.ErrExpired)
				return
			}
			log.Warnf("[AuthMiddleware] 凭证校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			abort(c, errno.ErrUnauthenticated)
			return
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// CurrentIdentity 取出认证中间件写入的身份
func CurrentIdentity(c *gin.Context) (*model.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*model.Identity)
	return identity, ok && identity != nil
}

func bearerToken(header string) string {
	const bearerPrefix = "Bearer "
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

func abort(c *gin.Context, e *errno.Errorx) {
	c.AbortWithStatusJSON(e.Status, gin.H{"error": e})
}
