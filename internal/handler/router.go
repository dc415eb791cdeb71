package handler

import (
	"net/http"
	"time"

	"docqa-go/internal/middleware"
	"docqa-go/internal/retrieval"
	"docqa-go/internal/service"

	"github.com/gin-gonic/gin"
)

// RouterDeps 是注册路由所需的依赖
type RouterDeps struct {
	IdentityService     service.IdentityService
	ChatService         service.ChatService
	ConversationService service.ConversationService
	Registry            *retrieval.Registry
	Version             string
	SlowRequest         time.Duration
	MetricsHandler      http.Handler // 为 nil 时不注册 /metrics
}

// NewRouter 创建路由引擎并注册全部路由。
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(deps.SlowRequest), gin.Recovery())

	systemHandler := NewSystemHandler(deps.Registry, deps.Version)
	chatHandler := NewChatHandler(deps.ChatService)
	conversationHandler := NewConversationHandler(deps.ConversationService)

	// 无需认证的路由
	r.GET("/health", systemHandler.Health)
	r.GET("/approaches", systemHandler.Approaches)
	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	// 需要认证的路由
	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(deps.IdentityService, false))
	{
		authed.POST("/chat", chatHandler.Chat)
		authed.GET("/conversations", conversationHandler.List)
		authed.GET("/conversations/:id", conversationHandler.Get)
		authed.PATCH("/conversations/:id", conversationHandler.Update)
	}

	// WebSocket 允许通过查询参数携带凭证
	r.GET("/chat/ws", middleware.AuthMiddleware(deps.IdentityService, true), chatHandler.Handle)

	return r
}
