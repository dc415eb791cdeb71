// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"docqa-go/internal/errno"
	"docqa-go/internal/model"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// messageDTO 是对外返回的一条消息
type messageDTO struct {
	ID               string                  `json:"id"`
	Role             model.Role              `json:"role"`
	Content          string                  `json:"content"`
	SourceReferences []model.SourceReference `json:"source_references"`
	Timestamp        model.APITime           `json:"timestamp"`
}

func toMessageDTO(m model.Message) messageDTO {
	refs := m.SourceReferences
	if refs == nil {
		refs = []model.SourceReference{}
	}
	return messageDTO{
		ID:               m.ID,
		Role:             m.Role,
		Content:          m.Content,
		SourceReferences: refs,
		Timestamp:        model.APITime(m.Timestamp),
	}
}

// conversationDTO 是会话详情，不含所有者等内部字段
type conversationDTO struct {
	ID           string                   `json:"id"`
	Title        string                   `json:"title"`
	Status       model.ConversationStatus `json:"status"`
	CreatedAt    model.APITime            `json:"created_at"`
	LastActiveAt model.APITime            `json:"last_active_at"`
	Messages     []messageDTO             `json:"messages"`
}

func toConversationDTO(conv *model.Conversation) conversationDTO {
	msgs := make([]messageDTO, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, toMessageDTO(m))
	}
	return conversationDTO{
		ID:           conv.ID,
		Title:        conv.Title,
		Status:       conv.Status,
		CreatedAt:    model.APITime(conv.CreatedAt),
		LastActiveAt: model.APITime(conv.LastActiveAt),
		Messages:     msgs,
	}
}

// errorBody 把错误转换为 {"error":{code,message}}，限流额外带 retry_after。
// 未知错误统一为 internal_error，不向客户端暴露内部信息。
func errorBody(err error) (int, gin.H) {
	var rl *errno.RateLimitedError
	if errors.As(err, &rl) {
		return errno.ErrRateLimited.Status, gin.H{"error": errno.ErrRateLimited, "retry_after": rl.RetryAfterSeconds()}
	}
	var e *errno.Errorx
	if errors.As(err, &e) {
		return e.Status, gin.H{"error": e}
	}
	return errno.ErrInternal.Status, gin.H{"error": errno.ErrInternal}
}

func respondError(c *gin.Context, err error) {
	status, body := errorBody(err)
	var rl *errno.RateLimitedError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("[Handler] %s %s 失败: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, body)
}
