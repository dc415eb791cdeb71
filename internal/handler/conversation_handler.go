package handler

import (
	"net/http"
	"strconv"

	"docqa-go/internal/errno"
	"docqa-go/internal/middleware"
	"docqa-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// List 处理 GET /conversations?limit&offset&status
func (h *ConversationHandler) List(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, errno.ErrUnauthenticated)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.service.List(c.Request.Context(), identity.Subject, c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": page.Items,
		"total":         page.Total,
		"limit":         page.Limit,
		"offset":        page.Offset,
	})
}

// Get 处理 GET /conversations/:id，不属于调用者的会话与不存在的会话返回相同的 404。
func (h *ConversationHandler) Get(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, errno.ErrUnauthenticated)
		return
	}
	conv, err := h.service.Get(c.Request.Context(), c.Param("id"), identity.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationDTO(conv))
}

type patchConversationRequest struct {
	Title  *string `json:"title"`
	Status *string `json:"status"`
}

// Update 处理 PATCH /conversations/:id，修改标题或归档状态。
func (h *ConversationHandler) Update(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, errno.ErrUnauthenticated)
		return
	}
	var req patchConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errno.ErrInvalidRequest)
		return
	}
	conv, err := h.service.Update(c.Request.Context(), c.Param("id"), identity.Subject,
		service.ConversationPatch{Title: req.Title, Status: req.Status})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationDTO(conv))
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errno.ErrInvalidRequest
	}
	return n, nil
}
