package handler

import (
	"net/http"
	"time"

	"docqa-go/internal/model"
	"docqa-go/internal/retrieval"

	"github.com/gin-gonic/gin"
)

// SystemHandler 提供无需认证的策略列表与存活探针。
type SystemHandler struct {
	registry *retrieval.Registry
	version  string
}

// NewSystemHandler 创建一个新的 SystemHandler。
func NewSystemHandler(registry *retrieval.Registry, version string) *SystemHandler {
	return &SystemHandler{registry: registry, version: version}
}

// Approaches 处理 GET /approaches
func (h *SystemHandler) Approaches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"approaches": h.registry.Approaches(),
		"default":    h.registry.Default(),
	})
}

// Health 处理 GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   h.version,
		"timestamp": model.APITime(time.Now()),
	})
}
