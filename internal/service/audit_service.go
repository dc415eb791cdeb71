package service

import (
	"context"
	"time"

	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/pkg/log"

	"github.com/google/uuid"
)

const maxSummaryLen = 500

// AuditService 为每个完成的请求写一条审计记录。
type AuditService interface {
	Record(ctx context.Context, entry *model.AuditEntry)
}

type auditService struct {
	repo repository.AuditRepository // 可为 nil，此时只写日志
}

// NewAuditService 创建一个新的 AuditService 实例。
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// Record 总是写结构化日志；配置了数据库时同时落库，落库失败不影响请求。
func (s *auditService) Record(ctx context.Context, entry *model.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.DocumentsAccessed == nil {
		entry.DocumentsAccessed = []string{}
	}
	entry.ResponseSummary = model.Truncate(entry.ResponseSummary, maxSummaryLen)

	log.Infow("audit",
		"audit_id", entry.ID,
		"user_id", entry.UserID,
		"conversation_id", entry.ConversationID,
		"approach", entry.Approach,
		"query", entry.Query,
		"documents_accessed", entry.DocumentsAccessed,
		"response_summary", entry.ResponseSummary,
		"latency_ms", entry.LatencyMS,
		"was_refused", entry.WasRefused,
	)

	if s.repo == nil {
		return
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		log.Errorf("[AuditService] 审计记录落库失败, audit_id: %s, error: %v", entry.ID, err)
	}
}
