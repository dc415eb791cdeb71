package repository

import (
	"context"

	"docqa-go/internal/model"

	"gorm.io/gorm"
)

// AuditRepository 只写的审计记录存储。
type AuditRepository interface {
	Create(ctx context.Context, entry *model.AuditEntry) error
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 创建一个新的 AuditRepository 实例。
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *model.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
