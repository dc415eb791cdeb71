package model

import "time"

// AuditEntry 每个完成的请求写一条，管道本身从不读取。
type AuditEntry struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	UserID            string    `gorm:"index;size:128;not null" json:"user_id"`
	ConversationID    string    `gorm:"index;size:36" json:"conversation_id"`
	Approach          string    `gorm:"size:32" json:"approach"`
	Query             string    `gorm:"type:text" json:"query"`
	DocumentsAccessed []string  `gorm:"serializer:json;type:text" json:"documents_accessed"`
	ResponseSummary   string    `gorm:"type:text" json:"response_summary"`
	LatencyMS         int64     `json:"latency_ms"`
	WasRefused        bool      `json:"was_refused"`
	Timestamp         time.Time `gorm:"index" json:"timestamp"`
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}
