// Package model 包含了应用的数据模型定义。
package model

import "time"

// ConversationStatus 会话状态
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
)

// Valid 报告状态值是否合法
func (s ConversationStatus) Valid() bool {
	return s == StatusActive || s == StatusArchived
}

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation 是归属于单个用户的多轮对话，消息只追加不修改。
// 同一结构同时用于 Redis（json）和 MongoDB（bson）存储。
type Conversation struct {
	ID           string             `json:"id" bson:"_id"`
	UserID       string             `json:"user_id" bson:"user_id"`
	Title        string             `json:"title" bson:"title"`
	Messages     []Message          `json:"messages" bson:"messages"`
	Status       ConversationStatus `json:"status" bson:"status"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	LastActiveAt time.Time          `json:"last_active_at" bson:"last_active_at"`
	ExpireAt     time.Time          `json:"expire_at" bson:"expire_at"`
}

// Message 代表对话中的一轮发言。SourceReferences 仅助手消息携带。
type Message struct {
	ID               string            `json:"id" bson:"id"`
	Role             Role              `json:"role" bson:"role"`
	Content          string            `json:"content" bson:"content"`
	SourceReferences []SourceReference `json:"source_references,omitempty" bson:"source_references,omitempty"`
	Timestamp        time.Time         `json:"timestamp" bson:"timestamp"`
}

// SourceReference 是答案中的一条引用，只能由 SearchResult 生成。
// URL 为检索结果中的原始定位符，DownloadURL 为可选的预签名下载地址。
type SourceReference struct {
	Title       string  `json:"title" bson:"title"`
	URL         string  `json:"url" bson:"url"`
	Excerpt     string  `json:"excerpt" bson:"excerpt"`
	Score       float64 `json:"relevance_score" bson:"relevance_score"`
	DownloadURL string  `json:"download_url,omitempty" bson:"download_url,omitempty"`
}

// ConversationSummary 是会话列表中的一项
type ConversationSummary struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	LastActiveAt APITime            `json:"last_active_at"`
	Status       ConversationStatus `json:"status"`
	Preview      string             `json:"preview"`
}

const previewLen = 100

// Summary 生成列表项，预览取最后一条消息的前 100 个字符。
func (c *Conversation) Summary() ConversationSummary {
	s := ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		LastActiveAt: APITime(c.LastActiveAt),
		Status:       c.Status,
	}
	if n := len(c.Messages); n > 0 {
		s.Preview = Truncate(c.Messages[n-1].Content, previewLen)
	}
	return s
}

// Truncate 按 rune 截断字符串。
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
