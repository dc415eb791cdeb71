// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"time"

	"docqa-go/internal/model"
)

// ConversationRepository 定义了会话持久化的操作接口。
// 所有写操作都携带 ownerID，由存储层在同一个原子操作内校验归属：
// 会话不存在返回 errno.ErrNotFound，归属不符返回 errno.ErrForbidden。
type ConversationRepository interface {
	// Create 插入新会话（可带初始消息），过期时间设为 conv.ExpireAt。
	Create(ctx context.Context, conv *model.Conversation) error
	// Get 按 ID 读取会话，不做归属校验。
	Get(ctx context.Context, id string) (*model.Conversation, error)
	// Append 原子地追加消息，并更新 last_active_at 与过期时间。
	Append(ctx context.Context, id, ownerID string, msgs []model.Message, at, expireAt time.Time) (*model.Conversation, error)
	// ListByUser 返回用户的会话，按最近活跃时间倒序。
	ListByUser(ctx context.Context, userID string, status model.ConversationStatus, limit, offset int) ([]model.Conversation, int64, error)
	// UpdateMeta 修改标题或状态，nil 表示不修改。
	UpdateMeta(ctx context.Context, id, ownerID string, title *string, status *model.ConversationStatus, expireAt time.Time) (*model.Conversation, error)
}
