package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docqa-go/internal/errno"
	"docqa-go/internal/model"
	"docqa-go/internal/repository"

	"github.com/google/uuid"
)

const (
	DefaultTitle     = "New conversation"
	defaultListLimit = 20
	maxListLimit     = 50
	maxTitleLen      = 200
)

// ConversationPage 是一页会话摘要
type ConversationPage struct {
	Items  []model.ConversationSummary
	Total  int64
	Limit  int
	Offset int
}

// ConversationPatch 描述一次元数据修改，nil 字段保持不变。
type ConversationPatch struct {
	Title  *string
	Status *string
}

// ConversationService 定义了会话的业务操作。每个操作都重新校验归属。
type ConversationService interface {
	// Create 新建会话，msgs 作为初始消息与会话在同一次写入中保存。
	Create(ctx context.Context, ownerID string, msgs ...model.Message) (*model.Conversation, error)
	Append(ctx context.Context, id, ownerID string, msgs ...model.Message) (*model.Conversation, error)
	Get(ctx context.Context, id, ownerID string) (*model.Conversation, error)
	List(ctx context.Context, ownerID, status string, limit, offset int) (*ConversationPage, error)
	Update(ctx context.Context, id, ownerID string, patch ConversationPatch) (*model.Conversation, error)
}

type conversationService struct {
	repo repository.ConversationRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewConversationService 创建一个新的 ConversationService 实例，ttl 为滚动过期窗口。
func NewConversationService(repo repository.ConversationRepository, ttl time.Duration) ConversationService {
	return &conversationService{repo: repo, ttl: ttl, now: time.Now}
}

func (s *conversationService) Create(ctx context.Context, ownerID string, msgs ...model.Message) (*model.Conversation, error) {
	if ownerID == "" {
		return nil, errno.ErrUnauthenticated
	}
	now := s.now().UTC()
	stampMessages(msgs, now)
	conv := &model.Conversation{
		ID:           uuid.NewString(),
		UserID:       ownerID,
		Title:        DefaultTitle,
		Messages:     append([]model.Message{}, msgs...),
		Status:       model.StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpireAt:     now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Append 一次写入全部消息，任何写入都把过期时间重置为完整窗口。
func (s *conversationService) Append(ctx context.Context, id, ownerID string, msgs ...model.Message) (*model.Conversation, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: no messages to append", errno.ErrInvalidRequest)
	}
	now := s.now().UTC()
	stampMessages(msgs, now)
	return s.repo.Append(ctx, id, ownerID, msgs, now, now.Add(s.ttl))
}

func (s *conversationService) Get(ctx context.Context, id, ownerID string) (*model.Conversation, error) {
	conv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != ownerID {
		return nil, errno.ErrForbidden
	}
	// 存储层的过期清理可能滞后
	if !conv.ExpireAt.IsZero() && !s.now().Before(conv.ExpireAt) {
		return nil, errno.ErrNotFound
	}
	return conv, nil
}

// List status 为空时只返回 active，传 all 返回全部。
func (s *conversationService) List(ctx context.Context, ownerID, status string, limit, offset int) (*ConversationPage, error) {
	var st model.ConversationStatus
	switch status {
	case "":
		st = model.StatusActive
	case "all":
	default:
		st = model.ConversationStatus(status)
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", errno.ErrInvalidRequest, status)
		}
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", errno.ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	convs, total, err := s.repo.ListByUser(ctx, ownerID, st, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]model.ConversationSummary, 0, len(convs))
	for i := range convs {
		items = append(items, convs[i].Summary())
	}
	return &ConversationPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *conversationService) Update(ctx context.Context, id, ownerID string, patch ConversationPatch) (*model.Conversation, error) {
	var title *string
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title must not be empty", errno.ErrInvalidRequest)
		}
		t = model.Truncate(t, maxTitleLen)
		title = &t
	}
	var status *model.ConversationStatus
	if patch.Status != nil {
		st := model.ConversationStatus(*patch.Status)
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", errno.ErrInvalidRequest, *patch.Status)
		}
		status = &st
	}
	if title == nil && status == nil {
		return nil, fmt.Errorf("%w: nothing to update", errno.ErrInvalidRequest)
	}
	return s.repo.UpdateMeta(ctx, id, ownerID, title, status, s.now().UTC().Add(s.ttl))
}

func stampMessages(msgs []model.Message, now time.Time) {
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}
}
