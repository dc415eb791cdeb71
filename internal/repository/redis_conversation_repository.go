package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docqa-go/internal/errno"
	"docqa-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const maxTxRetries = 5

var errConversationExists = errors.New("conversation already exists")

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewRedisConversationRepository 创建基于 Redis 的 ConversationRepository。
// 会话文档存为 JSON 并带 TTL；每个用户一个按 last_active_at 排序的 ZSET 作为索引。
func NewRedisConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("user:%s:conversations", userID)
}

func ttlUntil(expireAt time.Time) time.Duration {
	ttl := time.Until(expireAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Create 在 Redis 中写入新会话。会话文档与用户索引在同一个 MULTI 中写入，
// WATCH 保证 ID 已存在时不会覆盖，也不会留下半截的索引。
func (r *redisConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	key := conversationKey(conv.ID)
	ttl := ttlUntil(conv.ExpireAt)

	err = r.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errConversationExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return r.touchIndex(ctx, pipe, conv.UserID, conv.ID, conv.LastActiveAt, ttl)
		})
		return err
	}, key)
	if errors.Is(err, errConversationExists) || errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// Get 从 Redis 获取会话。
func (r *redisConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	data, err := r.redisClient.Get(ctx, conversationKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errno.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// Append 在 WATCH 事务内读取、校验归属、追加并回写，期间有并发写入则重试。
func (r *redisConversationRepository) Append(ctx context.Context, id, ownerID string, msgs []model.Message, at, expireAt time.Time) (*model.Conversation, error) {
	return r.mutate(ctx, id, ownerID, expireAt, func(conv *model.Conversation) {
		conv.Messages = append(conv.Messages, msgs...)
		conv.LastActiveAt = at
	})
}

// UpdateMeta 修改标题或状态，同样视为一次写入并重置 TTL。
func (r *redisConversationRepository) UpdateMeta(ctx context.Context, id, ownerID string, title *string, status *model.ConversationStatus, expireAt time.Time) (*model.Conversation, error) {
	return r.mutate(ctx, id, ownerID, expireAt, func(conv *model.Conversation) {
		if title != nil {
			conv.Title = *title
		}
		if status != nil {
			conv.Status = *status
		}
	})
}

func (r *redisConversationRepository) mutate(ctx context.Context, id, ownerID string, expireAt time.Time, apply func(*model.Conversation)) (*model.Conversation, error) {
	key := conversationKey(id)
	var result *model.Conversation

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return errno.ErrNotFound
		}
		if err != nil {
			return err
		}
		var conv model.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
		if conv.UserID != ownerID {
			return errno.ErrForbidden
		}

		apply(&conv)
		conv.ExpireAt = expireAt
		out, err := json.Marshal(&conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		ttl := ttlUntil(expireAt)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return r.touchIndex(ctx, pipe, conv.UserID, conv.ID, conv.LastActiveAt, ttl)
		})
		if err != nil {
			return err
		}
		result = &conv
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.redisClient.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, errno.ErrNotFound) || errors.Is(err, errno.ErrForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil, fmt.Errorf("failed to update conversation %s: too much contention", id)
}

func (r *redisConversationRepository) touchIndex(ctx context.Context, c redis.Cmdable, userID, id string, at time.Time, ttl time.Duration) error {
	idx := userIndexKey(userID)
	if err := c.ZAdd(ctx, idx, &redis.Z{Score: float64(at.UnixMilli()), Member: id}).Err(); err != nil {
		return fmt.Errorf("failed to index conversation: %w", err)
	}
	// 索引至少与其中最新的会话存活一样久
	if err := c.Expire(ctx, idx, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set index ttl: %w", err)
	}
	return nil
}

// ListByUser 读取用户索引，批量取出会话并按状态过滤。已过期的会话会顺带从索引中清除。
func (r *redisConversationRepository) ListByUser(ctx context.Context, userID string, status model.ConversationStatus, limit, offset int) ([]model.Conversation, int64, error) {
	idx := userIndexKey(userID)
	ids, err := r.redisClient.ZRevRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read conversation index: %w", err)
	}
	if len(ids) == 0 {
		return []model.Conversation{}, 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = conversationKey(id)
	}
	vals, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load conversations: %w", err)
	}

	var stale []interface{}
	matched := make([]model.Conversation, 0, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var conv model.Conversation
		if err := json.Unmarshal([]byte(s), &conv); err != nil {
			continue
		}
		if conv.UserID != userID {
			continue
		}
		if status != "" && conv.Status != status {
			continue
		}
		matched = append(matched, conv)
	}
	if len(stale) > 0 {
		_ = r.redisClient.ZRem(ctx, idx, stale...).Err()
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return []model.Conversation{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}
