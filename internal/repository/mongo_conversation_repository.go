package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docqa-go/internal/errno"
	"docqa-go/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoConversationRepository struct {
	coll *mongo.Collection
}

// NewMongoConversationRepository 创建基于 MongoDB 的 ConversationRepository。
// 过期由 expire_at 上的 TTL 索引完成，见 EnsureIndexes。
func NewMongoConversationRepository(coll *mongo.Collection) ConversationRepository {
	return &mongoConversationRepository{coll: coll}
}

// EnsureConversationIndexes 创建列表查询索引与 TTL 索引，可重复调用。
func EnsureConversationIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}, {Key: "last_active_at", Value: -1}}},
		{Keys: bson.D{{Key: "expire_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}
	return nil
}

func (r *mongoConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	if _, err := r.coll.InsertOne(ctx, conv); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *mongoConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errno.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// Append 用一次 FindOneAndUpdate 完成归属校验与追加，$push 保证并发追加互不覆盖。
func (r *mongoConversationRepository) Append(ctx context.Context, id, ownerID string, msgs []model.Message, at, expireAt time.Time) (*model.Conversation, error) {
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": msgs}},
		"$set":  bson.M{"last_active_at": at, "expire_at": expireAt},
	}
	return r.findAndUpdate(ctx, id, ownerID, update)
}

func (r *mongoConversationRepository) UpdateMeta(ctx context.Context, id, ownerID string, title *string, status *model.ConversationStatus, expireAt time.Time) (*model.Conversation, error) {
	set := bson.M{"expire_at": expireAt}
	if title != nil {
		set["title"] = *title
	}
	if status != nil {
		set["status"] = *status
	}
	return r.findAndUpdate(ctx, id, ownerID, bson.M{"$set": set})
}

func (r *mongoConversationRepository) findAndUpdate(ctx context.Context, id, ownerID string, update bson.M) (*model.Conversation, error) {
	var conv model.Conversation
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id, "user_id": ownerID}, update, opts).Decode(&conv)
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	// 未命中：区分不存在与不属于该用户
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation: %w", err)
	}
	if n == 0 {
		return nil, errno.ErrNotFound
	}
	return nil, errno.ErrForbidden
}

// ListByUser 分页查询，只投影最后一条消息用于生成预览。
func (r *mongoConversationRepository) ListByUser(ctx context.Context, userID string, status model.ConversationStatus, limit, offset int) ([]model.Conversation, int64, error) {
	filter := bson.M{"user_id": userID, "expire_at": bson.M{"$gt": time.Now()}}
	if status != "" {
		filter["status"] = status
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "last_active_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"messages": bson.M{"$slice": -1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	convs := []model.Conversation{}
	if err := cur.All(ctx, &convs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return convs, total, nil
}
