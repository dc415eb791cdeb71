package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"docqa-go/internal/errno"
	"docqa-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationService_CreateAndGet(t *testing.T) {
	_, repo := newTestRepo(t)
	svc := NewConversationService(repo, 24*time.Hour)
	ctx := context.Background()

	conv, err := svc.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, conv.Title)
	assert.Empty(t, conv.Messages)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), conv.ExpireAt, time.Minute)

	_, err = svc.Append(ctx, conv.ID, "alice",
		model.Message{Role: model.RoleUser, Content: "q"},
		model.Message{Role: model.RoleAssistant, Content: "a"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, model.RoleUser, got.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, got.Messages[1].Role)
	assert.NotEmpty(t, got.Messages[0].ID)
}

// 对任意 A≠B，B 既不能读取也不能追加 A 的会话
func TestConversationService_CrossIdentityAccessDenied(t *testing.T) {
	_, repo := newTestRepo(t)
	svc := NewConversationService(repo, time.Hour)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		a := fmt.Sprintf("user-%d", rng.Intn(1000))
		b := fmt.Sprintf("user-%d", rng.Intn(1000))
		if a == b {
			continue
		}
		conv, err := svc.Create(ctx, a)
		require.NoError(t, err)

		_, err = svc.Get(ctx, conv.ID, b)
		assert.True(t, errors.Is(err, errno.ErrForbidden))

		_, err = svc.Append(ctx, conv.ID, b, model.Message{Role: model.RoleUser, Content: "intrusion"})
		assert.True(t, errors.Is(err, errno.ErrForbidden))

		_, err = svc.Update(ctx, conv.ID, b, ConversationPatch{Title: strPtr("mine now")})
		assert.True(t, errors.Is(err, errno.ErrForbidden))

		got, err := svc.Get(ctx, conv.ID, a)
		require.NoError(t, err)
		assert.Empty(t, got.Messages)
		assert.Equal(t, DefaultTitle, got.Title)
	}
}

func TestConversationService_UnknownIDIsNotFound(t *testing.T) {
	_, repo := newTestRepo(t)
	svc := NewConversationService(repo, time.Hour)

	_, err := svc.Get(context.Background(), "does-not-exist", "alice")
	assert.True(t, errors.Is(err, errno.ErrNotFound))
	_, err = svc.Append(context.Background(), "does-not-exist", "alice", model.Message{Content: "x"})
	assert.True(t, errors.Is(err, errno.ErrNotFound))
}

// 两次追加之间间隔小于窗口，第二次追加把过期时间重置为完整窗口
func TestConversationService_AppendResetsTTL(t *testing.T) {
	mr, repo := newTestRepo(t)
	window := time.Hour
	svc := NewConversationService(repo, window)
	ctx := context.Background()

	conv, err := svc.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.Append(ctx, conv.ID, "alice", model.Message{Role: model.RoleUser, Content: "first"})
	require.NoError(t, err)

	mr.FastForward(40 * time.Minute)
	_, err = svc.Append(ctx, conv.ID, "alice", model.Message{Role: model.RoleUser, Content: "second"})
	require.NoError(t, err)
	assert.Greater(t, mr.TTL("conversation:"+conv.ID), 55*time.Minute)

	// 越过第一次写入时的过期点，会话仍然存在
	mr.FastForward(30 * time.Minute)
	got, err := svc.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
}

func TestConversationService_List(t *testing.T) {
	_, repo := newTestRepo(t)
	svc := NewConversationService(repo, time.Hour)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		conv, err := svc.Create(ctx, "alice")
		require.NoError(t, err)
		_, err = svc.Append(ctx, conv.ID, "alice", model.Message{Role: model.RoleUser, Content: strings.Repeat("m", 150)})
		require.NoError(t, err)
		ids = append(ids, conv.ID)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := svc.Update(ctx, ids[0], "alice", ConversationPatch{Status: strPtr("archived")})
	require.NoError(t, err)

	page, err := svc.List(ctx, "alice", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, page.Limit)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Len(t, []rune(page.Items[0].Preview), 100)

	page, err = svc.List(ctx, "alice", "archived", 500, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)

	page, err = svc.List(ctx, "alice", "all", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)

	_, err = svc.List(ctx, "alice", "deleted", 10, 0)
	assert.True(t, errors.Is(err, errno.ErrInvalidRequest))
	_, err = svc.List(ctx, "alice", "", 10, -1)
	assert.True(t, errors.Is(err, errno.ErrInvalidRequest))
}

func TestConversationService_UpdateValidation(t *testing.T) {
	_, repo := newTestRepo(t)
	svc := NewConversationService(repo, time.Hour)
	ctx := context.Background()
	conv, err := svc.Create(ctx, "alice")
	require.NoError(t, err)

	_, err = svc.Update(ctx, conv.ID, "alice", ConversationPatch{})
	assert.True(t, errors.Is(err, errno.ErrInvalidRequest))
	_, err = svc.Update(ctx, conv.ID, "alice", ConversationPatch{Status: strPtr("gone")})
	assert.True(t, errors.Is(err, errno.ErrInvalidRequest))
	_, err = svc.Update(ctx, conv.ID, "alice", ConversationPatch{Title: strPtr("   ")})
	assert.True(t, errors.Is(err, errno.ErrInvalidRequest))

	updated, err := svc.Update(ctx, conv.ID, "alice", ConversationPatch{Title: strPtr(strings.Repeat("t", 300))})
	require.NoError(t, err)
	assert.Len(t, updated.Title, 200)
}

func strPtr(s string) *string { return &s }
