package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docqa-go/internal/model"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`"Vacation Day Entitlement"`, "Vacation Day Entitlement"},
		{"Travel Meal Limits (per month)", "Travel Meal Limits"},
		{"  Expense   Policy  Questions. ", "Expense Policy Questions"},
		{"“Parental Leave”", "Parental Leave"},
		{"Remote Work [draft] Rules", "Remote Work Rules"},
		{"年假政策（2024版）", "年假政策"},
		{strings.Repeat("w", 250), strings.Repeat("w", 200)},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CleanTitle(c.in), c.in)
	}
}

func newTitleFixture(t *testing.T, reply func([]llm.Message) (string, error)) (TitleService, ConversationService, *fakeLLM, *fakeQueue) {
	t.Helper()
	_, repo := newTestRepo(t)
	convSvc := NewConversationService(repo, time.Hour)
	llmClient := &fakeLLM{reply: reply}
	queue := &fakeQueue{}
	return NewTitleService(llmClient, convSvc, queue, tasks.NewMemoryClaimer(), nil), convSvc, llmClient, queue
}

func TestTitleService_ScheduleAtMostOnce(t *testing.T) {
	svc, _, _, queue := newTitleFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.Schedule(ctx, tasks.TitleTask{ConversationID: "c1", UserID: "alice", UserMessage: "q"})
	}
	svc.Schedule(ctx, tasks.TitleTask{ConversationID: "c2", UserID: "alice", UserMessage: "q"})

	require.Len(t, queue.tasks, 2)
	assert.Equal(t, "c1", queue.tasks[0].ConversationID)
	assert.False(t, queue.tasks[0].EnqueuedAt.IsZero())
}

func TestTitleService_ScheduleSwallowsQueueErrors(t *testing.T) {
	svc, _, _, queue := newTitleFixture(t, nil)
	queue.err = tasks.ErrQueueFull

	assert.NotPanics(t, func() {
		svc.Schedule(context.Background(), tasks.TitleTask{ConversationID: "c1"})
	})
	assert.Empty(t, queue.tasks)
}

func TestTitleService_Process(t *testing.T) {
	svc, convSvc, llmClient, _ := newTitleFixture(t, func([]llm.Message) (string, error) {
		return `"Vacation Days (summary)"`, nil
	})
	ctx := context.Background()
	conv, err := convSvc.Create(ctx, "alice")
	require.NoError(t, err)

	err = svc.Process(ctx, tasks.TitleTask{
		ConversationID:   conv.ID,
		UserID:           "alice",
		UserMessage:      strings.Repeat("How many vacation days do I get? ", 40),
		AssistantMessage: "25 days [1].",
	})
	require.NoError(t, err)

	got, err := convSvc.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Vacation Days", got.Title)

	// 输入被截断，生成参数固定
	prompt := llmClient.lastCall()[0].Content
	assert.Less(t, len(prompt), 1400)
	gen := llmClient.gens[0]
	require.NotNil(t, gen)
	assert.Equal(t, 30, *gen.MaxTokens)
	assert.Equal(t, 0.3, *gen.Temperature)
}

func TestTitleService_FallbackTitle(t *testing.T) {
	svc, convSvc, _, _ := newTitleFixture(t, func([]llm.Message) (string, error) {
		return "", errors.New("model offline")
	})
	ctx := context.Background()
	conv, err := convSvc.Create(ctx, "alice")
	require.NoError(t, err)

	question := "What is the reimbursement limit for international business travel meals?"
	require.NoError(t, svc.Process(ctx, tasks.TitleTask{ConversationID: conv.ID, UserID: "alice", UserMessage: question}))

	got, err := convSvc.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.Truncate(question, 50), got.Title)

	conv2, err := convSvc.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Process(ctx, tasks.TitleTask{ConversationID: conv2.ID, UserID: "alice"}))
	got, err = convSvc.Get(ctx, conv2.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, got.Title)
}

func TestTitleService_ProcessChecksOwner(t *testing.T) {
	svc, convSvc, _, _ := newTitleFixture(t, func([]llm.Message) (string, error) { return "Title", nil })
	conv, err := convSvc.Create(context.Background(), "alice")
	require.NoError(t, err)

	err = svc.Process(context.Background(), tasks.TitleTask{ConversationID: conv.ID, UserID: "mallory"})
	assert.Error(t, err)
}
