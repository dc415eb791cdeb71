package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// fakeLLM 记录每次调用的消息，并按 reply 返回
type fakeLLM struct {
	mu    sync.Mutex
	calls [][]llm.Message
	gens  []*llm.GenerationParams
	reply func(msgs []llm.Message) (string, error)
}

func (f *fakeLLM) Chat(_ context.Context, msgs []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msgs)
	f.gens = append(f.gens, gen)
	f.mu.Unlock()
	if f.reply == nil {
		return "", errors.New("no reply configured")
	}
	return f.reply(msgs)
}

func (f *fakeLLM) lastCall() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeBackend 返回固定结果或错误，并记录查询
type fakeBackend struct {
	mu      sync.Mutex
	results []model.SearchResult
	err     error
	queries []string
}

func (b *fakeBackend) Search(_ context.Context, query string, _ *model.Identity, _ int) ([]model.SearchResult, error) {
	b.mu.Lock()
	b.queries = append(b.queries, query)
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.results, nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries)
}

// fakeAuditRepo 收集审计记录
type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error
}

func (r *fakeAuditRepo) Create(_ context.Context, e *model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return r.err
}

func (r *fakeAuditRepo) all() []model.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditEntry(nil), r.entries...)
}

// fakeQueue 收集投递的任务
type fakeQueue struct {
	mu    sync.Mutex
	tasks []tasks.TitleTask
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, t tasks.TitleTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

// failingWriteRepo 包装真实仓库，但创建与追加总是失败
type failingWriteRepo struct {
	repository.ConversationRepository
}

func (r failingWriteRepo) Create(context.Context, *model.Conversation) error {
	return errors.New("connection reset by peer")
}

func (r failingWriteRepo) Append(context.Context, string, string, []model.Message, time.Time, time.Time) (*model.Conversation, error) {
	return nil, errors.New("connection reset by peer")
}

// stalledRepo 的每次调用都阻塞到 ctx 结束，模拟无响应的存储
type stalledRepo struct {
	repository.ConversationRepository
}

func (r stalledRepo) Create(ctx context.Context, _ *model.Conversation) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r stalledRepo) Get(ctx context.Context, _ string) (*model.Conversation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (r stalledRepo) Append(ctx context.Context, _, _ string, _ []model.Message, _, _ time.Time) (*model.Conversation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestRepo(t *testing.T) (*miniredis.Miniredis, repository.ConversationRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, repository.NewRedisConversationRepository(rdb)
}
