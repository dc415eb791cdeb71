// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"docqa-go/internal/errno"
	"docqa-go/internal/metrics"
	"docqa-go/internal/model"
	"docqa-go/internal/retrieval"
	"docqa-go/pkg/log"
	"docqa-go/pkg/ratelimit"
	"docqa-go/pkg/tasks"

	"github.com/google/uuid"
)

// ChatRequest 是一轮提问
type ChatRequest struct {
	Message        string
	ConversationID string
	SearchApproach string
}

// ChatResult 是一轮的结果，Message 为已持久化的助手消息。
type ChatResult struct {
	ConversationID string
	Message        model.Message
	Refused        bool
	Approach       retrieval.Approach
}

// ChatService 定义了问答管道的入口。
type ChatService interface {
	Chat(ctx context.Context, identity *model.Identity, req ChatRequest) (*ChatResult, error)
}

// ChatOptions 管道参数
type ChatOptions struct {
	MaxInputLength int
	TopK           int
	SlowRequest    time.Duration
	StoreTimeout   time.Duration // 单次会话存储与审计写入的超时
}

const defaultStoreTimeout = 5 * time.Second

type chatService struct {
	registry        *retrieval.Registry
	limiter         ratelimit.Limiter
	conversationSvc ConversationService
	synthesisSvc    SynthesisService
	auditSvc        AuditService
	titleSvc        TitleService // 可为 nil
	metrics         *metrics.Metrics
	opts            ChatOptions
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	registry *retrieval.Registry,
	limiter ratelimit.Limiter,
	conversationSvc ConversationService,
	synthesisSvc SynthesisService,
	auditSvc AuditService,
	titleSvc TitleService,
	m *metrics.Metrics,
	opts ChatOptions,
) ChatService {
	if opts.MaxInputLength <= 0 {
		opts.MaxInputLength = 4000
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	return &chatService{
		registry:        registry,
		limiter:         limiter,
		conversationSvc: conversationSvc,
		synthesisSvc:    synthesisSvc,
		auditSvc:        auditSvc,
		titleSvc:        titleSvc,
		metrics:         m,
		opts:            opts,
	}
}

// Chat 依次执行：校验、准入、加载会话、检索、合成、持久化、审计。
// 准入之后的步骤与客户端连接解绑，连接断开不会丢失已经开始的回答与审计。
func (s *chatService) Chat(ctx context.Context, identity *model.Identity, req ChatRequest) (*ChatResult, error) {
	start := time.Now()
	if identity == nil || identity.Subject == "" {
		return nil, errno.ErrUnauthenticated
	}

	// 1. 输入校验，在任何外部调用之前完成
	query := strings.TrimSpace(req.Message)
	if query == "" {
		return nil, fmt.Errorf("%w: message must not be empty", errno.ErrInvalidRequest)
	}
	if utf8.RuneCountInString(req.Message) > s.opts.MaxInputLength {
		return nil, errno.ErrInputTooLong
	}
	approach, backend, err := s.registry.Resolve(req.SearchApproach)
	if err != nil {
		return nil, err
	}

	// 2. 准入检查不可取消
	decision, err := s.limiter.Allow(context.WithoutCancel(ctx), identity.Subject)
	if err != nil {
		log.Errorf("[ChatService] 限流检查失败, user: %s, error: %v", identity.Subject, err)
		s.metrics.RecordChat(string(approach), "error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", errno.ErrServiceUnavailable, err)
	}
	if !decision.Allowed {
		s.metrics.RecordRateLimited()
		s.metrics.RecordChat(string(approach), "rate_limited", time.Since(start))
		log.Warnf("[ChatService] 请求被限流, user: %s, retry_after: %s", identity.Subject, decision.RetryAfter)
		return nil, &errno.RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	work := context.WithoutCancel(ctx)

	// 3. 继续已有会话时加载历史
	var conv *model.Conversation
	var history []model.Message
	if req.ConversationID != "" {
		getCtx, cancel := context.WithTimeout(work, s.opts.StoreTimeout)
		conv, err = s.conversationSvc.Get(getCtx, req.ConversationID, identity.Subject)
		cancel()
		if err != nil {
			if !errors.Is(err, errno.ErrNotFound) && !errors.Is(err, errno.ErrForbidden) {
				return nil, s.persistFailed(approach, start, err)
			}
			s.metrics.RecordChat(string(approach), "error", time.Since(start))
			return nil, err
		}
		history = conv.Messages
	}

	// 4. 检索，后端故障转为致歉拒答
	rStart := time.Now()
	results, err := backend.Search(work, contextualQuery(query, history), identity, s.opts.TopK)
	var answer *Answer
	if err != nil {
		s.metrics.RecordRetrieval(string(approach), "unavailable", time.Since(rStart))
		log.Errorf("[ChatService] 检索不可用, approach: %s, user: %s, error: %v", approach, identity.Subject, err)
		answer = Refusal(RetrievalApology, ReasonRetrievalUnavailable)
	} else {
		s.metrics.RecordRetrieval(string(approach), "ok", time.Since(rStart))
		log.Infof("[ChatService] 检索完成, approach: %s, results: %d", approach, len(results))

		// 5. 合成
		answer, err = s.synthesisSvc.Answer(work, query, history, results)
		if err != nil {
			log.Errorf("[ChatService] 回答生成失败, user: %s, error: %v", identity.Subject, err)
			answer = Refusal(GenerationApology, ReasonGenerationFailed)
		}
	}
	if answer.Refused {
		s.metrics.RecordRefusal(answer.Reason)
	}

	// 6. 持久化：新会话连同两条消息一次创建，已有会话一次追加两条消息
	now := time.Now().UTC()
	userMsg := model.Message{ID: uuid.NewString(), Role: model.RoleUser, Content: query, Timestamp: now}
	assistantMsg := model.Message{
		ID:               uuid.NewString(),
		Role:             model.RoleAssistant,
		Content:          answer.Content,
		SourceReferences: answer.References,
		Timestamp:        now,
	}
	isNew := conv == nil
	persistCtx, cancel := context.WithTimeout(work, s.opts.StoreTimeout)
	if isNew {
		conv, err = s.conversationSvc.Create(persistCtx, identity.Subject, userMsg, assistantMsg)
	} else {
		_, err = s.conversationSvc.Append(persistCtx, conv.ID, identity.Subject, userMsg, assistantMsg)
	}
	cancel()
	if err != nil {
		if errors.Is(err, errno.ErrNotFound) || errors.Is(err, errno.ErrForbidden) {
			s.metrics.RecordChat(string(approach), "error", time.Since(start))
			return nil, err
		}
		return nil, s.persistFailed(approach, start, err)
	}

	// 7. 审计
	latency := time.Since(start)
	auditCtx, cancel := context.WithTimeout(work, s.opts.StoreTimeout)
	s.auditSvc.Record(auditCtx, &model.AuditEntry{
		UserID:            identity.Subject,
		ConversationID:    conv.ID,
		Approach:          string(approach),
		Query:             query,
		DocumentsAccessed: locators(results),
		ResponseSummary:   answer.Content,
		LatencyMS:         latency.Milliseconds(),
		WasRefused:        answer.Refused,
	})
	cancel()

	// 8. 新会话异步生成标题
	if isNew && s.titleSvc != nil {
		scheduleCtx, cancel := context.WithTimeout(work, s.opts.StoreTimeout)
		s.titleSvc.Schedule(scheduleCtx, tasks.TitleTask{
			ConversationID:   conv.ID,
			UserID:           identity.Subject,
			UserMessage:      query,
			AssistantMessage: answer.Content,
		})
		cancel()
	}

	outcome := "answered"
	if answer.Refused {
		outcome = "refused"
	}
	s.metrics.RecordChat(string(approach), outcome, latency)
	if s.opts.SlowRequest > 0 && latency > s.opts.SlowRequest {
		log.Warnf("[ChatService] 慢请求, approach: %s, conversation: %s, latency: %s", approach, conv.ID, latency)
	}

	return &ChatResult{
		ConversationID: conv.ID,
		Message:        assistantMsg,
		Refused:        answer.Refused,
		Approach:       approach,
	}, nil
}

func (s *chatService) persistFailed(approach retrieval.Approach, start time.Time, err error) error {
	log.Errorf("[ChatService] 会话持久化失败: %v", err)
	s.metrics.RecordChat(string(approach), "error", time.Since(start))
	return fmt.Errorf("%w: %w", errno.ErrServiceUnavailable, err)
}

// contextualQuery 把上一轮用户提问拼到检索查询前，使“你刚才提到的”这类追问也能召回同一文档。
func contextualQuery(query string, history []model.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser && history[i].Content != "" {
			return history[i].Content + "\n" + query
		}
	}
	return query
}

// locators 返回去重后的文档定位符
func locators(results []model.SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.Locator == "" {
			continue
		}
		if _, ok := seen[r.Locator]; ok {
			continue
		}
		seen[r.Locator] = struct{}{}
		out = append(out, r.Locator)
	}
	return out
}
