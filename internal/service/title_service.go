package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"docqa-go/internal/metrics"
	"docqa-go/internal/model"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
	"docqa-go/pkg/tasks"
)

const (
	titleInputLen    = 500
	titleFallbackLen = 50
)

var (
	titleTemperature = 0.3
	titleMaxTokens   = 30
	reBracketed      = regexp.MustCompile(`[\[(（][^]）)]*[]）)]`)
)

// TitleService 在新会话的第一轮之后异步生成标题，每个会话至多投递一次。
type TitleService interface {
	tasks.Processor
	// Schedule 投递标题任务，失败只记日志，不影响已经返回的回答。
	Schedule(ctx context.Context, task tasks.TitleTask)
}

type titleService struct {
	llmClient       llm.Client
	conversationSvc ConversationService
	queue           tasks.Queue
	claimer         tasks.Claimer
	metrics         *metrics.Metrics
}

// NewTitleService 创建一个新的 TitleService 实例。
func NewTitleService(llmClient llm.Client, conversationSvc ConversationService, queue tasks.Queue, claimer tasks.Claimer, m *metrics.Metrics) TitleService {
	return &titleService{
		llmClient:       llmClient,
		conversationSvc: conversationSvc,
		queue:           queue,
		claimer:         claimer,
		metrics:         m,
	}
}

func (s *titleService) Schedule(ctx context.Context, task tasks.TitleTask) {
	ok, err := s.claimer.Claim(ctx, task.ConversationID)
	if err != nil {
		s.metrics.RecordTitleJob("claim_failed")
		log.Errorf("[TitleService] 领取标题任务失败, conversation: %s, error: %v", task.ConversationID, err)
		return
	}
	if !ok {
		s.metrics.RecordTitleJob("duplicate")
		return
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.metrics.RecordTitleJob("enqueue_failed")
		log.Errorf("[TitleService] 投递标题任务失败, conversation: %s, error: %v", task.ConversationID, err)
		return
	}
	s.metrics.RecordTitleJob("enqueued")
}

// Process 生成标题并写回会话。模型失败时使用问题开头作为标题。
func (s *titleService) Process(ctx context.Context, task tasks.TitleTask) error {
	title := s.generate(ctx, task)
	if _, err := s.conversationSvc.Update(ctx, task.ConversationID, task.UserID, ConversationPatch{Title: &title}); err != nil {
		s.metrics.RecordTitleJob("failed")
		return fmt.Errorf("failed to save title: %w", err)
	}
	s.metrics.RecordTitleJob("done")
	log.Infof("[TitleService] 会话标题已生成, conversation: %s, title: %s", task.ConversationID, title)
	return nil
}

func (s *titleService) generate(ctx context.Context, task tasks.TitleTask) string {
	prompt := fmt.Sprintf(
		"Generate a short title (at most 8 words) for a conversation that starts with the exchange below. Reply with the title only.\n\nUser: %s\nAssistant: %s",
		model.Truncate(task.UserMessage, titleInputLen),
		model.Truncate(task.AssistantMessage, titleInputLen),
	)
	out, err := s.llmClient.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, &llm.GenerationParams{
		Temperature: &titleTemperature,
		MaxTokens:   &titleMaxTokens,
	})
	if err != nil {
		log.Warnf("[TitleService] 标题生成失败，使用兜底标题, conversation: %s, error: %v", task.ConversationID, err)
		return fallbackTitle(task.UserMessage)
	}
	if title := CleanTitle(out); title != "" {
		return title
	}
	return fallbackTitle(task.UserMessage)
}

// CleanTitle 去掉引号、括号内的注释与多余空白。
func CleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'“”")
	s = reBracketed.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".。")
	return model.Truncate(s, maxTitleLen)
}

func fallbackTitle(userMessage string) string {
	t := strings.Join(strings.Fields(userMessage), " ")
	if t == "" {
		return DefaultTitle
	}
	return model.Truncate(t, titleFallbackLen)
}
