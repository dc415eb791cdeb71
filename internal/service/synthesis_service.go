package service

import (
	"context"
	"fmt"
	"strings"

	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
)

// 固定的拒答与致歉文案
const (
	RefusalMessage    = "I couldn't find relevant information in the available documents to answer your question."
	RetrievalApology  = "I'm sorry, the document search service is temporarily unavailable, so I can't answer from the documents right now. Please try again in a few moments."
	GenerationApology = "I'm sorry, I couldn't generate an answer right now. Please try again in a few moments."
)

// 拒答原因，用于审计与指标
const (
	ReasonNoResults            = "no_results"
	ReasonBelowThreshold       = "below_threshold"
	ReasonModelRefusal         = "model_refusal"
	ReasonRetrievalUnavailable = "retrieval_unavailable"
	ReasonGenerationFailed     = "generation_failed"
)

const (
	maxSnippetLen = 1000
	maxExcerptLen = 500
)

// 模型自己声明资料不足时的常见说法
var refusalPhrases = []string{
	"couldn't find relevant information",
	"could not find relevant information",
	"no relevant information",
	"don't have enough information",
	"do not have enough information",
	"not found in the provided",
	"not mentioned in the provided",
	"the provided documents do not",
	"i can only answer questions about",
	"not able to answer",
	"cannot answer",
	"can't answer",
	"outside my scope",
}

// Answer 是一次合成的结果。Refused 为 true 时 References 恒为空。
type Answer struct {
	Content    string
	References []model.SourceReference
	Refused    bool
	Reason     string
}

// Refusal 构造一个不带引用的拒答。
func Refusal(content, reason string) *Answer {
	return &Answer{Content: content, References: []model.SourceReference{}, Refused: true, Reason: reason}
}

// Presigner 为对象存储中的文档生成下载链接。
type Presigner interface {
	Handles(locator string) bool
	PresignedURL(ctx context.Context, locator string) (string, error)
}

// SynthesisService 基于检索结果与历史生成带引用的回答或拒答。
type SynthesisService interface {
	// Answer 只在生成调用本身失败时返回错误，资料不足是一个正常的拒答结果。
	Answer(ctx context.Context, query string, history []model.Message, results []model.SearchResult) (*Answer, error)
}

// SynthesisOptions 合成参数
type SynthesisOptions struct {
	Prompt             config.LLMPromptConfig
	Generation         *llm.GenerationParams
	RelevanceThreshold float64
	HistoryWindow      int
	Presigner          Presigner // 可为 nil
}

type synthesisService struct {
	llmClient llm.Client
	opts      SynthesisOptions
}

// NewSynthesisService 创建一个新的 SynthesisService 实例。
func NewSynthesisService(llmClient llm.Client, opts SynthesisOptions) SynthesisService {
	if opts.Prompt.RefStart == "" {
		opts.Prompt.RefStart = "<<REF>>"
	}
	if opts.Prompt.RefEnd == "" {
		opts.Prompt.RefEnd = "<<END>>"
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	return &synthesisService{llmClient: llmClient, opts: opts}
}

func (s *synthesisService) Answer(ctx context.Context, query string, history []model.Message, results []model.SearchResult) (*Answer, error) {
	// 1. 阈值过滤
	if len(results) == 0 {
		return Refusal(RefusalMessage, ReasonNoResults), nil
	}
	passages := make([]model.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= s.opts.RelevanceThreshold {
			passages = append(passages, r)
		}
	}
	if len(passages) == 0 {
		log.Infof("[SynthesisService] %d 条结果均低于阈值 %.2f", len(results), s.opts.RelevanceThreshold)
		return Refusal(RefusalMessage, ReasonBelowThreshold), nil
	}

	// 2. 组装 system 消息、历史窗口与当前问题
	messages := s.composeMessages(s.buildSystemMessage(buildContextText(passages)), history, query)

	// 3. 调用模型
	content, err := s.llmClient.Chat(ctx, messages, s.opts.Generation)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" || isRefusal(content) {
		return Refusal(RefusalMessage, ReasonModelRefusal), nil
	}

	// 4. 引用只来自通过阈值的结果
	return &Answer{Content: content, References: s.buildReferences(ctx, passages)}, nil
}

// buildContextText 将结果编号为 [n] (title) snippet
func buildContextText(results []model.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		snippet := r.Content
		if len([]rune(snippet)) > maxSnippetLen {
			snippet = model.Truncate(snippet, maxSnippetLen) + "…"
		}
		title := r.Title
		if title == "" {
			title = "unknown"
		}
		b.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, title, snippet))
	}
	return b.String()
}

func (s *synthesisService) buildSystemMessage(contextText string) string {
	var sys strings.Builder
	if s.opts.Prompt.Rules != "" {
		sys.WriteString(strings.TrimSpace(s.opts.Prompt.Rules))
		sys.WriteString("\n\n")
	}
	sys.WriteString(s.opts.Prompt.RefStart)
	sys.WriteString("\n")
	sys.WriteString(contextText)
	sys.WriteString(s.opts.Prompt.RefEnd)
	return sys.String()
}

func (s *synthesisService) composeMessages(systemMsg string, history []model.Message, query string) []llm.Message {
	if len(history) > s.opts.HistoryWindow {
		history = history[len(history)-s.opts.HistoryWindow:]
	}
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemMsg})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: query})
	return msgs
}

// buildReferences 按文档去重，保留每个文档的最高分片段。
func (s *synthesisService) buildReferences(ctx context.Context, passages []model.SearchResult) []model.SourceReference {
	refs := make([]model.SourceReference, 0, len(passages))
	index := make(map[string]int, len(passages))
	for _, p := range passages {
		key := p.Locator
		if key == "" {
			key = "title:" + p.Title
		}
		if i, ok := index[key]; ok {
			if p.Score > refs[i].Score {
				refs[i].Score = p.Score
				refs[i].Excerpt = model.Truncate(p.Content, maxExcerptLen)
			}
			continue
		}
		index[key] = len(refs)
		refs = append(refs, model.SourceReference{
			Title:   p.Title,
			URL:     p.Locator,
			Excerpt: model.Truncate(p.Content, maxExcerptLen),
			Score:   p.Score,
		})
	}

	if s.opts.Presigner != nil {
		for i := range refs {
			if !s.opts.Presigner.Handles(refs[i].URL) {
				continue
			}
			u, err := s.opts.Presigner.PresignedURL(ctx, refs[i].URL)
			if err != nil {
				log.Warnf("[SynthesisService] 生成下载链接失败, locator: %s, error: %v", refs[i].URL, err)
				continue
			}
			refs[i].DownloadURL = u
		}
	}
	return refs
}

func isRefusal(content string) bool {
	lower := strings.ToLower(strings.ReplaceAll(content, "’", "'"))
	for _, p := range refusalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
