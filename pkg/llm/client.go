// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"fmt"
	"time"

	"docqa-go/internal/config"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Chat 以 role-based 消息与可选生成参数调用聊天接口，返回完整回答。
	Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type einoClient struct {
	cfg       config.LLMConfig
	chatModel *openai.ChatModel
}

// NewClient creates an OpenAI-compatible chat client backed by eino.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &einoClient{cfg: cfg, chatModel: m}, nil
}

func (c *einoClient) Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	in := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			in = append(in, schema.SystemMessage(m.Content))
		case "assistant":
			in = append(in, schema.AssistantMessage(m.Content, nil))
		default:
			in = append(in, schema.UserMessage(m.Content))
		}
	}

	out, err := c.chatModel.Generate(ctx, in, c.options(gen)...)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	if out == nil {
		return "", fmt.Errorf("chat api returned no message")
	}
	return out.Content, nil
}

// options 传参优先，其次使用配置中的非零值
func (c *einoClient) options(gen *GenerationParams) []model.Option {
	var opts []model.Option
	if gen == nil {
		gen = FromConfig(c.cfg.Generation)
	}
	if gen == nil {
		return nil
	}
	if gen.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*gen.Temperature)))
	}
	if gen.TopP != nil {
		opts = append(opts, model.WithTopP(float32(*gen.TopP)))
	}
	if gen.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*gen.MaxTokens))
	}
	return opts
}

// FromConfig 将配置中的非零生成参数转换为 GenerationParams，全部为零时返回 nil。
func FromConfig(cfg config.LLMGenerationConfig) *GenerationParams {
	var gp GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gp.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gp.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}
