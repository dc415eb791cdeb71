package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct{}

func (fakePresigner) Handles(locator string) bool { return strings.HasPrefix(locator, "minio://") }

func (fakePresigner) PresignedURL(_ context.Context, locator string) (string, error) {
	return "https://minio.local/signed/" + strings.TrimPrefix(locator, "minio://"), nil
}

func newSynth(client llm.Client, presigner Presigner) SynthesisService {
	return NewSynthesisService(client, SynthesisOptions{
		Prompt:             config.LLMPromptConfig{Rules: "Answer only from the references."},
		RelevanceThreshold: 0.3,
		HistoryWindow:      4,
		Presigner:          presigner,
	})
}

func result(title, locator, content string, score float64) model.SearchResult {
	return model.SearchResult{ChunkID: title, Title: title, Locator: locator, Content: content, Score: score, LastModified: time.Now()}
}

func TestSynthesis_RefusesWithoutGrounding(t *testing.T) {
	llmClient := &fakeLLM{reply: func([]llm.Message) (string, error) { return "made up", nil }}
	s := newSynth(llmClient, nil)

	cases := map[string][]model.SearchResult{
		"no results":      nil,
		"below threshold": {result("Leave Policy", "https://d/leave", "25 days", 0.1)},
	}
	for name, results := range cases {
		t.Run(name, func(t *testing.T) {
			ans, err := s.Answer(context.Background(), "How many vacation days?", nil, results)
			require.NoError(t, err)
			assert.True(t, ans.Refused)
			assert.Equal(t, RefusalMessage, ans.Content)
			assert.Empty(t, ans.References)
		})
	}
	assert.Zero(t, llmClient.callCount(), "the model is never called without grounding")
}

func TestSynthesis_CitesEveryDistinctDocument(t *testing.T) {
	llmClient := &fakeLLM{reply: func([]llm.Message) (string, error) {
		return "Employees get 25 days [1], carried over up to 5 days [2].", nil
	}}
	s := newSynth(llmClient, nil)
	results := []model.SearchResult{
		result("Leave Policy", "https://d/leave", "Employees receive 25 days of paid vacation.", 0.9),
		result("Leave Policy", "https://d/leave", "Unused days carry over.", 0.7),
		result("Carry-over FAQ", "https://d/faq", "Up to 5 days carry over.", 0.6),
		result("Cafeteria Menu", "https://d/menu", "Tuesday is taco day.", 0.05),
	}

	ans, err := s.Answer(context.Background(), "How many vacation days do I get?", nil, results)
	require.NoError(t, err)
	assert.False(t, ans.Refused)
	require.Len(t, ans.References, 2)
	assert.Equal(t, "Leave Policy", ans.References[0].Title)
	assert.Equal(t, 0.9, ans.References[0].Score)
	assert.Equal(t, "Employees receive 25 days of paid vacation.", ans.References[0].Excerpt)
	assert.Equal(t, "Carry-over FAQ", ans.References[1].Title)

	// 被阈值排除的段落不会进入上下文
	sys := llmClient.lastCall()[0].Content
	assert.Contains(t, sys, "<<REF>>")
	assert.Contains(t, sys, "[1] (Leave Policy) Employees receive 25 days")
	assert.NotContains(t, sys, "taco")
}

func TestSynthesis_ReferencesAlwaysComeFromResults(t *testing.T) {
	llmClient := &fakeLLM{reply: func([]llm.Message) (string, error) { return "See [1] and https://elsewhere/x", nil }}
	s := newSynth(llmClient, nil)

	for i := 0; i < 20; i++ {
		var results []model.SearchResult
		locs := map[string]bool{}
		for j := 0; j <= i%5; j++ {
			loc := fmt.Sprintf("https://d/doc-%d", (i+j)%7)
			locs[loc] = true
			results = append(results, result(fmt.Sprintf("Doc %d", j), loc, "content", 0.3+float64(j)/10))
		}
		ans, err := s.Answer(context.Background(), "q", nil, results)
		require.NoError(t, err)
		for _, ref := range ans.References {
			assert.True(t, locs[ref.URL], "reference %s not in results", ref.URL)
		}
	}
}

func TestSynthesis_ModelRefusalHasNoReferences(t *testing.T) {
	replies := []string{
		"I’m sorry, but I couldn't find relevant information about that in the documents.",
		"I am not able to answer that from the available documents [1].",
		"I cannot answer questions about the weather.",
		"That topic is outside my scope.",
		"I can only answer questions about documents stored in the library.",
	}
	for _, reply := range replies {
		t.Run(reply, func(t *testing.T) {
			llmClient := &fakeLLM{reply: func([]llm.Message) (string, error) { return reply, nil }}
			s := newSynth(llmClient, nil)

			ans, err := s.Answer(context.Background(), "q", nil, []model.SearchResult{result("A", "https://d/a", "text", 0.8)})
			require.NoError(t, err)
			assert.True(t, ans.Refused)
			assert.Equal(t, ReasonModelRefusal, ans.Reason)
			assert.Empty(t, ans.References)
		})
	}
}

func TestSynthesis_HistoryIsWindowed(t *testing.T) {
	llmClient := &fakeLLM{reply: func([]llm.Message) (string, error) { return "ok", nil }}
	s := newSynth(llmClient, nil)

	var history []model.Message
	for i := 0; i < 10; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		history = append(history, model.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	_, err := s.Answer(context.Background(), "latest", history, []model.SearchResult{result("A", "https://d/a", "text", 0.8)})
	require.NoError(t, err)

	msgs := llmClient.lastCall()
	require.Len(t, msgs, 1+4+1)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "turn 6", msgs[1].Content)
	assert.Equal(t, "turn 9", msgs[4].Content)
	assert.Equal(t, "latest", msgs[5].Content)
}

func TestSynthesis_PresignsObjectStorageLocators(t *testing.T) {
	llmClient := &fakeLLM{reply: func([]llm.Message) (string, error) { return "answer", nil }}
	s := newSynth(llmClient, fakePresigner{})

	ans, err := s.Answer(context.Background(), "q", nil, []model.SearchResult{
		result("Handbook", "minio://docs/handbook.pdf", strings.Repeat("x", 800), 0.8),
		result("Wiki", "https://wiki/page", "text", 0.7),
	})
	require.NoError(t, err)
	require.Len(t, ans.References, 2)
	assert.Equal(t, "https://minio.local/signed/docs/handbook.pdf", ans.References[0].DownloadURL)
	assert.Len(t, []rune(ans.References[0].Excerpt), 500)
	assert.Empty(t, ans.References[1].DownloadURL)
}

func TestSynthesis_GenerationErrorIsReturned(t *testing.T) {
	llmClient := &fakeLLM{reply: func([]llm.Message) (string, error) { return "", errors.New("upstream 502") }}
	s := newSynth(llmClient, nil)

	_, err := s.Answer(context.Background(), "q", nil, []model.SearchResult{result("A", "https://d/a", "text", 0.8)})
	assert.Error(t, err)
}
