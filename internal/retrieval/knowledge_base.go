package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/pkg/log"
)

// 知识源类型
const (
	kindRemote  = "remoteSharePoint"
	kindIndexed = "indexedSharePoint"
)

// TokenExchanger 执行 on-behalf-of 交换，由 IdentityService 实现。
type TokenExchanger interface {
	Exchange(ctx context.Context, credential, scope string) (*model.DelegatedCredential, error)
}

// KnowledgeBaseClient 调用知识库的 retrieve 接口，live_remote 与 indexed_kb 共用。
type KnowledgeBaseClient struct {
	endpoint   string
	apiVersion string
	httpClient *http.Client
}

// NewKnowledgeBaseClient 创建知识库客户端。
func NewKnowledgeBaseClient(cfg config.KnowledgeBaseConfig, httpClient *http.Client) *KnowledgeBaseClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &KnowledgeBaseClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiVersion: cfg.APIVersion,
		httpClient: httpClient,
	}
}

type kbContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type kbMessage struct {
	Role    string      `json:"role"`
	Content []kbContent `json:"content"`
}

type kbSourceParams struct {
	KnowledgeSourceName        string `json:"knowledgeSourceName"`
	Kind                       string `json:"kind"`
	IncludeReferences          bool   `json:"includeReferences"`
	IncludeReferenceSourceData bool   `json:"includeReferenceSourceData"`
}

type kbRetrieveRequest struct {
	Messages              []kbMessage      `json:"messages"`
	KnowledgeSourceParams []kbSourceParams `json:"knowledgeSourceParams"`
}

type kbSourceData struct {
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	Content      string `json:"content"`
	DocURL       string `json:"doc_url"`
	WebURL       string `json:"webUrl"`
	LastModified string `json:"lastModified"`
}

type kbReference struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	RerankerScore *float64     `json:"rerankerScore"`
	Score         *float64     `json:"score"`
	DocURL        string       `json:"docUrl"`
	WebURL        string       `json:"webUrl"`
	LastModified  string       `json:"lastModified"`
	SourceData    kbSourceData `json:"sourceData"`
}

type kbRetrieveResponse struct {
	References []kbReference `json:"references"`
}

// retrieve 发送检索请求，authorize 负责设置认证头。
func (c *KnowledgeBaseClient) retrieve(ctx context.Context, kb, source, kind, query string, authorize func(*http.Request)) ([]model.SearchResult, error) {
	body, err := json.Marshal(kbRetrieveRequest{
		Messages: []kbMessage{{Role: "user", Content: []kbContent{{Type: "text", Text: query}}}},
		KnowledgeSourceParams: []kbSourceParams{{
			KnowledgeSourceName:        source,
			Kind:                       kind,
			IncludeReferences:          true,
			IncludeReferenceSourceData: true,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retrieve request: %w", err)
	}

	u := fmt.Sprintf("%s/knowledgebases('%s')/retrieve?api-version=%s", c.endpoint, url.PathEscape(kb), url.QueryEscape(c.apiVersion))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge base retrieve failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Errorf("[KnowledgeBase] retrieve 返回错误, kb: %s, status: %s, body: %s", kb, resp.Status, string(b))
		return nil, fmt.Errorf("knowledge base returned %s", resp.Status)
	}

	var out kbRetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode retrieve response: %w", err)
	}

	results := make([]model.SearchResult, 0, len(out.References))
	for _, ref := range out.References {
		r, ok := toSearchResult(ref)
		if ok {
			results = append(results, r)
		}
	}
	log.Infof("[KnowledgeBase] kb: %s, kind: %s, 返回 %d 条引用", kb, kind, len(results))
	return results, nil
}

// toSearchResult 映射一条引用，缺少正文的引用被丢弃。
func toSearchResult(ref kbReference) (model.SearchResult, bool) {
	content := firstNonEmpty(ref.SourceData.Snippet, ref.SourceData.Content)
	if strings.TrimSpace(content) == "" {
		return model.SearchResult{}, false
	}
	locator := firstNonEmpty(ref.SourceData.DocURL, ref.SourceData.WebURL, ref.DocURL, ref.WebURL)
	title := ref.SourceData.Title
	if title == "" {
		title = TitleFromLocator(locator)
	}

	// 没有重排分数时退回检索分数，它没有上界，按混合检索的方式归一化
	var raw, score float64
	switch {
	case ref.RerankerScore != nil:
		raw = *ref.RerankerScore
		score = NormalizeReranker(raw)
	case ref.Score != nil:
		raw = *ref.Score
		score = NormalizeUnbounded(raw)
	}

	var modified time.Time
	if ts := firstNonEmpty(ref.SourceData.LastModified, ref.LastModified); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			modified = t
		}
	}

	return model.SearchResult{
		ChunkID:      ref.ID,
		Title:        title,
		Content:      content,
		Locator:      locator,
		LastModified: modified,
		RawScore:     raw,
		Score:        score,
	}, true
}

// TitleFromLocator 从 URL 最后一段推导文档标题：去掉扩展名，下划线替换为空格。
func TitleFromLocator(locator string) string {
	if locator == "" {
		return "Untitled document"
	}
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(strings.TrimRight(p, "/"))
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if ext := path.Ext(name); ext != "" && len(ext) <= 6 {
		name = strings.TrimSuffix(name, ext)
	}
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" || name == "." || name == "/" {
		return "Untitled document"
	}
	return name
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// LiveRemoteBackend 使用委托凭证查询远程文档服务，权限裁剪由远端按该身份完成。
type LiveRemoteBackend struct {
	client    *KnowledgeBaseClient
	kb        string
	source    string
	scope     string
	exchanger TokenExchanger
}

// NewLiveRemoteBackend 创建 live_remote 策略的后端。
func NewLiveRemoteBackend(client *KnowledgeBaseClient, kb, source, scope string, exchanger TokenExchanger) *LiveRemoteBackend {
	return &LiveRemoteBackend{client: client, kb: kb, source: source, scope: scope, exchanger: exchanger}
}

// Search 先做 OBO 交换，交换失败直接返回错误，不会退回到无范围的凭证。
func (b *LiveRemoteBackend) Search(ctx context.Context, query string, identity *model.Identity, topK int) ([]model.SearchResult, error) {
	if identity == nil || identity.Credential() == "" {
		return nil, fmt.Errorf("live remote search requires the caller's credential")
	}
	delegated, err := b.exchanger.Exchange(ctx, identity.Credential(), b.scope)
	if err != nil {
		return nil, fmt.Errorf("live remote search: %w", err)
	}
	return b.client.retrieve(ctx, b.kb, b.source, kindRemote, query, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+delegated.Token)
	})
}

// IndexedKBBackend 使用服务级 api-key 查询预建知识库，不做按请求的身份裁剪。
type IndexedKBBackend struct {
	client *KnowledgeBaseClient
	kb     string
	source string
	apiKey string
}

// NewIndexedKBBackend 创建 indexed_kb 策略的后端。
func NewIndexedKBBackend(client *KnowledgeBaseClient, kb, source, apiKey string) *IndexedKBBackend {
	return &IndexedKBBackend{client: client, kb: kb, source: source, apiKey: apiKey}
}

func (b *IndexedKBBackend) Search(ctx context.Context, query string, _ *model.Identity, topK int) ([]model.SearchResult, error) {
	return b.client.retrieve(ctx, b.kb, b.source, kindIndexed, query, func(req *http.Request) {
		req.Header.Set("api-key", b.apiKey)
	})
}
