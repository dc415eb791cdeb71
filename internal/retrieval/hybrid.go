package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"docqa-go/internal/model"
	"docqa-go/pkg/embedding"
	"docqa-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// candidateFactor kNN 召回数与最终返回数的倍数
const candidateFactor = 30

// HybridBackend 在预建索引上执行两阶段混合检索（kNN + BM25 rescore），
// 权限过滤在 Elasticsearch 内执行，调用方不可见的文档不会返回。
type HybridBackend struct {
	esClient        *elasticsearch.Client
	embeddingClient embedding.Client
	indexName       string
}

// NewHybridBackend 创建 indexed_hybrid 策略的后端。
func NewHybridBackend(esClient *elasticsearch.Client, embeddingClient embedding.Client, indexName string) *HybridBackend {
	return &HybridBackend{
		esClient:        esClient,
		embeddingClient: embeddingClient,
		indexName:       indexName,
	}
}

type esHit struct {
	ID     string           `json:"_id"`
	Source model.EsDocument `json:"_source"`
	Score  float64          `json:"_score"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

// Search 执行混合检索。
func (b *HybridBackend) Search(ctx context.Context, query string, identity *model.Identity, topK int) ([]model.SearchResult, error) {
	if identity == nil || identity.Subject == "" {
		return nil, fmt.Errorf("hybrid search requires an identity")
	}
	log.Infof("[HybridSearch] 开始执行混合搜索, topK: %d, user: %s, groups: %d", topK, identity.Subject, len(identity.Groups))

	// 1. 轻量归一化以获取核心短语
	normalized, phrase := normalizeQuery(query)

	// 2. 向量化查询（用原始问句，保持语义检索能力）
	queryVector, err := b.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	// 3. 构建查询并执行
	filter := PermissionFilter(identity)
	esQuery := BuildHybridQuery(queryVector, normalized, phrase, filter, topK)
	hits, err := b.execute(ctx, esQuery)
	if err != nil {
		return nil, err
	}

	// 4. 0 命中时用核心短语重试一次
	if len(hits) == 0 && phrase != "" && phrase != normalized {
		log.Infof("[HybridSearch] 使用核心短语重试查询: '%s'", phrase)
		hits, err = b.execute(ctx, BuildHybridQuery(queryVector, phrase, phrase, filter, topK))
		if err != nil {
			return nil, err
		}
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, hit := range hits {
		chunkID := hit.Source.ChunkID
		if chunkID == "" {
			chunkID = hit.ID
		}
		results = append(results, model.SearchResult{
			ChunkID:      chunkID,
			Title:        hit.Source.Title,
			Content:      hit.Source.TextContent,
			Locator:      hit.Source.SourceURL,
			LastModified: hit.Source.LastModified,
			RawScore:     hit.Score,
			Score:        NormalizeUnbounded(hit.Score),
		})
	}
	log.Infof("[HybridSearch] 混合搜索完成, 返回 %d 条结果", len(results))
	return results, nil
}

func (b *HybridBackend) execute(ctx context.Context, esQuery map[string]interface{}) ([]esHit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := b.esClient.Search(
		b.esClient.Search.WithContext(ctx),
		b.esClient.Search.WithIndex(b.indexName),
		b.esClient.Search.WithBody(&buf),
		b.esClient.Search.WithTrackTotalHits(false),
	)
	if err != nil {
		log.Errorf("[HybridSearch] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		log.Errorf("[HybridSearch] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	return esResponse.Hits.Hits, nil
}

// PermissionFilter 把身份的用户与组声明翻译为过滤子句：
// 文档的 acl_user_ids 包含本人，或 acl_group_ids 与本人所属组有交集。
func PermissionFilter(identity *model.Identity) map[string]interface{} {
	should := []map[string]interface{}{
		{"term": map[string]interface{}{"acl_user_ids": identity.Subject}},
	}
	if len(identity.Groups) > 0 {
		should = append(should, map[string]interface{}{
			"terms": map[string]interface{}{"acl_group_ids": identity.Groups},
		})
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"should":               should,
			"minimum_should_match": 1,
		},
	}
}

// BuildHybridQuery 构建两阶段混合检索请求体。
// 过滤子句同时放在 knn.filter 与 bool.filter 中，kNN 召回阶段也不会越权。
func BuildHybridQuery(vector []float32, text, phrase string, filter map[string]interface{}, topK int) map[string]interface{} {
	recall := topK * candidateFactor
	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"match": map[string]interface{}{"text_content": text},
		},
		"filter": filter,
	}
	if phrase != "" {
		boolQuery["should"] = []map[string]interface{}{
			{
				"match_phrase": map[string]interface{}{
					"text_content": map[string]interface{}{"query": phrase, "boost": 3.0},
				},
			},
		}
	}
	return map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              recall,
			"num_candidates": recall,
			"filter":         filter,
		},
		"query": map[string]interface{}{"bool": boolQuery},
		"rescore": map[string]interface{}{
			"window_size": recall,
			"query": map[string]interface{}{
				"rescore_query": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": map[string]interface{}{"query": text, "operator": "and"},
					},
				},
				"query_weight":         0.2, // 保留部分 k-NN 分数
				"rescore_query_weight": 1.0, // BM25 分数权重
			},
		},
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
		"size":    topK,
	}
}

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}\s$%/.-]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// 口语化的提问前缀，去掉后保留核心短语
var stopPhrases = []string{
	"can you tell me", "could you tell me", "please tell me", "tell me",
	"what is", "what are", "what was", "how many", "how much", "how do i", "how do",
	"please", "i want to know",
}

// normalizeQuery 对用户查询进行轻量去噪与短语提取。
// 返回值：规范化后的查询（用于 BM25/rescore）与核心短语（用于 match_phrase 兜底）。
func normalizeQuery(q string) (string, string) {
	lower := strings.ToLower(strings.TrimSpace(q))
	if lower == "" {
		return q, ""
	}
	kept := reKeep.ReplaceAllString(lower, " ")
	kept = strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
	if kept == "" {
		return q, ""
	}
	phrase := " " + kept + " "
	for _, sp := range stopPhrases {
		phrase = strings.ReplaceAll(phrase, " "+sp+" ", " ")
	}
	phrase = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(phrase), "."))
	if phrase == "" {
		phrase = kept
	}
	return kept, phrase
}
