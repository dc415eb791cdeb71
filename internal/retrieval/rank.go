package retrieval

import (
	"sort"

	"docqa-go/internal/model"
)

// 各后端原始分数的尺度不同，统一映射到 [0,1] 后才可比较：
//   - Elasticsearch 混合检索分数无上界，使用 s/(s+1)
//   - 知识库语义重排分数范围为 0~4，使用 s/4
//   - 知识库只返回检索分数（无重排）时与 Elasticsearch 同样无上界，使用 s/(s+1)
const rerankerMax = 4.0

// NormalizeUnbounded 将非负且无上界的分数映射到 [0,1)。
func NormalizeUnbounded(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + 1)
}

// NormalizeReranker 将 0~4 的重排分数映射到 [0,1]。
func NormalizeReranker(raw float64) float64 {
	return clamp01(raw / rerankerMax)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Rank 按归一化分数降序排序，分数相同时修改时间新者优先，并截断到 topK。
func Rank(results []model.SearchResult, topK int) []model.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].LastModified.After(results[j].LastModified)
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
