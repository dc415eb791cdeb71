// Package retrieval 定义了检索后端的统一契约以及三种检索策略。
package retrieval

import (
	"context"
	"fmt"

	"docqa-go/internal/errno"
	"docqa-go/internal/model"
)

// Approach 检索策略标识，启动时由配置确定
type Approach string

const (
	IndexedHybrid        Approach = "indexed_hybrid"
	LiveRemote           Approach = "live_remote"
	IndexedKnowledgeBase Approach = "indexed_kb"
)

// ApproachInfo 是 GET /approaches 返回的策略描述
type ApproachInfo struct {
	ID          Approach `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}

var descriptions = map[Approach]ApproachInfo{
	IndexedHybrid: {
		ID:          IndexedHybrid,
		Name:        "Indexed hybrid search",
		Description: "Keyword and vector search over the pre-built index with per-user permission filtering",
	},
	LiveRemote: {
		ID:          LiveRemote,
		Name:        "Live remote documents",
		Description: "Queries the remote document service on your behalf; results are trimmed by your own access rights",
	},
	IndexedKnowledgeBase: {
		ID:          IndexedKnowledgeBase,
		Name:        "Indexed knowledge base",
		Description: "Queries the pre-built knowledge base with the service account",
	},
}

// ParseApproach 解析策略标识，未知值返回 ErrInvalidRequest。
func ParseApproach(s string) (Approach, error) {
	a := Approach(s)
	if _, ok := descriptions[a]; !ok {
		return "", fmt.Errorf("%w: unknown search approach %q", errno.ErrInvalidRequest, s)
	}
	return a, nil
}

// Backend 是所有检索策略共享的唯一能力。
// 返回结果按归一化分数降序、修改时间新者优先排列；无结果返回空切片而不是错误。
type Backend interface {
	Search(ctx context.Context, query string, identity *model.Identity, topK int) ([]model.SearchResult, error)
}

// Registry 持有启动时构建好的策略集合，构建后只读。
type Registry struct {
	backends map[Approach]Backend
	order    []Approach
	def      Approach
}

// NewRegistry 按 order 注册后端，默认策略必须在其中。
func NewRegistry(def Approach, order []Approach, backends map[Approach]Backend) (*Registry, error) {
	r := &Registry{backends: make(map[Approach]Backend, len(order)), def: def}
	for _, a := range order {
		b, ok := backends[a]
		if !ok || b == nil {
			return nil, fmt.Errorf("no backend configured for approach %q", a)
		}
		r.backends[a] = b
		r.order = append(r.order, a)
	}
	if _, ok := r.backends[def]; !ok {
		return nil, fmt.Errorf("default approach %q is not enabled", def)
	}
	return r, nil
}

// Resolve 返回请求指定的策略，空字符串使用默认策略。
func (r *Registry) Resolve(requested string) (Approach, Backend, error) {
	a := r.def
	if requested != "" {
		parsed, err := ParseApproach(requested)
		if err != nil {
			return "", nil, err
		}
		a = parsed
	}
	b, ok := r.backends[a]
	if !ok {
		return "", nil, fmt.Errorf("%w: search approach %q is not enabled", errno.ErrInvalidRequest, a)
	}
	return a, b, nil
}

// Default 返回默认策略
func (r *Registry) Default() Approach {
	return r.def
}

// Approaches 按注册顺序返回已启用策略的描述
func (r *Registry) Approaches() []ApproachInfo {
	out := make([]ApproachInfo, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, descriptions[a])
	}
	return out
}
