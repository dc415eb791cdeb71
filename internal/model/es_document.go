// Package model 定义了与存储结构对应的 Go 结构体。
package model

import "time"

// SearchResult 是检索后端返回的单条片段，仅在请求内存在，不落库。
// RawScore 为后端原始分数，Score 为归一化到 [0,1] 的分数。
type SearchResult struct {
	ChunkID      string
	Title        string
	Content      string
	Locator      string
	LastModified time.Time
	RawScore     float64
	Score        float64
}

// EsDocument 定义了存储在 Elasticsearch 中的文档片段结构。
// 由外部的索引流程写入，本服务只读。
type EsDocument struct {
	ChunkID      string    `json:"chunk_id"`
	Title        string    `json:"title"`
	TextContent  string    `json:"text_content"`
	SourceURL    string    `json:"source_url"`
	LastModified time.Time `json:"last_modified"`
	Vector       []float32 `json:"vector,omitempty"`
	AclUserIDs   []string  `json:"acl_user_ids"`
	AclGroupIDs  []string  `json:"acl_group_ids"`
}
