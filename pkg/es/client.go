// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"docqa-go/internal/config"
	"docqa-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// NewClient 创建 Elasticsearch 客户端，开启 create_index 时确保索引存在。
func NewClient(ctx context.Context, esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if esCfg.CreateIndex {
		if err := EnsureIndex(ctx, client, esCfg.IndexName, esCfg.Dimensions); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// EnsureIndex 检查索引是否存在，如果不存在则按片段文档结构创建它。
// 文档由外部索引流程写入，这里只保证映射与查询字段一致。
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(IndexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexMapping 返回片段索引的映射，acl_* 字段用于权限过滤。
func IndexMapping(dims int) string {
	return fmt.Sprintf(`{
	"mappings": {
		"properties": {
			"chunk_id": { "type": "keyword" },
			"title": { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"text_content": { "type": "text" },
			"source_url": { "type": "keyword" },
			"last_modified": { "type": "date" },
			"vector": { "type": "dense_vector", "dims": %d, "index": true, "similarity": "cosine" },
			"acl_user_ids": { "type": "keyword" },
			"acl_group_ids": { "type": "keyword" }
		}
	}
}`, dims)
}
