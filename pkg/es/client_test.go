package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"docqa-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_CreatesMissingIndex(t *testing.T) {
	var mu sync.Mutex
	var created map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			_ = json.Unmarshal(body, &created)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"acknowledged":true,"index":"kb"}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	client, err := NewClient(context.Background(), config.ElasticsearchConfig{
		Addresses:   srv.URL,
		IndexName:   "kb",
		CreateIndex: true,
		Dimensions:  8,
	})
	require.NoError(t, err)
	require.NotNil(t, client)

	mu.Lock()
	defer mu.Unlock()
	props := created["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
	assert.Contains(t, props, "acl_user_ids")
	assert.Contains(t, props, "acl_group_ids")
	assert.EqualValues(t, 8, props["vector"].(map[string]interface{})["dims"])
}

func TestEnsureIndex_Existing(t *testing.T) {
	puts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodPut {
			puts++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewClient(context.Background(), config.ElasticsearchConfig{Addresses: srv.URL, IndexName: "kb", CreateIndex: true, Dimensions: 8})
	require.NoError(t, err)
	assert.Zero(t, puts)
}

func TestIndexMapping_ValidJSON(t *testing.T) {
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(IndexMapping(1536)), &m))
}
