package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docqa-go/internal/config"
	"docqa-go/internal/errno"
	"docqa-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	token string
	err   error
	calls []string
}

func (f *fakeExchanger) Exchange(_ context.Context, credential, scope string) (*model.DelegatedCredential, error) {
	f.calls = append(f.calls, credential+"|"+scope)
	if f.err != nil {
		return nil, f.err
	}
	return &model.DelegatedCredential{Token: f.token, Scope: scope, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type capturedKB struct {
	path    string
	query   string
	auth    string
	apiKey  string
	request kbRetrieveRequest
}

func newKBServer(t *testing.T, status int, body string) (*httptest.Server, *capturedKB) {
	t.Helper()
	c := &capturedKB{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.path = r.URL.Path
		c.query = r.URL.RawQuery
		c.auth = r.Header.Get("Authorization")
		c.apiKey = r.Header.Get("api-key")
		_ = json.NewDecoder(r.Body).Decode(&c.request)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

const kbBody = `{"references":[
	{"id":"0","type":"remoteSharePoint","rerankerScore":3.2,"sourceData":{"snippet":"Employees receive 25 vacation days.","webUrl":"https://contoso.sharepoint.com/sites/hr/Shared%20Documents/Leave_Policy.docx","lastModified":"2024-03-01T10:00:00Z"}},
	{"id":"1","type":"remoteSharePoint","rerankerScore":1.0,"sourceData":{"title":"Travel Policy","content":"Meals capped at $500/month.","doc_url":"https://contoso.sharepoint.com/sites/fin/Travel.pdf"}},
	{"id":"2","type":"remoteSharePoint","rerankerScore":2.0,"sourceData":{"snippet":""}}
]}`

func TestLiveRemote_UsesDelegatedCredential(t *testing.T) {
	srv, got := newKBServer(t, http.StatusOK, kbBody)
	client := NewKnowledgeBaseClient(config.KnowledgeBaseConfig{Endpoint: srv.URL + "/", APIVersion: "2025-11-01-preview"}, nil)
	ex := &fakeExchanger{token: "delegated-token"}
	b := NewLiveRemoteBackend(client, "remote-kb", "remote-src", "https://docs/.default", ex)

	identity := model.NewIdentity("user-1", "", "", "", nil, "user-token", time.Time{})
	res, err := b.Search(context.Background(), "vacation days", identity, 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"user-token|https://docs/.default"}, ex.calls)
	assert.Equal(t, "Bearer delegated-token", got.auth)
	assert.Empty(t, got.apiKey)
	assert.Equal(t, "/knowledgebases('remote-kb')/retrieve", got.path)
	assert.Equal(t, "api-version=2025-11-01-preview", got.query)
	require.Len(t, got.request.KnowledgeSourceParams, 1)
	assert.Equal(t, "remoteSharePoint", got.request.KnowledgeSourceParams[0].Kind)
	assert.Equal(t, "remote-src", got.request.KnowledgeSourceParams[0].KnowledgeSourceName)
	assert.True(t, got.request.KnowledgeSourceParams[0].IncludeReferenceSourceData)
	assert.Equal(t, "vacation days", got.request.Messages[0].Content[0].Text)

	require.Len(t, res, 2, "references without text are dropped")
	assert.Equal(t, "Leave Policy", res[0].Title)
	assert.InDelta(t, 0.8, res[0].Score, 1e-9)
	assert.Equal(t, 2024, res[0].LastModified.Year())
	assert.Equal(t, "Travel Policy", res[1].Title)
	assert.Equal(t, "https://contoso.sharepoint.com/sites/fin/Travel.pdf", res[1].Locator)
}

func TestLiveRemote_ExchangeFailureFailsClosed(t *testing.T) {
	srv, got := newKBServer(t, http.StatusOK, kbBody)
	client := NewKnowledgeBaseClient(config.KnowledgeBaseConfig{Endpoint: srv.URL}, nil)
	b := NewLiveRemoteBackend(client, "kb", "src", "scope", &fakeExchanger{err: errno.ErrExchangeFailed})

	identity := model.NewIdentity("user-1", "", "", "", nil, "user-token", time.Time{})
	_, err := b.Search(context.Background(), "q", identity, 5)
	assert.ErrorIs(t, err, errno.ErrExchangeFailed)
	assert.Empty(t, got.path, "no request is sent without a delegated credential")

	_, err = b.Search(context.Background(), "q", model.NewIdentity("user-1", "", "", "", nil, "", time.Time{}), 5)
	assert.Error(t, err)

	guarded := Guard(LiveRemote, b, time.Second)
	_, err = guarded.Search(context.Background(), "q", identity, 5)
	assert.ErrorIs(t, err, errno.ErrRetrievalUnavailable)
}

func TestIndexedKB_UsesServiceKey(t *testing.T) {
	srv, got := newKBServer(t, http.StatusOK, `{"references":[]}`)
	client := NewKnowledgeBaseClient(config.KnowledgeBaseConfig{Endpoint: srv.URL, APIVersion: "v1"}, nil)
	b := NewIndexedKBBackend(client, "indexed-kb", "indexed-src", "secret-key")

	res, err := b.Search(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, "secret-key", got.apiKey)
	assert.Empty(t, got.auth)
	assert.Equal(t, "indexedSharePoint", got.request.KnowledgeSourceParams[0].Kind)
}

func TestIndexedKB_ServerError(t *testing.T) {
	srv, _ := newKBServer(t, http.StatusServiceUnavailable, `{"error":"down"}`)
	client := NewKnowledgeBaseClient(config.KnowledgeBaseConfig{Endpoint: srv.URL}, nil)
	b := NewIndexedKBBackend(client, "kb", "src", "k")

	_, err := b.Search(context.Background(), "q", nil, 5)
	assert.Error(t, err)
}

func TestTitleFromLocator(t *testing.T) {
	cases := map[string]string{
		"https://x/sites/hr/Shared%20Documents/Leave_Policy.docx": "Leave Policy",
		"https://x/a/Travel_Policy_2024.pdf":                      "Travel Policy 2024",
		"minio://docs/handbook/Code_of_Conduct.md":                "Code of Conduct",
		"https://x/folder/":                                       "folder",
		"":                                                        "Untitled document",
	}
	for in, want := range cases {
		assert.Equal(t, want, TitleFromLocator(in), in)
	}
}

func TestToSearchResult_ScoreScales(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	cases := []struct {
		name string
		ref  kbReference
		want float64
	}{
		{"reranker", kbReference{RerankerScore: f(3.0), Score: f(9.0)}, 0.75},
		{"retrieval score only", kbReference{Score: f(3.0)}, 0.75},
		{"large retrieval score stays below one", kbReference{Score: f(19.0)}, 0.95},
		{"no score", kbReference{}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.ref.SourceData.Snippet = "text"
			r, ok := toSearchResult(c.ref)
			require.True(t, ok)
			assert.InDelta(t, c.want, r.Score, 1e-9)
		})
	}
}
