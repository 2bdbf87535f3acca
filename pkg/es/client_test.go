package es

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aec-rag-go/internal/model"
	"aec-rag-go/internal/vectorstore"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeES(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, string(body))
	}))
	t.Cleanup(srv.Close)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestPutReportsItemErrors(t *testing.T) {
	client := fakeES(t, func(w http.ResponseWriter, r *http.Request, body string) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/_bulk"))
		assert.Equal(t, "wait_for", r.URL.Query().Get("refresh"))
		assert.Contains(t, body, `"_id":"c1_2"`)
		_, _ = w.Write([]byte(`{"errors":true,"items":[{"index":{"_id":"c1_2","status":400,"error":{"type":"mapper_parsing_exception","reason":"dims mismatch"}}}]}`))
	})
	idx := NewIndex(client, "chunks", vectorstore.Cosine, 2)
	err := idx.Put(t.Context(), []model.IndexedChunk{{EntryID: "c1_2", ChunkID: "c1", Vector: []float32{1, 0}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dims mismatch")
}

func TestDeleteDocumentKeepsGeneration(t *testing.T) {
	client := fakeES(t, func(w http.ResponseWriter, r *http.Request, body string) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chunks/_delete_by_query"))
		var q map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(body), &q))
		boolQ := q["query"].(map[string]interface{})["bool"].(map[string]interface{})
		assert.NotNil(t, boolQ["must_not"])
		_, _ = w.Write([]byte(`{"deleted":3}`))
	})
	idx := NewIndex(client, "chunks", vectorstore.Cosine, 2)
	require.NoError(t, idx.DeleteDocument(t.Context(), "d1", 2))
}

func TestSearchConvertsCosineScore(t *testing.T) {
	client := fakeES(t, func(w http.ResponseWriter, r *http.Request, body string) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chunks/_search"))
		assert.Contains(t, body, `"category":"structural"`)
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_score":0.95,"_source":{"chunk_id":"c1","document_id":"d1","generation":1}},
			{"_score":0.6,"_source":{"chunk_id":"c2","document_id":"d2","generation":1}}
		]}}`))
	})
	idx := NewIndex(client, "chunks", vectorstore.Cosine, 2)
	hits, err := idx.Search(t.Context(), vectorstore.SearchRequest{Vector: []float32{1, 0}, K: 5, Category: "structural", MinSimilarity: 0.35})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.InDelta(t, 0.9, hits[0].Similarity, 1e-9)
}

func TestMappingUsesMetric(t *testing.T) {
	idx := NewIndex(nil, "chunks", vectorstore.Euclidean, 8)
	m := idx.mappingJSON()
	assert.Contains(t, m, `"similarity": "l2_norm"`)
	assert.Contains(t, m, `"dims": 8`)
	var parsed map[string]interface{}
	assert.NoError(t, json.Unmarshal([]byte(m), &parsed))
}
