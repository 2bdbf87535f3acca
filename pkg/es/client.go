// Package es 提供了与 Elasticsearch 交互的客户端功能，并以 dense_vector + knn 实现向量索引。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"aec-rag-go/internal/config"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/vectorstore"
	"aec-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
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
		return err
	}
	ESClient = client
	return nil
}

// Index 是基于 Elasticsearch 的 vectorstore.Index 实现。
type Index struct {
	client *elasticsearch.Client
	name   string
	metric vectorstore.Metric
	dims   int
}

var _ vectorstore.Index = (*Index)(nil)

// NewIndex 创建 Index；调用 EnsureIndex 以创建映射。
func NewIndex(client *elasticsearch.Client, name string, metric vectorstore.Metric, dims int) *Index {
	return &Index{client: client, name: name, metric: metric, dims: dims}
}

func esSimilarity(m vectorstore.Metric) string {
	switch m {
	case vectorstore.DotProduct:
		return "dot_product"
	case vectorstore.Euclidean:
		return "l2_norm"
	default:
		return "cosine"
	}
}

// mappingJSON 生成索引映射。metadata 只存储不索引。
func (x *Index) mappingJSON() string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"entry_id": { "type": "keyword" },
				"chunk_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"generation": { "type": "long" },
				"sequence_index": { "type": "integer" },
				"text": { "type": "text" },
				"token_count": { "type": "integer" },
				"content_hash": { "type": "keyword" },
				"category": { "type": "keyword" },
				"source_uri": { "type": "keyword" },
				"oversized_split": { "type": "boolean" },
				"metadata": { "type": "object", "enabled": false },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": %q
				},
				"model_version": { "type": "keyword" },
				"indexed_at": { "type": "date" }
			}
		}
	}`, x.dims, esSimilarity(x.metric))
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (x *Index) EnsureIndex(ctx context.Context) error {
	res, err := x.client.Indices.Exists([]string{x.name}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", x.name)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = x.client.Indices.Create(
		x.name,
		x.client.Indices.Create.WithContext(ctx),
		x.client.Indices.Create.WithBody(strings.NewReader(x.mappingJSON())),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", x.name, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", x.name, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", x.name)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Put 以一次 bulk 请求写入全部条目，任一条目失败即返回错误。
func (x *Index) Put(ctx context.Context, entries []model.IndexedChunk) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		meta := map[string]map[string]string{"index": {"_index": x.name, "_id": e.EntryID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Body:    &buf,
		Refresh: "wait_for",
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return fmt.Errorf("bulk 请求失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk 返回错误 [%d]: %s", res.StatusCode, body)
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("条目 %s 写入失败: %s: %s", op.ID, op.Error.Type, op.Error.Reason)
				}
			}
		}
		return errors.New("bulk 响应包含错误")
	}
	return nil
}

// DeleteDocument 删除文档中 generation 不等于 keep 的条目；keep 为 0 时删除全部。
func (x *Index) DeleteDocument(ctx context.Context, documentID string, keep int64) error {
	boolQuery := map[string]interface{}{
		"filter": []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"document_id": documentID}},
		},
	}
	if keep > 0 {
		boolQuery["must_not"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"generation": keep}},
		}
	}
	body, err := json.Marshal(map[string]interface{}{"query": map[string]interface{}{"bool": boolQuery}})
	if err != nil {
		return err
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:     []string{x.name},
		Body:      bytes.NewReader(body),
		Conflicts: "proceed",
		Refresh:   &refresh,
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return fmt.Errorf("delete_by_query 请求失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete_by_query 返回错误: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64            `json:"_score"`
			Source model.IndexedChunk `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 执行 knn 检索。Elasticsearch 对 cosine 与 dot_product 返回 (1+s)/2，
// 这里换算回原始相似度；l2_norm 的 1/(1+d²) 直接使用。
func (x *Index) Search(ctx context.Context, req vectorstore.SearchRequest) ([]model.ScoredChunk, error) {
	k := req.K
	if k <= 0 {
		k = 10
	}
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   req.Vector,
		"k":              k,
		"num_candidates": k * 10,
	}
	if req.Category != "" {
		knn["filter"] = map[string]interface{}{"term": map[string]interface{}{"category": req.Category}}
	}
	query := map[string]interface{}{
		"knn":     knn,
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}
	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.name),
		x.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("knn 检索失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("knn 检索返回错误: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}
	hits := make([]model.ScoredChunk, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		sim := x.similarity(h.Score)
		if sim < req.MinSimilarity {
			continue
		}
		hits = append(hits, model.ScoredChunk{IndexedChunk: h.Source, Similarity: sim})
	}
	return hits, nil
}

func (x *Index) similarity(score float64) float64 {
	switch x.metric {
	case vectorstore.Euclidean:
		return score
	default:
		return 2*score - 1
	}
}

// Ping 检查集群是否可达。
func (x *Index) Ping(ctx context.Context) error {
	res, err := x.client.Ping(x.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}
