// Package vectorstore 定义向量索引的接口和相似度度量。
package vectorstore

import (
	"context"
	"fmt"
	"math"

	"aec-rag-go/internal/model"
)

// Metric 是相似度度量。
type Metric string

const (
	Cosine     Metric = "cosine"
	DotProduct Metric = "dot_product"
	Euclidean  Metric = "euclidean"
)

// ParseMetric 解析配置中的度量名称。
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Cosine, DotProduct, Euclidean:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unsupported similarity metric %q", s)
}

// SearchRequest 是一次近邻检索。
type SearchRequest struct {
	Vector        []float32
	K             int
	Category      string
	MinSimilarity float64
}

// Index 是向量索引。
// 同一分块的不同 generation 作为独立条目存在，可见性由 indexer 按已提交 generation 过滤。
type Index interface {
	Put(ctx context.Context, entries []model.IndexedChunk) error
	// DeleteDocument 删除文档中 generation 不等于 keep 的条目；keep 为 0 时删除全部。
	DeleteDocument(ctx context.Context, documentID string, keep int64) error
	Search(ctx context.Context, req SearchRequest) ([]model.ScoredChunk, error)
}

// EntryID 是条目在索引中的主键。
func EntryID(chunkID string, generation int64) string {
	return fmt.Sprintf("%s_%d", chunkID, generation)
}

// Similarity 按度量计算两个向量的相似度，值越大越相似。
// 欧氏距离换算为 1/(1+d²)，与 Elasticsearch 的 l2_norm 打分一致。
func Similarity(m Metric, a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(-1)
	}
	switch m {
	case DotProduct:
		return dot(a, b)
	case Euclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1 / (1 + sum)
	default:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(a []float32) float64 {
	return math.Sqrt(dot(a, a))
}
