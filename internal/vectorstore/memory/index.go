// Package memory 是进程内的向量索引实现，用于测试和单机模式。
package memory

import (
	"context"
	"sort"
	"sync"

	"aec-rag-go/internal/model"
	"aec-rag-go/internal/vectorstore"
)

// Index 以暴力扫描方式实现 vectorstore.Index。
type Index struct {
	mu      sync.RWMutex
	metric  vectorstore.Metric
	entries map[string]model.IndexedChunk
	puts    int
}

var _ vectorstore.Index = (*Index)(nil)

// NewIndex 创建一个空索引。
func NewIndex(metric vectorstore.Metric) *Index {
	return &Index{metric: metric, entries: make(map[string]model.IndexedChunk)}
}

func (x *Index) Put(_ context.Context, entries []model.IndexedChunk) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		x.entries[e.EntryID] = e
	}
	x.puts++
	return nil
}

func (x *Index) DeleteDocument(_ context.Context, documentID string, keep int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, e := range x.entries {
		if e.DocumentID == documentID && (keep == 0 || e.Generation != keep) {
			delete(x.entries, id)
		}
	}
	return nil
}

func (x *Index) Search(_ context.Context, req vectorstore.SearchRequest) ([]model.ScoredChunk, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var hits []model.ScoredChunk
	for _, e := range x.entries {
		if req.Category != "" && e.Category != req.Category {
			continue
		}
		sim := vectorstore.Similarity(x.metric, req.Vector, e.Vector)
		if sim < req.MinSimilarity {
			continue
		}
		hits = append(hits, model.ScoredChunk{IndexedChunk: e, Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].EntryID < hits[j].EntryID
	})
	if req.K > 0 && len(hits) > req.K {
		hits = hits[:req.K]
	}
	return hits, nil
}

// Len 返回条目数。
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// DocumentEntries 返回某文档的全部条目（包括未提交的 generation）。
func (x *Index) DocumentEntries(documentID string) []model.IndexedChunk {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []model.IndexedChunk
	for _, e := range x.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// PutCalls 返回 Put 被调用的次数。
func (x *Index) PutCalls() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.puts
}
