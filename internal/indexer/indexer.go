// Package indexer 负责把一次处理的分块原子地发布到向量索引，以及按已提交的 generation 过滤检索结果。
//
// 写入顺序：
//  1. 以新的 generation 写入全部条目（此时读者不可见）；
//  2. 在 catalog 事务中切换 committed_generation；
//  3. 尽力删除旧 generation 的条目。
//
// 第 1 步失败时旧 generation 依然完整可见；第 3 步失败只会留下被过滤掉的孤儿条目。
package indexer

import (
	"context"
	"fmt"
	"time"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/repository"
	"aec-rag-go/internal/vectorstore"
	"aec-rag-go/pkg/log"
)

// overfetch 是检索时的放大倍数，用于抵消被 generation 过滤掉的条目。
const overfetch = 3

// Writer 发布文档的分块集合。
type Writer struct {
	index        vectorstore.Index
	catalog      repository.ChunkCatalog
	modelVersion string
}

// NewWriter 创建 Writer。
func NewWriter(index vectorstore.Index, catalog repository.ChunkCatalog, modelVersion string) *Writer {
	return &Writer{index: index, catalog: catalog, modelVersion: modelVersion}
}

// UpsertDocument 以新分配的 generation 发布 chunks 并返回它。
// generation 由 catalog 单调分配，从不复用。
// 返回 nil 时新 generation 已对读者可见。
func (w *Writer) UpsertDocument(ctx context.Context, rec *model.PipelineRecord, chunks []model.Chunk) (int64, error) {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return 0, fmt.Errorf("chunk %s has no embedding: %w", c.ChunkID, apperr.ErrConsistency)
		}
	}
	gen, err := w.catalog.NextGeneration(ctx, rec.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("分配 generation 失败: %w", err)
	}
	rec.GenerationSeq = gen
	now := time.Now()

	entries := make([]model.IndexedChunk, 0, len(chunks))
	rows := make([]model.ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, model.IndexedChunk{
			EntryID:        vectorstore.EntryID(c.ChunkID, gen),
			ChunkID:        c.ChunkID,
			DocumentID:     rec.DocumentID,
			Generation:     gen,
			SequenceIndex:  c.SequenceIndex,
			Text:           c.Text,
			TokenCount:     c.TokenCount,
			ContentHash:    c.ContentHash,
			Category:       rec.Category,
			SourceURI:      rec.SourceURI,
			OversizedSplit: c.OversizedSplit,
			Metadata:       c.Metadata,
			Vector:         c.Embedding,
			ModelVersion:   w.modelVersion,
			IndexedAt:      now,
		})
		rows = append(rows, model.ChunkRecord{
			ChunkID:        c.ChunkID,
			DocumentID:     rec.DocumentID,
			Generation:     gen,
			SequenceIndex:  c.SequenceIndex,
			TokenCount:     c.TokenCount,
			ContentHash:    c.ContentHash,
			OversizedSplit: c.OversizedSplit,
		})
	}

	if len(entries) > 0 {
		if err := w.index.Put(ctx, entries); err != nil {
			return 0, fmt.Errorf("写入向量索引失败: %w", err)
		}
	}
	if err := w.catalog.CommitGeneration(ctx, rec.DocumentID, gen, rec.ContentHash, rows); err != nil {
		return 0, fmt.Errorf("提交 generation %d 失败: %w", gen, err)
	}

	if err := w.index.DeleteDocument(ctx, rec.DocumentID, gen); err != nil {
		log.Warnf("[Indexer] 清理文档 %s 的旧 generation 失败，将在下次写入时重试: %v", rec.DocumentID, err)
	}
	return gen, nil
}

// PruneDocument 让文档对读者不可见并删除其全部条目。
func (w *Writer) PruneDocument(ctx context.Context, documentID string) error {
	if err := w.catalog.ClearGeneration(ctx, documentID); err != nil {
		return fmt.Errorf("清除文档 %s 的已提交 generation 失败: %w", documentID, err)
	}
	if err := w.index.DeleteDocument(ctx, documentID, 0); err != nil {
		log.Warnf("[Indexer] 删除文档 %s 的索引条目失败: %v", documentID, err)
	}
	return nil
}

// Reader 只返回属于已提交 generation 的条目。
type Reader struct {
	index   vectorstore.Index
	catalog repository.ChunkCatalog
}

// NewReader 创建 Reader。
func NewReader(index vectorstore.Index, catalog repository.ChunkCatalog) *Reader {
	return &Reader{index: index, catalog: catalog}
}

// Search 执行检索并丢弃未提交或已过期 generation 的命中。
func (r *Reader) Search(ctx context.Context, req vectorstore.SearchRequest) ([]model.ScoredChunk, error) {
	want := req.K
	if req.K > 0 {
		req.K *= overfetch
	}
	hits, err := r.index.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return hits, nil
	}

	ids := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.DocumentID]; !ok {
			seen[h.DocumentID] = struct{}{}
			ids = append(ids, h.DocumentID)
		}
	}
	committed, err := r.catalog.CommittedGenerations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("读取已提交 generation 失败: %w", err)
	}

	visible := hits[:0]
	for _, h := range hits {
		if gen, ok := committed[h.DocumentID]; ok && gen > 0 && gen == h.Generation {
			visible = append(visible, h)
		}
	}
	if want > 0 && len(visible) > want {
		visible = visible[:want]
	}
	return visible, nil
}
