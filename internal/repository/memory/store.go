// Package memory 提供 repository 接口的进程内实现，供单元测试和无数据库的本地运行使用。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"aec-rag-go/internal/model"
	"aec-rag-go/internal/repository"
)

// Store 保存所有记录，并按文档记录每次 Save 的状态序列。
type Store struct {
	mu         sync.Mutex
	records    map[string]*model.PipelineRecord
	chunks     map[string][]model.ChunkRecord
	watermarks map[string]time.Time
	history    map[string][]model.State
	saves      int
}

// NewStore 创建一个空的 Store。
func NewStore() *Store {
	return &Store{
		records:    make(map[string]*model.PipelineRecord),
		chunks:     make(map[string][]model.ChunkRecord),
		watermarks: make(map[string]time.Time),
		history:    make(map[string][]model.State),
	}
}

// Pipeline 返回基于该 Store 的 PipelineRepository。
func (s *Store) Pipeline() repository.PipelineRepository { return &pipelineRepo{s} }

// Catalog 返回基于该 Store 的 ChunkCatalog。
func (s *Store) Catalog() repository.ChunkCatalog { return &catalog{s} }

// Watermarks 返回基于该 Store 的 WatermarkRepository。
func (s *Store) Watermarks() repository.WatermarkRepository { return &watermarks{s} }

// History 返回文档经历过的状态序列（按写入顺序）。
func (s *Store) History(documentID string) []model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.State(nil), s.history[documentID]...)
}

// SaveCount 返回 Save 和 Insert 的累计调用次数。
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Record 直接读取记录副本，不存在时返回 nil。
func (s *Store) Record(documentID string) *model.PipelineRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[documentID]
	if !ok {
		return nil
	}
	return clone(rec)
}

func clone(rec *model.PipelineRecord) *model.PipelineRecord {
	cp := *rec
	if rec.LastError != nil {
		msg := *rec.LastError
		cp.LastError = &msg
	}
	if rec.NextAttemptAt != nil {
		at := *rec.NextAttemptAt
		cp.NextAttemptAt = &at
	}
	return &cp
}

type pipelineRepo struct{ s *Store }

func (r *pipelineRepo) Insert(_ context.Context, rec *model.PipelineRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.records[rec.DocumentID]; ok {
		return false, nil
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	r.s.records[rec.DocumentID] = clone(rec)
	r.s.history[rec.DocumentID] = append(r.s.history[rec.DocumentID], rec.State)
	r.s.saves++
	return true, nil
}

func (r *pipelineRepo) Get(_ context.Context, documentID string) (*model.PipelineRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[documentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(rec), nil
}

func (r *pipelineRepo) Save(_ context.Context, rec *model.PipelineRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec.UpdatedAt = time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	r.s.records[rec.DocumentID] = clone(rec)
	r.s.history[rec.DocumentID] = append(r.s.history[rec.DocumentID], rec.State)
	r.s.saves++
	return nil
}

func (r *pipelineRepo) list(keep func(*model.PipelineRecord) bool) []*model.PipelineRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PipelineRecord
	for _, rec := range r.s.records {
		if keep(rec) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

func (r *pipelineRepo) ListActive(_ context.Context) ([]*model.PipelineRecord, error) {
	return r.list(func(rec *model.PipelineRecord) bool { return rec.State != model.StateTombstoned }), nil
}

func (r *pipelineRepo) ListNonTerminal(_ context.Context) ([]*model.PipelineRecord, error) {
	return r.list(func(rec *model.PipelineRecord) bool { return !rec.State.Terminal() }), nil
}

type catalog struct{ s *Store }

func (c *catalog) NextGeneration(_ context.Context, documentID string) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	rec, ok := c.s.records[documentID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if rec.CommittedGeneration > rec.GenerationSeq {
		rec.GenerationSeq = rec.CommittedGeneration
	}
	rec.GenerationSeq++
	return rec.GenerationSeq, nil
}

func (c *catalog) CommitGeneration(_ context.Context, documentID string, generation int64, contentHash string, chunks []model.ChunkRecord) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	rec, ok := c.s.records[documentID]
	if !ok {
		return repository.ErrNotFound
	}
	c.s.chunks[documentID] = append([]model.ChunkRecord(nil), chunks...)
	rec.CommittedGeneration = generation
	rec.IndexedHash = contentHash
	rec.ChunkCount = len(chunks)
	return nil
}

func (c *catalog) ClearGeneration(_ context.Context, documentID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	delete(c.s.chunks, documentID)
	if rec, ok := c.s.records[documentID]; ok {
		rec.CommittedGeneration = 0
		rec.IndexedHash = ""
		rec.ChunkCount = 0
	}
	return nil
}

func (c *catalog) CommittedGenerations(_ context.Context, documentIDs []string) (map[string]int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := make(map[string]int64, len(documentIDs))
	for _, id := range documentIDs {
		if rec, ok := c.s.records[id]; ok && rec.State != model.StateTombstoned {
			out[id] = rec.CommittedGeneration
		}
	}
	return out, nil
}

func (c *catalog) ListChunks(_ context.Context, documentID string) ([]model.ChunkRecord, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := append([]model.ChunkRecord(nil), c.s.chunks[documentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out, nil
}

type watermarks struct{ s *Store }

func (w *watermarks) Load(_ context.Context, source string) (time.Time, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.s.watermarks[source], nil
}

func (w *watermarks) Save(_ context.Context, source string, watermark time.Time) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.watermarks[source] = watermark
	return nil
}
