package indexer

import (
	"context"
	"errors"
	"sort"
	"testing"

	"aec-rag-go/internal/model"
	repomem "aec-rag-go/internal/repository/memory"
	"aec-rag-go/internal/vectorstore"
	"aec-rag-go/internal/vectorstore/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyIndex struct {
	*memory.Index
	failPut    bool
	failDelete bool
}

func (f *flakyIndex) Put(ctx context.Context, entries []model.IndexedChunk) error {
	if f.failPut {
		// 模拟写了一半后失败。
		_ = f.Index.Put(ctx, entries[:1])
		return errors.New("bulk rejected")
	}
	return f.Index.Put(ctx, entries)
}

func (f *flakyIndex) DeleteDocument(ctx context.Context, documentID string, keep int64) error {
	if f.failDelete {
		return errors.New("delete_by_query timeout")
	}
	return f.Index.DeleteDocument(ctx, documentID, keep)
}

func chunks(texts ...string) []model.Chunk {
	out := make([]model.Chunk, len(texts))
	for i, t := range texts {
		out[i] = model.Chunk{
			ChunkID:       t,
			SequenceIndex: i,
			Text:          t,
			ContentHash:   "h-" + t,
			Embedding:     []float32{1, float32(i)},
		}
	}
	return out
}

func setup(t *testing.T) (*repomem.Store, *flakyIndex, *Writer, *Reader, *model.PipelineRecord) {
	t.Helper()
	store := repomem.NewStore()
	rec := &model.PipelineRecord{DocumentID: "d1", SourceURI: "minio://docs/a.pdf", ContentHash: "v1", State: model.StateIndexing}
	_, err := store.Pipeline().Insert(context.Background(), rec)
	require.NoError(t, err)
	idx := &flakyIndex{Index: memory.NewIndex(vectorstore.Cosine)}
	return store, idx, NewWriter(idx, store.Catalog(), "test-embed"), NewReader(idx, store.Catalog()), rec
}

func search(t *testing.T, r *Reader) []model.ScoredChunk {
	t.Helper()
	hits, err := r.Search(context.Background(), vectorstore.SearchRequest{Vector: []float32{1, 0}, K: 10, MinSimilarity: -1})
	require.NoError(t, err)
	return hits
}

func TestUpsertPublishesNewGeneration(t *testing.T) {
	store, idx, w, r, rec := setup(t)
	ctx := context.Background()

	gen, err := w.UpsertDocument(ctx, rec, chunks("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Len(t, search(t, r), 2)

	rec = store.Record("d1")
	rec.ContentHash = "v2"
	gen, err = w.UpsertDocument(ctx, rec, chunks("x", "y", "z"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	hits := search(t, r)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Equal(t, int64(2), h.Generation)
		assert.Equal(t, "test-embed", h.ModelVersion)
	}
	assert.Len(t, idx.DocumentEntries("d1"), 3)
	assert.Equal(t, "v2", store.Record("d1").IndexedHash)
}

func TestFailedPutKeepsPreviousGenerationVisible(t *testing.T) {
	store, idx, w, r, rec := setup(t)
	ctx := context.Background()

	_, err := w.UpsertDocument(ctx, rec, chunks("a", "b"))
	require.NoError(t, err)

	idx.failPut = true
	_, err = w.UpsertDocument(ctx, store.Record("d1"), chunks("x", "y", "z"))
	require.Error(t, err)

	hits := search(t, r)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, int64(1), h.Generation)
	}
	// 半写入的条目仍在索引中，只是不可见。
	assert.Len(t, idx.DocumentEntries("d1"), 3)
	assert.Equal(t, int64(1), store.Record("d1").CommittedGeneration)
}

func TestFailedCleanupStillCommits(t *testing.T) {
	store, idx, w, r, rec := setup(t)
	ctx := context.Background()

	_, err := w.UpsertDocument(ctx, rec, chunks("a"))
	require.NoError(t, err)
	idx.failDelete = true
	gen, err := w.UpsertDocument(ctx, store.Record("d1"), chunks("b"))
	require.NoError(t, err)

	hits := search(t, r)
	require.Len(t, hits, 1)
	assert.Equal(t, gen, hits[0].Generation)
	assert.Len(t, idx.DocumentEntries("d1"), 2)
}

func TestPruneHidesDocument(t *testing.T) {
	_, idx, w, r, rec := setup(t)
	ctx := context.Background()

	_, err := w.UpsertDocument(ctx, rec, chunks("a", "b"))
	require.NoError(t, err)
	require.NoError(t, w.PruneDocument(ctx, "d1"))
	assert.Empty(t, search(t, r))
	assert.Empty(t, idx.DocumentEntries("d1"))
}

func TestUpsertRejectsMissingEmbedding(t *testing.T) {
	_, _, w, _, rec := setup(t)
	cs := chunks("a")
	cs[0].Embedding = nil
	_, err := w.UpsertDocument(context.Background(), rec, cs)
	assert.Error(t, err)
}

func visibleIDs(t *testing.T, r *Reader) []string {
	t.Helper()
	var ids []string
	for _, h := range search(t, r) {
		ids = append(ids, h.ChunkID)
	}
	sort.Strings(ids)
	return ids
}

func TestRetryAfterFailedPutHidesAbandonedEntries(t *testing.T) {
	store, idx, w, r, rec := setup(t)
	ctx := context.Background()

	_, err := w.UpsertDocument(ctx, rec, chunks("a"))
	require.NoError(t, err)

	// 第二个版本写入一半失败，留下 x。
	idx.failPut = true
	rec = store.Record("d1")
	rec.ContentHash = "v2"
	_, err = w.UpsertDocument(ctx, rec, chunks("x", "y"))
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, visibleIDs(t, r))

	// 内容再次变化后重新发布。
	idx.failPut = false
	idx.failDelete = true
	rec = store.Record("d1")
	rec.ContentHash = "v3"
	gen, err := w.UpsertDocument(ctx, rec, chunks("z"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), gen)
	assert.Equal(t, []string{"z"}, visibleIDs(t, r))

	idx.failDelete = false
	_, err = w.UpsertDocument(ctx, store.Record("d1"), chunks("z"))
	require.NoError(t, err)
	assert.Len(t, idx.DocumentEntries("d1"), 1)
}

func TestReappearAfterFailedPruneUsesFreshGeneration(t *testing.T) {
	store, idx, w, r, rec := setup(t)
	ctx := context.Background()

	_, err := w.UpsertDocument(ctx, rec, chunks("old0", "old1"))
	require.NoError(t, err)

	idx.failDelete = true
	require.NoError(t, w.PruneDocument(ctx, "d1"))
	assert.Empty(t, visibleIDs(t, r))
	assert.Len(t, idx.DocumentEntries("d1"), 2)

	rec = store.Record("d1")
	rec.ContentHash = "v2"
	gen, err := w.UpsertDocument(ctx, rec, chunks("new0"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
	assert.Equal(t, []string{"new0"}, visibleIDs(t, r))
}
