package memory

import (
	"context"
	"testing"
	"time"

	"aec-rag-go/internal/model"
	"aec-rag-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Pipeline()

	created, err := repo.Insert(ctx, &model.PipelineRecord{DocumentID: "d1", State: model.StateDiscovered})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Insert(ctx, &model.PipelineRecord{DocumentID: "d1", State: model.StateFailed})
	require.NoError(t, err)
	assert.False(t, created)

	rec, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StateDiscovered, rec.State)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Pipeline()
	_, err := repo.Insert(ctx, &model.PipelineRecord{DocumentID: "d1", State: model.StateDiscovered})
	require.NoError(t, err)

	rec, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	rec.State = model.StateIndexed

	assert.Equal(t, model.StateDiscovered, s.Record("d1").State)
}

func TestCommitGenerationUpdatesRecord(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.Pipeline().Insert(ctx, &model.PipelineRecord{DocumentID: "d1", State: model.StateIndexing})
	require.NoError(t, err)

	cat := s.Catalog()
	require.NoError(t, cat.CommitGeneration(ctx, "d1", 3, "h1", []model.ChunkRecord{
		{ChunkID: "c2", DocumentID: "d1", Generation: 3, SequenceIndex: 1},
		{ChunkID: "c1", DocumentID: "d1", Generation: 3, SequenceIndex: 0},
	}))

	rec := s.Record("d1")
	assert.Equal(t, int64(3), rec.CommittedGeneration)
	assert.Equal(t, "h1", rec.IndexedHash)
	assert.Equal(t, 2, rec.ChunkCount)

	chunks, err := cat.ListChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].ChunkID)

	gens, err := cat.CommittedGenerations(ctx, []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"d1": 3}, gens)

	require.NoError(t, cat.ClearGeneration(ctx, "d1"))
	assert.Zero(t, s.Record("d1").CommittedGeneration)
	chunks, err = cat.ListChunks(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.ErrorIs(t, cat.CommitGeneration(ctx, "nope", 1, "h", nil), repository.ErrNotFound)
}

func TestListFiltersByState(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Pipeline()
	for id, st := range map[string]model.State{
		"a": model.StateIndexed,
		"b": model.StateEmbedding,
		"c": model.StateTombstoned,
		"d": model.StateRetrying,
	} {
		_, err := repo.Insert(ctx, &model.PipelineRecord{DocumentID: id, State: st})
		require.NoError(t, err)
	}

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "a", active[0].DocumentID)

	pending, err := repo.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].DocumentID)
	assert.Equal(t, "d", pending[1].DocumentID)
}

func TestWatermarks(t *testing.T) {
	ctx := context.Background()
	w := NewStore().Watermarks()
	wm, err := w.Load(ctx, "minio")
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	now := time.Now()
	require.NoError(t, w.Save(ctx, "minio", now))
	wm, err = w.Load(ctx, "minio")
	require.NoError(t, err)
	assert.True(t, now.Equal(wm))
}

func TestNextGenerationSurvivesClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.Pipeline().Insert(ctx, &model.PipelineRecord{DocumentID: "d1", State: model.StateIndexing})
	require.NoError(t, err)
	cat := s.Catalog()

	gen, err := cat.NextGeneration(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	require.NoError(t, cat.CommitGeneration(ctx, "d1", gen, "v1", nil))

	// 分配后未提交的 generation 也不会再次分配。
	gen, err = cat.NextGeneration(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	require.NoError(t, cat.ClearGeneration(ctx, "d1"))
	gen, err = cat.NextGeneration(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), gen)

	_, err = cat.NextGeneration(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
