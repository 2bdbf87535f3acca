package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aec-rag-go/internal/fingerprint"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/provider"
	"aec-rag-go/internal/repository"
	repomem "aec-rag-go/internal/repository/memory"
	"aec-rag-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	objects []provider.ObjectInfo
}

func (f *fakeSource) Name() string { return "minio://docs" }

func (f *fakeSource) ListChangedSince(_ context.Context, since time.Time) ([]provider.ObjectInfo, error) {
	var out []provider.ObjectInfo
	for _, o := range f.objects {
		if since.IsZero() || !o.ModifiedAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeSource) Read(context.Context, string) ([]byte, error) { return nil, nil }

func (f *fakeSource) Stat(_ context.Context, uri string) (provider.ObjectInfo, error) {
	for _, o := range f.objects {
		if o.URI == uri {
			return o, nil
		}
	}
	return provider.ObjectInfo{}, provider.ErrObjectNotFound
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []tasks.DocumentTask
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, t tasks.DocumentTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

type fakeTombstoner struct {
	ids   []string
	known map[string]bool
}

func (f *fakeTombstoner) Tombstone(_ context.Context, id string) (*model.PipelineRecord, error) {
	if !f.known[id] {
		return nil, repository.ErrNotFound
	}
	f.ids = append(f.ids, id)
	return &model.PipelineRecord{DocumentID: id, State: model.StateTombstoned}, nil
}

func object(key, hash string, modified time.Time) provider.ObjectInfo {
	return provider.ObjectInfo{URI: "minio://docs/" + key, Key: key, ContentHash: hash, ModifiedAt: modified}
}

type fixture struct {
	repo    *repomem.Store
	source  *fakeSource
	queue   *fakeQueue
	tomb    *fakeTombstoner
	scanner *Scanner
}

func newFixture(objects ...provider.ObjectInfo) *fixture {
	f := &fixture{
		repo:   repomem.NewStore(),
		source: &fakeSource{objects: objects},
		queue:  &fakeQueue{},
		tomb:   &fakeTombstoner{known: map[string]bool{}},
	}
	f.scanner = NewScanner(f.source, f.repo.Pipeline(), f.repo.Watermarks(), f.queue, f.tomb, Options{StaleAfter: 15 * time.Minute})
	return f
}

func (f *fixture) seed(t *testing.T, rec *model.PipelineRecord) {
	t.Helper()
	_, err := f.repo.Pipeline().Insert(context.Background(), rec)
	require.NoError(t, err)
	f.tomb.known[rec.DocumentID] = true
}

func TestFullScanEnqueuesOnlyNewAndChanged(t *testing.T) {
	now := time.Now()
	f := newFixture(
		object("structural/beams.pdf", "h1", now),
		object("mep/ducts.pdf", "h2", now),
		object("arch/doors.pdf", "h3-new", now),
	)
	f.seed(t, &model.PipelineRecord{DocumentID: fingerprint.DocumentID("minio://docs/mep/ducts.pdf"), SourceURI: "minio://docs/mep/ducts.pdf",
		ContentHash: "h2", IndexedHash: "h2", CommittedGeneration: 1, State: model.StateIndexed})
	f.seed(t, &model.PipelineRecord{DocumentID: fingerprint.DocumentID("minio://docs/arch/doors.pdf"), SourceURI: "minio://docs/arch/doors.pdf",
		ContentHash: "h3", IndexedHash: "h3", CommittedGeneration: 1, State: model.StateIndexed})

	report, err := f.scanner.FullScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Listed)
	assert.Equal(t, 2, report.Enqueued)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, report.Errors)

	require.Len(t, f.queue.tasks, 2)
	uris := []string{f.queue.tasks[0].SourceURI, f.queue.tasks[1].SourceURI}
	assert.ElementsMatch(t, []string{"minio://docs/structural/beams.pdf", "minio://docs/arch/doors.pdf"}, uris)
	for _, task := range f.queue.tasks {
		assert.Equal(t, tasks.TriggerFullScan, task.Trigger)
		assert.False(t, task.Force)
	}
	assert.Equal(t, "structural", f.queue.tasks[0].Category)

	wm, err := f.repo.Watermarks().Load(context.Background(), "minio://docs")
	require.NoError(t, err)
	assert.Equal(t, report.StartedAt, wm)
}

func TestFullScanTombstonesVanishedDocuments(t *testing.T) {
	f := newFixture()
	gone := fingerprint.DocumentID("minio://docs/old/spec.pdf")
	f.seed(t, &model.PipelineRecord{DocumentID: gone, SourceURI: "minio://docs/old/spec.pdf", State: model.StateIndexed})

	report, err := f.scanner.FullScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tombstoned)
	assert.Equal(t, []string{gone}, f.tomb.ids)
	assert.Empty(t, f.queue.tasks)
}

func TestFullScanSkipsUnreadableObject(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	broken := object("mep/locked.pdf", "", base)
	broken.Err = errors.New("access denied")
	f := newFixture(object("structural/beams.pdf", "h1", base), broken)
	lockedID := fingerprint.DocumentID("minio://docs/mep/locked.pdf")
	f.seed(t, &model.PipelineRecord{DocumentID: lockedID, SourceURI: "minio://docs/mep/locked.pdf",
		ContentHash: "h9", IndexedHash: "h9", CommittedGeneration: 1, State: model.StateIndexed})
	require.NoError(t, f.repo.Watermarks().Save(ctx, "minio://docs", base))

	report, err := f.scanner.FullScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Listed)
	assert.Equal(t, 1, report.Enqueued)
	assert.Equal(t, 1, report.Errors)
	assert.Zero(t, report.Tombstoned)
	assert.Empty(t, f.tomb.ids)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "minio://docs/structural/beams.pdf", f.queue.tasks[0].SourceURI)

	wm, err := f.repo.Watermarks().Load(ctx, "minio://docs")
	require.NoError(t, err)
	assert.Equal(t, base, wm)
}

func TestIncrementalScanUsesWatermark(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(
		object("a/old.pdf", "h1", base.Add(-time.Hour)),
		object("a/new.pdf", "h2", base.Add(time.Minute)),
	)
	require.NoError(t, f.repo.Watermarks().Save(ctx, "minio://docs", base))

	report, err := f.scanner.IncrementalScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Listed)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "minio://docs/a/new.pdf", f.queue.tasks[0].SourceURI)
	assert.Equal(t, tasks.TriggerIncremental, f.queue.tasks[0].Trigger)
	assert.Equal(t, "h2", f.queue.tasks[0].ContentHash)

	wm, err := f.repo.Watermarks().Load(ctx, "minio://docs")
	require.NoError(t, err)
	assert.True(t, wm.After(base))
}

func TestScanKeepsWatermarkOnEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(object("a/new.pdf", "h2", base.Add(time.Minute)))
	require.NoError(t, f.repo.Watermarks().Save(ctx, "minio://docs", base))
	f.queue.err = errors.New("broker unavailable")

	report, err := f.scanner.IncrementalScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)

	wm, err := f.repo.Watermarks().Load(ctx, "minio://docs")
	require.NoError(t, err)
	assert.Equal(t, base, wm)
}

func TestReconcileRequeuesStaleRecords(t *testing.T) {
	f := newFixture()
	f.seed(t, &model.PipelineRecord{DocumentID: "stuck", SourceURI: "minio://docs/a/stuck.pdf", State: model.StateEmbedding, Category: "a"})
	f.seed(t, &model.PipelineRecord{DocumentID: "done", SourceURI: "minio://docs/a/done.pdf", State: model.StateIndexed})
	f.scanner.now = func() time.Time { return time.Now().Add(time.Hour) }

	report := ScanReport{}
	f.scanner.reconcile(context.Background(), &report)
	assert.Equal(t, 1, report.Reconciled)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "stuck", f.queue.tasks[0].DocumentID)
	assert.Equal(t, tasks.TriggerReconcile, f.queue.tasks[0].Trigger)
}

func TestReconcileIgnoresFreshRecords(t *testing.T) {
	f := newFixture()
	f.seed(t, &model.PipelineRecord{DocumentID: "busy", SourceURI: "minio://docs/a/busy.pdf", State: model.StateExtracting})

	report := ScanReport{}
	f.scanner.reconcile(context.Background(), &report)
	assert.Zero(t, report.Reconciled)
	assert.Empty(t, f.queue.tasks)
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(object("structural/beams.pdf", "h1", time.Now()))

	require.NoError(t, f.scanner.HandleEvent(ctx, provider.ObjectEvent{URI: "minio://docs/structural/beams.pdf", Kind: provider.ObjectUpserted}))
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, tasks.TriggerEvent, f.queue.tasks[0].Trigger)
	assert.Equal(t, "structural", f.queue.tasks[0].Category)

	removed := fingerprint.DocumentID("minio://docs/mep/ducts.pdf")
	f.tomb.known[removed] = true
	require.NoError(t, f.scanner.HandleEvent(ctx, provider.ObjectEvent{URI: "minio://docs/mep/ducts.pdf", Kind: provider.ObjectRemoved}))
	assert.Equal(t, []string{removed}, f.tomb.ids)

	// 从未见过的对象被删除时什么都不做。
	require.NoError(t, f.scanner.HandleEvent(ctx, provider.ObjectEvent{URI: "minio://docs/x/y.pdf", Kind: provider.ObjectRemoved}))
	// 事件到达时对象已不存在，按删除处理。
	require.NoError(t, f.scanner.HandleEvent(ctx, provider.ObjectEvent{URI: "minio://docs/x/z.pdf", Kind: provider.ObjectUpserted}))
	assert.Len(t, f.queue.tasks, 1)
}

func TestNeedsProcessing(t *testing.T) {
	obj := provider.ObjectInfo{URI: "u", ContentHash: "h"}
	cases := []struct {
		name string
		rec  *model.PipelineRecord
		want bool
	}{
		{"new", nil, true},
		{"indexed unchanged", &model.PipelineRecord{State: model.StateIndexed, ContentHash: "h", IndexedHash: "h"}, false},
		{"indexed changed", &model.PipelineRecord{State: model.StateIndexed, ContentHash: "old", IndexedHash: "old"}, true},
		{"failed unchanged", &model.PipelineRecord{State: model.StateFailed, ContentHash: "h"}, false},
		{"failed changed", &model.PipelineRecord{State: model.StateFailed, ContentHash: "old"}, true},
		{"tombstoned", &model.PipelineRecord{State: model.StateTombstoned, ContentHash: "h"}, true},
		{"in progress", &model.PipelineRecord{State: model.StateEmbedding, ContentHash: "h"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, needsProcessing(c.rec, obj))
		})
	}
}

func TestCategoryFromKey(t *testing.T) {
	assert.Equal(t, "structural", CategoryFromKey("structural/level2/beams.pdf", 0))
	assert.Equal(t, "level2", CategoryFromKey("structural/level2/beams.pdf", -1))
	assert.Equal(t, "structural", CategoryFromKey("/structural/level2/beams.pdf", -2))
	assert.Equal(t, DefaultCategory, CategoryFromKey("beams.pdf", 0))
	assert.Equal(t, DefaultCategory, CategoryFromKey("a/b.pdf", 3))
}
