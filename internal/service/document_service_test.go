package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/fingerprint"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/repository"
	repomem "aec-rag-go/internal/repository/memory"
	"aec-rag-go/internal/scheduler"
	"aec-rag-go/pkg/storage"
	"aec-rag-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrch struct {
	records repository.PipelineRepository
}

func (f *fakeOrch) Status(ctx context.Context, id string) (*model.PipelineRecord, error) {
	return f.records.Get(ctx, id)
}

func (f *fakeOrch) ResubmitTask(ctx context.Context, id string) (tasks.DocumentTask, error) {
	rec, err := f.records.Get(ctx, id)
	if err != nil {
		return tasks.DocumentTask{}, err
	}
	return tasks.DocumentTask{DocumentID: id, SourceURI: rec.SourceURI, Trigger: tasks.TriggerResubmit, Force: true}, nil
}

func (f *fakeOrch) Tombstone(ctx context.Context, id string) (*model.PipelineRecord, error) {
	rec, err := f.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.State = model.StateTombstoned
	return rec, f.records.Save(ctx, rec)
}

type recordingQueue struct {
	tasks []tasks.DocumentTask
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task tasks.DocumentTask) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type stubScanner struct{ calls int }

func (s *stubScanner) FullScan(context.Context) (scheduler.ScanReport, error) {
	s.calls++
	return scheduler.ScanReport{Trigger: tasks.TriggerFullScan}, nil
}

func newService(t *testing.T) (DocumentService, *repomem.Store, *recordingQueue, *storage.LocalStore) {
	t.Helper()
	store := repomem.NewStore()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	queue := &recordingQueue{}
	svc := NewDocumentService(&fakeOrch{records: store.Pipeline()}, store.Catalog(), queue, local, &stubScanner{})
	return svc, store, queue, local
}

func TestUploadWritesAndEnqueues(t *testing.T) {
	svc, _, queue, local := newService(t)
	res, err := svc.Upload(context.Background(), "Section 03 30 00.md", "structural", strings.NewReader("# Cast-in-place concrete"), 24)
	require.NoError(t, err)

	assert.Equal(t, "structural", res.Category)
	assert.True(t, strings.HasPrefix(res.SourceURI, local.URIFor(local.Root())))
	assert.Equal(t, fingerprint.DocumentID(res.SourceURI), res.DocumentID)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, tasks.TriggerUpload, queue.tasks[0].Trigger)
	assert.Equal(t, res.ContentHash, queue.tasks[0].ContentHash)

	data, err := local.Read(context.Background(), res.SourceURI)
	require.NoError(t, err)
	assert.Equal(t, "# Cast-in-place concrete", string(data))
}

func TestUploadDefaultsCategoryAndStripsPath(t *testing.T) {
	svc, _, queue, _ := newService(t)
	res, err := svc.Upload(context.Background(), `..\..\notes.txt`, "", strings.NewReader("x"), 1)
	require.NoError(t, err)
	assert.Equal(t, scheduler.DefaultCategory, res.Category)
	assert.True(t, strings.HasSuffix(res.SourceURI, "/"+scheduler.DefaultCategory+"/notes.txt"))
	assert.Len(t, queue.tasks, 1)
}

func TestUploadRejectsBadInput(t *testing.T) {
	svc, _, queue, _ := newService(t)
	_, err := svc.Upload(context.Background(), "model.rvt", "", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, apperr.ErrTerminalInput)
	_, err = svc.Upload(context.Background(), "a.md", "../etc", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, apperr.ErrTerminalInput)
	assert.Empty(t, queue.tasks)
}

func TestUploadEnqueueFailure(t *testing.T) {
	svc, _, queue, _ := newService(t)
	queue.err = errors.New("broker down")
	_, err := svc.Upload(context.Background(), "a.md", "", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestStatusIncludesChunks(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()
	_, err := store.Pipeline().Insert(ctx, &model.PipelineRecord{DocumentID: "d1", SourceURI: "file:///x/a.md", State: model.StateIndexing})
	require.NoError(t, err)
	require.NoError(t, store.Catalog().CommitGeneration(ctx, "d1", 1, "h1", []model.ChunkRecord{{ChunkID: "c1", DocumentID: "d1", Generation: 1}}))

	st, err := svc.Status(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ChunkCount)
	assert.Equal(t, model.StateIndexing, st.State)
	assert.Len(t, st.Chunks, 1)

	_, err = svc.Status(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResubmitEnqueuesForcedTask(t *testing.T) {
	svc, store, queue, _ := newService(t)
	ctx := context.Background()
	_, err := store.Pipeline().Insert(ctx, &model.PipelineRecord{DocumentID: "d1", SourceURI: "file:///x/a.md", State: model.StateFailed})
	require.NoError(t, err)

	rec, err := svc.Resubmit(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.DocumentID)
	require.Len(t, queue.tasks, 1)
	assert.True(t, queue.tasks[0].Force)
	assert.Equal(t, tasks.TriggerResubmit, queue.tasks[0].Trigger)

	queue.err = fmt.Errorf("queue closed")
	_, err = svc.Resubmit(ctx, "d1")
	assert.Error(t, err)
}

func TestRescanDelegates(t *testing.T) {
	svc, _, _, _ := newService(t)
	rep, err := svc.Rescan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tasks.TriggerFullScan, rep.Trigger)
}
