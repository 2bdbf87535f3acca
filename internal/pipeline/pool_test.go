package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aec-rag-go/internal/model"
	"aec-rag-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProcessor struct {
	mu      sync.Mutex
	seen    map[string]int
	active  int32
	peak    int32
	panicOn string
}

func (p *countingProcessor) Process(_ context.Context, task tasks.DocumentTask) (*model.PipelineRecord, error) {
	n := atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if task.DocumentID == p.panicOn {
		panic("extractor crashed")
	}
	p.mu.Lock()
	p.seen[task.DocumentID]++
	p.mu.Unlock()
	return &model.PipelineRecord{DocumentID: task.DocumentID, State: model.StateIndexed}, nil
}

func TestWorkerPoolProcessesAllTasks(t *testing.T) {
	proc := &countingProcessor{seen: map[string]int{}}
	pool, err := NewWorkerPool(context.Background(), 2, proc)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, pool.Enqueue(context.Background(), tasks.DocumentTask{DocumentID: id}))
	}
	pool.Close()

	assert.Len(t, proc.seen, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&proc.peak), int32(2))
}

func TestWorkerPoolSurvivesPanic(t *testing.T) {
	proc := &countingProcessor{seen: map[string]int{}, panicOn: "bad"}
	pool, err := NewWorkerPool(context.Background(), 1, proc)
	require.NoError(t, err)

	require.NoError(t, pool.Enqueue(context.Background(), tasks.DocumentTask{DocumentID: "bad"}))
	require.NoError(t, pool.Enqueue(context.Background(), tasks.DocumentTask{DocumentID: "good"}))
	pool.Close()
	assert.Equal(t, 1, proc.seen["good"])
}

func TestWorkerPoolRejectsCancelledContext(t *testing.T) {
	pool, err := NewWorkerPool(context.Background(), 1, &countingProcessor{seen: map[string]int{}})
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pool.Enqueue(ctx, tasks.DocumentTask{DocumentID: "a"}), context.Canceled)
}
