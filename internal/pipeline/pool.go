package pipeline

import (
	"context"
	"errors"
	"sync"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/model"
	"aec-rag-go/pkg/log"
	"aec-rag-go/pkg/tasks"

	"github.com/panjf2000/ants/v2"
)

// Enqueuer 接收待处理的文档任务。WorkerPool 与 Kafka 生产者都实现了它。
type Enqueuer interface {
	Enqueue(ctx context.Context, task tasks.DocumentTask) error
}

// Processor 处理单个任务，由 Orchestrator 实现。
type Processor interface {
	Process(ctx context.Context, task tasks.DocumentTask) (*model.PipelineRecord, error)
}

// WorkerPool 用固定数量的 goroutine 并发处理文档，每个文档由独立的任务处理。
// 池满时 Enqueue 阻塞，文档排队而不是失败。
type WorkerPool struct {
	pool    *ants.Pool
	proc    Processor
	baseCtx context.Context
	wg      sync.WaitGroup
}

var _ Enqueuer = (*WorkerPool)(nil)

// NewWorkerPool 创建 WorkerPool。baseCtx 结束时，进行中的处理在阶段之间停止。
func NewWorkerPool(baseCtx context.Context, size int, proc Processor) (*WorkerPool, error) {
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(v interface{}) {
		log.Errorf("[WorkerPool] 处理任务时发生 panic: %v", v)
	}))
	if err != nil {
		return nil, err
	}
	return &WorkerPool{pool: p, proc: proc, baseCtx: baseCtx}, nil
}

// Enqueue 提交任务，池满时阻塞直到有空闲 worker。
func (w *WorkerPool) Enqueue(ctx context.Context, task tasks.DocumentTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.wg.Add(1)
	err := w.pool.Submit(func() {
		defer w.wg.Done()
		w.handle(task)
	})
	if err != nil {
		w.wg.Done()
		return err
	}
	return nil
}

func (w *WorkerPool) handle(task tasks.DocumentTask) {
	rec, err := w.proc.Process(w.baseCtx, task)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrLeaseHeld):
		log.Infof("[WorkerPool] 文档正在被其他 worker 处理, 跳过: %s", task.SourceURI)
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		log.Infof("[WorkerPool] 文档处理已取消: %s", task.SourceURI)
	default:
		state := ""
		if rec != nil {
			state = string(rec.State)
		}
		log.Warnf("[WorkerPool] 文档处理未成功: %s, state: %s, error: %v", task.SourceURI, state, err)
	}
}

// Running 返回正在执行的 worker 数。
func (w *WorkerPool) Running() int {
	return w.pool.Running()
}

// Wait 等待所有已提交的任务结束。
func (w *WorkerPool) Wait() {
	w.wg.Wait()
}

// Close 等待进行中的任务结束并释放池。
func (w *WorkerPool) Close() {
	w.wg.Wait()
	w.pool.Release()
}
