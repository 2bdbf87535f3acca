// Package pipeline 定义了文档摄取的核心流程：按状态机驱动
// 抽取 → 分块 → 向量化 → 元数据增强 → 索引，并负责重试、租约和取消。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/checkpoint"
	"aec-rag-go/internal/chunker"
	"aec-rag-go/internal/embedcache"
	"aec-rag-go/internal/fingerprint"
	"aec-rag-go/internal/indexer"
	"aec-rag-go/internal/lease"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/provider"
	"aec-rag-go/internal/repository"
	"aec-rag-go/pkg/extract"
	"aec-rag-go/pkg/log"
	"aec-rag-go/pkg/tasks"

	"golang.org/x/sync/errgroup"
)

// ErrCancelled 表示处理被主动取消（例如源文件在处理中被删除）。
var ErrCancelled = errors.New("processing cancelled")

// errSourceGone 表示对象在处理过程中从来源中消失。
var errSourceGone = errors.New("source object no longer exists")

// Dependencies 是 Orchestrator 的协作者。Entities 与 Checkpoints 可以为 nil。
type Dependencies struct {
	Records     repository.PipelineRepository
	Store       provider.ObjectStore
	Extractor   provider.Extractor
	Embedder    provider.Embedder
	Entities    provider.EntityExtractor
	Cache       *embedcache.Cache
	Checkpoints *checkpoint.Store
	Writer      *indexer.Writer
	Leaser      *lease.Leaser
	Chunker     *chunker.Chunker
}

// Options 控制重试、租约和阶段内并发。
type Options struct {
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	LeaseTTL         time.Duration
	EmbedConcurrency int
	NERConcurrency   int
}

// Orchestrator 是 PipelineRecord.processing_state 与 retry_count 的唯一写入者。
type Orchestrator struct {
	deps Dependencies
	opts Options

	mu       sync.Mutex
	inflight map[string]context.CancelCauseFunc
}

// NewOrchestrator 创建一个新的 Orchestrator 实例。
func NewOrchestrator(deps Dependencies, opts Options) *Orchestrator {
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = 4
	}
	if opts.NERConcurrency <= 0 {
		opts.NERConcurrency = 2
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 5 * time.Minute
	}
	return &Orchestrator{deps: deps, opts: opts, inflight: make(map[string]context.CancelCauseFunc)}
}

// run 保存一次处理过程中各阶段的产物，重试时从失败的阶段继续。
type run struct {
	rec        *model.PipelineRecord
	lease      *lease.Lease
	extraction *provider.Extraction
	chunks     []model.Chunk
	embedded   bool
	enriched   bool
}

// Process 处理一个文档任务，返回处理结束时的记录。
//
// 同一文档同一时刻只有一个处理尝试，租约被占用时返回 apperr.ErrLeaseHeld。
// 内容指纹与已提交版本相同且未强制时，记录直接从 discovered 转为 indexed，不调用任何外部服务。
func (o *Orchestrator) Process(ctx context.Context, task tasks.DocumentTask) (*model.PipelineRecord, error) {
	if task.SourceURI == "" {
		return nil, fmt.Errorf("task without source uri: %w", apperr.ErrTerminalInput)
	}
	docID := task.DocumentID
	if docID == "" {
		docID = fingerprint.DocumentID(task.SourceURI)
	}

	ls, err := o.deps.Leaser.Acquire(ctx, docID, o.opts.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ls.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warnf("[Orchestrator] 释放租约失败, document: %s, error: %v", docID, err)
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	o.register(docID, cancel)
	defer o.unregister(docID)
	go ls.KeepAlive(runCtx, func(err error) {
		log.Warnf("[Orchestrator] 租约丢失, document: %s, error: %v", docID, err)
		cancel(apperr.ErrLeaseLost)
	})

	rec, proceed, err := o.prepare(runCtx, docID, task)
	if err != nil || !proceed {
		return rec, err
	}
	return o.execute(runCtx, &run{rec: rec, lease: ls})
}

// prepare 读取或创建记录，并判断本次任务是否需要真正处理。
func (o *Orchestrator) prepare(ctx context.Context, docID string, task tasks.DocumentTask) (*model.PipelineRecord, bool, error) {
	hash := task.ContentHash
	contentType := task.ContentType
	if hash == "" || contentType == "" {
		info, err := o.deps.Store.Stat(ctx, task.SourceURI)
		if err != nil {
			if errors.Is(err, provider.ErrObjectNotFound) {
				log.Infof("[Orchestrator] 源对象不存在, 转为墓碑, document: %s, uri: %s", docID, task.SourceURI)
				rec, terr := o.tombstoneLocked(ctx, docID)
				if errors.Is(terr, repository.ErrNotFound) {
					return nil, false, fmt.Errorf("%s: %w", task.SourceURI, provider.ErrObjectNotFound)
				}
				return rec, false, terr
			}
			return nil, false, fmt.Errorf("stat %s: %w", task.SourceURI, err)
		}
		if hash == "" {
			hash = info.ContentHash
		}
		if contentType == "" {
			contentType = info.ContentType
		}
	}
	if ct := extract.ContentTypeFor(task.SourceURI); ct != "" {
		contentType = ct
	}
	seen := task.ObservedAt
	if seen.IsZero() {
		seen = time.Now()
	}

	rec := &model.PipelineRecord{
		DocumentID:  docID,
		SourceURI:   task.SourceURI,
		ContentHash: hash,
		Category:    task.Category,
		ContentType: contentType,
		State:       model.StateDiscovered,
		LastSeenAt:  seen,
	}
	created, err := o.deps.Records.Insert(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("insert pipeline record: %w", err)
	}
	if created {
		log.Infof("[Orchestrator] 发现新文档, document: %s, uri: %s", docID, task.SourceURI)
		return rec, true, nil
	}

	rec, err = o.deps.Records.Get(ctx, docID)
	if err != nil {
		return nil, false, err
	}
	prevHash := rec.ContentHash
	prevState := rec.State

	if prevState == model.StateFailed && prevHash == hash && !task.Force {
		log.Infof("[Orchestrator] 文档此前终止失败且内容未变, 等待人工重新提交, document: %s", docID)
		return rec, false, nil
	}

	rec.SourceURI = task.SourceURI
	rec.ContentHash = hash
	rec.ContentType = contentType
	rec.LastSeenAt = seen
	if task.Category != "" {
		rec.Category = task.Category
	}
	rec.State = model.StateDiscovered
	rec.FailedStage = ""
	rec.RetryCount = 0
	rec.NextAttemptAt = nil
	rec.SetError(nil, "")

	if !task.Force && prevState != model.StateTombstoned && rec.CommittedGeneration > 0 && rec.IndexedHash == hash {
		if err := o.save(ctx, rec); err != nil {
			return nil, false, err
		}
		rec.State = model.StateIndexed
		if err := o.save(ctx, rec); err != nil {
			return nil, false, err
		}
		log.Infof("[Orchestrator] 内容未变化, 跳过处理, document: %s", docID)
		return rec, false, nil
	}

	if prevState == model.StateTombstoned {
		log.Infof("[Orchestrator] 墓碑文档重新出现, document: %s", docID)
	}
	if err := o.save(ctx, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// execute 依次执行各阶段，可重试的失败按退避重试，直到成功、终止失败或被取消。
func (o *Orchestrator) execute(ctx context.Context, r *run) (*model.PipelineRecord, error) {
	rec := r.rec
	started := time.Now()
	for {
		stage, err := o.runStages(ctx, r)
		if err == nil {
			rec.State = model.StateIndexed
			rec.FailedStage = ""
			rec.NextAttemptAt = nil
			rec.SetError(nil, "")
			if err := o.save(ctx, rec); err != nil {
				return rec, err
			}
			log.Infof("[Orchestrator] 文档处理完成, document: %s, chunks: %d, generation: %d, 耗时: %s",
				rec.DocumentID, rec.ChunkCount, rec.CommittedGeneration, time.Since(started).Round(time.Millisecond))
			return rec, nil
		}

		if errors.Is(err, errSourceGone) {
			log.Infof("[Orchestrator] 源对象在处理中被删除, document: %s", rec.DocumentID)
			return o.tombstoneLocked(ctx, rec.DocumentID)
		}
		if cause := context.Cause(ctx); cause != nil {
			// 取消只在阶段之间生效，记录停留在最后完成的阶段。
			log.Infof("[Orchestrator] 处理被取消, document: %s, state: %s, cause: %v", rec.DocumentID, rec.State, cause)
			return rec, cause
		}

		class := apperr.ClassOf(err)
		if class == apperr.ClassConsistency {
			log.Warnf("[Orchestrator] 一致性错误, 等待下一次扫描调和, document: %s, error: %v", rec.DocumentID, err)
			return rec, err
		}

		rec.FailedStage = stage
		rec.SetError(err, class.String())
		if apperr.IsRetryable(err) && rec.RetryCount < o.opts.MaxRetries {
			delay := Backoff(o.opts.BaseDelay, o.opts.MaxDelay, rec.RetryCount)
			rec.RetryCount++
			next := time.Now().Add(delay)
			rec.State = model.StateRetrying
			rec.NextAttemptAt = &next
			if serr := o.save(ctx, rec); serr != nil {
				return rec, serr
			}
			log.Warnf("[Orchestrator] 阶段 %s 失败, %s 后第 %d 次重试, document: %s, error: %v",
				stage, delay, rec.RetryCount, rec.DocumentID, err)
			if !sleep(ctx, delay) {
				log.Infof("[Orchestrator] 等待重试时被取消, document: %s", rec.DocumentID)
				return rec, context.Cause(ctx)
			}
			continue
		}

		rec.State = model.StateFailed
		rec.NextAttemptAt = nil
		if serr := o.save(ctx, rec); serr != nil {
			return rec, serr
		}
		log.Errorf("[Orchestrator] 文档处理失败, document: %s, stage: %s, class: %s, retries: %d, error: %v",
			rec.DocumentID, stage, class, rec.RetryCount, err)
		return rec, err
	}
}

// runStages 从第一个未完成的阶段开始执行，返回失败的阶段。
func (o *Orchestrator) runStages(ctx context.Context, r *run) (model.State, error) {
	steps := []struct {
		state model.State
		done  func() bool
		fn    func(context.Context, *run) error
	}{
		{model.StateExtracting, func() bool { return r.extraction != nil }, o.extractStage},
		{model.StateChunking, func() bool { return r.chunks != nil }, o.chunkStage},
		{model.StateEmbedding, func() bool { return r.embedded }, o.embedStage},
		{model.StateEnrichingMetadata, func() bool { return r.enriched }, o.enrichStage},
		{model.StateIndexing, func() bool { return false }, o.indexStage},
	}
	for _, step := range steps {
		if step.done() {
			continue
		}
		if ctx.Err() != nil {
			return step.state, context.Cause(ctx)
		}
		r.rec.State = step.state
		if err := o.save(ctx, r.rec); err != nil {
			return step.state, err
		}
		// 外部调用不随 ctx 取消中断，由准入窗口的超时约束；取消在阶段之间检查。
		stageCtx := context.WithoutCancel(ctx)
		if err := step.fn(stageCtx, r); err != nil {
			return step.state, apperr.AtStage(string(step.state), err)
		}
	}
	return "", nil
}

func (o *Orchestrator) extractStage(ctx context.Context, r *run) error {
	rec := r.rec
	if o.deps.Checkpoints != nil {
		ex, ok, err := o.deps.Checkpoints.LoadExtraction(rec.DocumentID, rec.ContentHash)
		if err != nil {
			log.Warnf("[Orchestrator] 读取抽取检查点失败, document: %s, error: %v", rec.DocumentID, err)
		}
		if ok {
			log.Infof("[Orchestrator] 复用抽取检查点, document: %s", rec.DocumentID)
			r.extraction = &ex
			return nil
		}
	}

	data, err := o.deps.Store.Read(ctx, rec.SourceURI)
	if err != nil {
		if errors.Is(err, provider.ErrObjectNotFound) {
			return errSourceGone
		}
		return err
	}
	if actual := fingerprint.Sum(data); actual != rec.ContentHash {
		log.Infof("[Orchestrator] 对象内容在观察后发生变化, 以最新内容为准, document: %s", rec.DocumentID)
		rec.ContentHash = actual
	}

	ex, err := o.deps.Extractor.Extract(ctx, data, rec.ContentType)
	if err != nil {
		return err
	}
	log.Infof("[Orchestrator] 文本抽取成功, document: %s, 字节数: %d, 结构单元: %d", rec.DocumentID, len(ex.Text), len(ex.Hints))
	if o.deps.Checkpoints != nil {
		if err := o.deps.Checkpoints.SaveExtraction(rec.DocumentID, rec.ContentHash, ex); err != nil {
			log.Warnf("[Orchestrator] 保存抽取检查点失败, document: %s, error: %v", rec.DocumentID, err)
		}
	}
	r.extraction = &ex
	return nil
}

func (o *Orchestrator) chunkStage(_ context.Context, r *run) error {
	parts := o.deps.Chunker.Split(r.extraction.Text, r.extraction.Hints)
	if len(parts) == 0 {
		return apperr.NewProviderError("chunker", apperr.KindMalformedInput, errors.New("document produced no chunks"))
	}
	chunks := make([]model.Chunk, len(parts))
	oversized := 0
	for i, p := range parts {
		hash := fingerprint.SumString(p.Text)
		chunks[i] = model.Chunk{
			ChunkID:        fingerprint.ChunkID(r.rec.DocumentID, p.Index, hash),
			DocumentID:     r.rec.DocumentID,
			SequenceIndex:  p.Index,
			Text:           p.Text,
			TokenCount:     p.TokenCount,
			ContentHash:    hash,
			OversizedSplit: p.OversizedSplit,
		}
		if p.OversizedSplit {
			oversized++
		}
	}
	log.Infof("[Orchestrator] 文本分块完成, document: %s, 分块数: %d, 强制切分: %d", r.rec.DocumentID, len(chunks), oversized)
	r.chunks = chunks
	return nil
}

func (o *Orchestrator) embedStage(ctx context.Context, r *run) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.EmbedConcurrency)
	var reused atomic.Int32
	for i := range r.chunks {
		c := &r.chunks[i]
		if len(c.Embedding) > 0 {
			continue
		}
		g.Go(func() error {
			embed := func(ctx context.Context) ([]float32, error) {
				return o.deps.Embedder.Embed(ctx, c.Text)
			}
			if o.deps.Cache == nil {
				vec, err := embed(gctx)
				c.Embedding = vec
				return err
			}
			vec, hit, err := o.deps.Cache.GetOrCompute(gctx, c.ContentHash, embed)
			if err != nil {
				return err
			}
			if hit {
				reused.Add(1)
			}
			c.Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.embedded = true
	log.Infof("[Orchestrator] 向量化完成, document: %s, 分块数: %d, 复用: %d", r.rec.DocumentID, len(r.chunks), reused.Load())
	return nil
}

func (o *Orchestrator) enrichStage(ctx context.Context, r *run) error {
	if o.deps.Entities == nil {
		r.enriched = true
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.NERConcurrency)
	for i := range r.chunks {
		c := &r.chunks[i]
		if c.Metadata != nil {
			continue
		}
		g.Go(func() error {
			if o.deps.Checkpoints != nil {
				meta, ok, err := o.deps.Checkpoints.LoadMetadata(c.ContentHash)
				if err == nil && ok {
					c.Metadata = meta
					return nil
				}
			}
			meta, err := o.deps.Entities.ExtractEntities(gctx, c.Text)
			if err != nil {
				return err
			}
			if meta == nil {
				meta = map[string][]string{}
			}
			if o.deps.Checkpoints != nil {
				if err := o.deps.Checkpoints.SaveMetadata(c.ContentHash, meta); err != nil {
					log.Warnf("[Orchestrator] 保存元数据检查点失败, chunk: %s, error: %v", c.ChunkID, err)
				}
			}
			c.Metadata = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.enriched = true
	return nil
}

func (o *Orchestrator) indexStage(ctx context.Context, r *run) error {
	// 提交前确认租约仍然有效，避免两个持有者提交同一个 generation。
	if r.lease != nil {
		if err := r.lease.Renew(ctx); err != nil {
			return err
		}
	}
	gen, err := o.deps.Writer.UpsertDocument(ctx, r.rec, r.chunks)
	if err != nil {
		return err
	}
	r.rec.CommittedGeneration = gen
	r.rec.IndexedHash = r.rec.ContentHash
	r.rec.ChunkCount = len(r.chunks)
	return nil
}

// save 持久化记录。租约丢失后不再写入。
func (o *Orchestrator) save(ctx context.Context, rec *model.PipelineRecord) error {
	if errors.Is(context.Cause(ctx), apperr.ErrLeaseLost) {
		return apperr.ErrLeaseLost
	}
	if err := o.deps.Records.Save(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("save pipeline record %s: %w", rec.DocumentID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (o *Orchestrator) register(docID string, cancel context.CancelCauseFunc) {
	o.mu.Lock()
	o.inflight[docID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(docID string) {
	o.mu.Lock()
	delete(o.inflight, docID)
	o.mu.Unlock()
}

// Cancel 请求取消文档正在进行的处理，返回是否存在这样的处理。
// 取消在阶段之间生效。
func (o *Orchestrator) Cancel(documentID string) bool {
	o.mu.Lock()
	cancel, ok := o.inflight[documentID]
	o.mu.Unlock()
	if ok {
		cancel(ErrCancelled)
	}
	return ok
}

// Tombstone 取消进行中的处理，删除文档的全部索引条目并把记录标记为 tombstoned。
func (o *Orchestrator) Tombstone(ctx context.Context, documentID string) (*model.PipelineRecord, error) {
	if _, err := o.deps.Records.Get(ctx, documentID); err != nil {
		return nil, err
	}
	o.Cancel(documentID)
	ls, err := o.deps.Leaser.AcquireWait(ctx, documentID, o.opts.LeaseTTL, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ls.Release(context.WithoutCancel(ctx)) }()
	return o.tombstoneLocked(ctx, documentID)
}

// tombstoneLocked 要求调用方已持有文档租约。
func (o *Orchestrator) tombstoneLocked(ctx context.Context, documentID string) (*model.PipelineRecord, error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := o.deps.Records.Get(ctx, documentID); err != nil {
		return nil, err
	}
	if err := o.deps.Writer.PruneDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if o.deps.Checkpoints != nil {
		if err := o.deps.Checkpoints.ForgetDocument(documentID); err != nil {
			log.Warnf("[Orchestrator] 清理抽取检查点失败, document: %s, error: %v", documentID, err)
		}
	}
	rec, err := o.deps.Records.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rec.State = model.StateTombstoned
	rec.FailedStage = ""
	rec.NextAttemptAt = nil
	rec.SetError(nil, "")
	if err := o.deps.Records.Save(ctx, rec); err != nil {
		return nil, err
	}
	log.Infof("[Orchestrator] 文档已墓碑化, document: %s", documentID)
	return rec, nil
}

// Status 返回文档当前的处理记录。
func (o *Orchestrator) Status(ctx context.Context, documentID string) (*model.PipelineRecord, error) {
	return o.deps.Records.Get(ctx, documentID)
}

// ResubmitTask 为已知文档构造一个强制重新处理的任务。
func (o *Orchestrator) ResubmitTask(ctx context.Context, documentID string) (tasks.DocumentTask, error) {
	rec, err := o.deps.Records.Get(ctx, documentID)
	if err != nil {
		return tasks.DocumentTask{}, err
	}
	return tasks.DocumentTask{
		DocumentID: rec.DocumentID,
		SourceURI:  rec.SourceURI,
		Category:   rec.Category,
		ObservedAt: time.Now(),
		Trigger:    tasks.TriggerResubmit,
		Force:      true,
	}, nil
}
