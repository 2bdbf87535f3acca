// Package scheduler 负责发现需要处理的文档：周期性全量扫描、基于水位的增量扫描、
// 对象变更事件，以及对卡在中间状态的记录的调和。所有入口都向同一个队列投递任务。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aec-rag-go/internal/fingerprint"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/pipeline"
	"aec-rag-go/internal/provider"
	"aec-rag-go/internal/repository"
	"aec-rag-go/pkg/log"
	"aec-rag-go/pkg/tasks"
)

// DefaultCategory 用于无法从路径推出类别的对象。
const DefaultCategory = "uncategorized"

// Tombstoner 让文档对检索不可见，由 Orchestrator 实现。
type Tombstoner interface {
	Tombstone(ctx context.Context, documentID string) (*model.PipelineRecord, error)
}

// Options 配置扫描行为。
type Options struct {
	// CategorySegment 是类别在对象键目录部分中的下标，负数从末尾数起。
	CategorySegment int
	// StaleAfter 之后仍未推进的非终态记录会被重新投递。
	StaleAfter time.Duration
}

// ScanReport 汇总一次扫描的结果。
type ScanReport struct {
	Trigger    tasks.Trigger `json:"trigger"`
	Listed     int           `json:"listed"`
	Enqueued   int           `json:"enqueued"`
	Unchanged  int           `json:"unchanged"`
	Tombstoned int           `json:"tombstoned"`
	Reconciled int           `json:"reconciled"`
	Errors     int           `json:"errors"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Scanner 比较对象存储与流水线记录，投递需要处理的文档。
type Scanner struct {
	store      provider.ObjectStore
	records    repository.PipelineRepository
	watermarks repository.WatermarkRepository
	queue      pipeline.Enqueuer
	tombstoner Tombstoner
	opts       Options
	now        func() time.Time
}

// NewScanner 创建 Scanner。水位由 watermarks 持久化，不保存在进程内。
func NewScanner(
	store provider.ObjectStore,
	records repository.PipelineRepository,
	watermarks repository.WatermarkRepository,
	queue pipeline.Enqueuer,
	tombstoner Tombstoner,
	opts Options,
) *Scanner {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	return &Scanner{
		store:      store,
		records:    records,
		watermarks: watermarks,
		queue:      queue,
		tombstoner: tombstoner,
		opts:       opts,
		now:        time.Now,
	}
}

// FullScan 列出全部对象，投递新增和变化的文档，并把已从来源消失的文档转为墓碑。
func (s *Scanner) FullScan(ctx context.Context) (ScanReport, error) {
	report := ScanReport{Trigger: tasks.TriggerFullScan, StartedAt: s.now()}
	log.Infof("[Scanner] 开始全量扫描, source: %s", s.store.Name())

	objects, err := s.store.ListChangedSince(ctx, time.Time{})
	if err != nil {
		return report, fmt.Errorf("list objects: %w", err)
	}
	active, err := s.records.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("list pipeline records: %w", err)
	}
	byID := make(map[string]*model.PipelineRecord, len(active))
	for _, rec := range active {
		byID[rec.DocumentID] = rec
	}

	report.Listed = len(objects)
	seen := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		docID := fingerprint.DocumentID(obj.URI)
		seen[docID] = struct{}{}
		if skipUnreadable(&report, obj) {
			continue
		}
		s.offer(ctx, &report, byID[docID], obj, tasks.TriggerFullScan)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, rec := range active {
		if _, ok := seen[rec.DocumentID]; ok {
			continue
		}
		if _, err := s.tombstoner.Tombstone(ctx, rec.DocumentID); err != nil {
			log.Warnf("[Scanner] 墓碑化已删除的文档失败, document: %s, error: %v", rec.DocumentID, err)
			report.Errors++
			continue
		}
		report.Tombstoned++
	}

	s.reconcile(ctx, &report)
	s.finish(ctx, &report)
	return report, nil
}

// IncrementalScan 只列出自上次水位以来修改过的对象。
func (s *Scanner) IncrementalScan(ctx context.Context) (ScanReport, error) {
	report := ScanReport{Trigger: tasks.TriggerIncremental, StartedAt: s.now()}
	since, err := s.watermarks.Load(ctx, s.store.Name())
	if err != nil {
		return report, fmt.Errorf("load watermark: %w", err)
	}
	objects, err := s.store.ListChangedSince(ctx, since)
	if err != nil {
		return report, fmt.Errorf("list objects since %s: %w", since.Format(time.RFC3339), err)
	}
	report.Listed = len(objects)
	for _, obj := range objects {
		if skipUnreadable(&report, obj) {
			continue
		}
		rec, err := s.records.Get(ctx, fingerprint.DocumentID(obj.URI))
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			log.Warnf("[Scanner] 读取流水线记录失败, uri: %s, error: %v", obj.URI, err)
			report.Errors++
			continue
		}
		s.offer(ctx, &report, rec, obj, tasks.TriggerIncremental)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	s.reconcile(ctx, &report)
	s.finish(ctx, &report)
	return report, nil
}

// finish 在没有错误时推进水位，否则下一次增量扫描会重新列出这些对象。
func (s *Scanner) finish(ctx context.Context, report *ScanReport) {
	report.FinishedAt = s.now()
	if report.Errors == 0 {
		if err := s.watermarks.Save(ctx, s.store.Name(), report.StartedAt); err != nil {
			log.Warnf("[Scanner] 保存扫描水位失败, source: %s, error: %v", s.store.Name(), err)
		}
	}
	log.Infof("[Scanner] 扫描完成, trigger: %s, 列出: %d, 投递: %d, 未变化: %d, 墓碑: %d, 调和: %d, 错误: %d",
		report.Trigger, report.Listed, report.Enqueued, report.Unchanged, report.Tombstoned, report.Reconciled, report.Errors)
}

// skipUnreadable 跳过无法读取的对象并计入错误，水位因此不会推进。
func skipUnreadable(report *ScanReport, obj provider.ObjectInfo) bool {
	if obj.Err == nil {
		return false
	}
	log.Warnf("[Scanner] 跳过无法读取的对象, uri: %s, error: %v", obj.URI, obj.Err)
	report.Errors++
	return true
}

func (s *Scanner) offer(ctx context.Context, report *ScanReport, rec *model.PipelineRecord, obj provider.ObjectInfo, trigger tasks.Trigger) {
	if !needsProcessing(rec, obj) {
		report.Unchanged++
		return
	}
	if err := s.queue.Enqueue(ctx, s.taskFor(obj, trigger)); err != nil {
		log.Warnf("[Scanner] 投递任务失败, uri: %s, error: %v", obj.URI, err)
		report.Errors++
		return
	}
	report.Enqueued++
}

func (s *Scanner) taskFor(obj provider.ObjectInfo, trigger tasks.Trigger) tasks.DocumentTask {
	observed := obj.ModifiedAt
	if observed.IsZero() {
		observed = s.now()
	}
	return tasks.DocumentTask{
		DocumentID:  fingerprint.DocumentID(obj.URI),
		SourceURI:   obj.URI,
		ContentHash: obj.ContentHash,
		ContentType: obj.ContentType,
		Category:    CategoryFromKey(obj.Key, s.opts.CategorySegment),
		ObservedAt:  observed,
		Trigger:     trigger,
	}
}

// needsProcessing 判断对象相对已有记录是否需要投递。
// 终止失败且内容未变的文档只能人工重新提交；处理中的文档交给调和。
func needsProcessing(rec *model.PipelineRecord, obj provider.ObjectInfo) bool {
	if rec == nil {
		return true
	}
	same := obj.ContentHash != "" && obj.ContentHash == rec.ContentHash
	switch rec.State {
	case model.StateTombstoned:
		return true
	case model.StateIndexed:
		return obj.ContentHash == "" || obj.ContentHash != rec.IndexedHash
	default:
		return !same
	}
}

// reconcile 重新投递长时间没有推进的非终态记录（进程崩溃、租约丢失）。
func (s *Scanner) reconcile(ctx context.Context, report *ScanReport) {
	pending, err := s.records.ListNonTerminal(ctx)
	if err != nil {
		log.Warnf("[Scanner] 读取未完成记录失败: %v", err)
		report.Errors++
		return
	}
	cutoff := s.now().Add(-s.opts.StaleAfter)
	for _, rec := range pending {
		if rec.UpdatedAt.After(cutoff) {
			continue
		}
		task := tasks.DocumentTask{
			DocumentID: rec.DocumentID,
			SourceURI:  rec.SourceURI,
			Category:   rec.Category,
			ObservedAt: s.now(),
			Trigger:    tasks.TriggerReconcile,
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			log.Warnf("[Scanner] 投递调和任务失败, document: %s, error: %v", rec.DocumentID, err)
			report.Errors++
			continue
		}
		log.Infof("[Scanner] 调和停滞的记录, document: %s, state: %s, updated: %s",
			rec.DocumentID, rec.State, rec.UpdatedAt.Format(time.RFC3339))
		report.Reconciled++
	}
}

// HandleEvent 处理一条对象变更通知。
func (s *Scanner) HandleEvent(ctx context.Context, ev provider.ObjectEvent) error {
	docID := fingerprint.DocumentID(ev.URI)
	if ev.Kind == provider.ObjectUpserted {
		info, err := s.store.Stat(ctx, ev.URI)
		switch {
		case err == nil:
			log.Infof("[Scanner] 收到对象变更事件, uri: %s", ev.URI)
			return s.queue.Enqueue(ctx, s.taskFor(info, tasks.TriggerEvent))
		case !errors.Is(err, provider.ErrObjectNotFound):
			return fmt.Errorf("stat %s: %w", ev.URI, err)
		}
		// 事件到达时对象已被删除，按删除处理。
	}

	log.Infof("[Scanner] 收到对象删除事件, uri: %s", ev.URI)
	if _, err := s.tombstoner.Tombstone(ctx, docID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// CategoryFromKey 从对象键的目录部分取出类别。
// segment 为非负数时从前往后数，负数时从后往前数（-1 是直接父目录）。
func CategoryFromKey(key string, segment int) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) < 2 {
		return DefaultCategory
	}
	dirs := parts[:len(parts)-1]
	i := segment
	if i < 0 {
		i = len(dirs) + segment
	}
	if i < 0 || i >= len(dirs) || dirs[i] == "" {
		return DefaultCategory
	}
	return dirs[i]
}
