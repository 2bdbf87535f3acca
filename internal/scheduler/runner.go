package scheduler

import (
	"context"
	"time"

	"aec-rag-go/pkg/log"
)

// Runner 周期性地执行全量扫描和增量扫描，并响应手动触发的全量扫描。
type Runner struct {
	scanner  *Scanner
	fullScan time.Duration
	poll     time.Duration
	trigger  chan struct{}
}

// NewRunner 创建 Runner。poll 为 0 时不做增量扫描。
func NewRunner(scanner *Scanner, fullScan, poll time.Duration) *Runner {
	return &Runner{
		scanner:  scanner,
		fullScan: fullScan,
		poll:     poll,
		trigger:  make(chan struct{}, 1),
	}
}

// TriggerRescan 请求尽快执行一次全量扫描。已有未执行的请求时返回 false。
func (r *Runner) TriggerRescan() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run 启动时先做一次全量扫描，然后按配置的间隔循环，直到 ctx 结束。
func (r *Runner) Run(ctx context.Context) error {
	log.Infof("[Scheduler] 启动, 全量扫描间隔: %s, 增量扫描间隔: %s", r.fullScan, r.poll)
	r.runFull(ctx)

	full := time.NewTicker(r.fullScan)
	defer full.Stop()
	var pollC <-chan time.Time
	if r.poll > 0 {
		poll := time.NewTicker(r.poll)
		defer poll.Stop()
		pollC = poll.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("[Scheduler] 已停止")
			return nil
		case <-full.C:
			r.runFull(ctx)
		case <-r.trigger:
			r.runFull(ctx)
			full.Reset(r.fullScan)
		case <-pollC:
			if _, err := r.scanner.IncrementalScan(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("[Scheduler] 增量扫描失败: %v", err)
			}
		}
	}
}

func (r *Runner) runFull(ctx context.Context) {
	if _, err := r.scanner.FullScan(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("[Scheduler] 全量扫描失败: %v", err)
	}
}
