// Package limiter 为外部服务提供固定大小的准入窗口。
//
// 窗口由三部分组成：并发上限（信号量）、请求速率（令牌桶）和单次调用超时。
// 窗口满时调用方排队等待，而不是失败。
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aec-rag-go/internal/apperr"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Window 是单个外部服务的准入窗口。
type Window struct {
	name    string
	sem     *semaphore.Weighted
	bucket  *rate.Limiter
	timeout time.Duration
}

// Options 配置窗口。RatePerSec 为 0 表示不限速。
type Options struct {
	Concurrency int
	RatePerSec  float64
	Burst       int
	Timeout     time.Duration
}

// New 创建窗口。
func New(name string, opts Options) *Window {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	w := &Window{
		name:    name,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		timeout: opts.Timeout,
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		w.bucket = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return w
}

// Name 返回服务名。
func (w *Window) Name() string {
	return w.name
}

// Do 在窗口内执行 fn。等待准入的时间不计入超时；
// fn 因超时返回时错误被归类为可重试的 Timeout。
func (w *Window) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: wait for admission: %w", w.name, err)
	}
	defer w.sem.Release(1)

	if w.bucket != nil {
		if err := w.bucket.Wait(ctx); err != nil {
			return fmt.Errorf("%s: wait for rate limit: %w", w.name, err)
		}
	}

	callCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if _, classified := apperr.KindOf(err); !classified {
			return apperr.NewProviderError(w.name, apperr.KindTimeout, err)
		}
	}
	return err
}
