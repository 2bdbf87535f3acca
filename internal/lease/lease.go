// Package lease 提供按文档的互斥租约，保证同一文档同一时刻只有一个处理尝试。
//
// 租约带过期时间，持有者需要在过期前续约；持有者崩溃后租约自然过期，其他 worker 可以接手。
package lease

import (
	"context"
	"fmt"
	"time"

	"aec-rag-go/internal/apperr"

	"github.com/google/uuid"
)

// backend 是租约的存储实现。
type backend interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

// Leaser 负责发放租约。
type Leaser struct {
	backend backend
	prefix  string
}

// Lease 是一份已获得的租约。
type Lease struct {
	key     string
	token   string
	ttl     time.Duration
	backend backend
}

// Acquire 尝试获取 documentID 的租约；已被他人持有时返回 apperr.ErrLeaseHeld。
func (l *Leaser) Acquire(ctx context.Context, documentID string, ttl time.Duration) (*Lease, error) {
	key := l.prefix + documentID
	token := uuid.NewString()
	ok, err := l.backend.acquire(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", documentID, err)
	}
	if !ok {
		return nil, fmt.Errorf("document %s: %w", documentID, apperr.ErrLeaseHeld)
	}
	return &Lease{key: key, token: token, ttl: ttl, backend: l.backend}, nil
}

// AcquireWait 在 ctx 结束前轮询获取租约。
func (l *Leaser) AcquireWait(ctx context.Context, documentID string, ttl, interval time.Duration) (*Lease, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ls, err := l.Acquire(ctx, documentID, ttl)
		if err == nil || !isHeld(err) {
			return ls, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-ticker.C:
		}
	}
}

func isHeld(err error) bool {
	return apperr.ClassOf(err) == apperr.ClassConsistency
}

// Token 返回本次持有的唯一标识。
func (ls *Lease) Token() string { return ls.token }

// TTL 返回租约时长。
func (ls *Lease) TTL() time.Duration { return ls.ttl }

// Renew 延长租约；租约已过期并被他人获取时返回 apperr.ErrLeaseLost。
func (ls *Lease) Renew(ctx context.Context) error {
	ok, err := ls.backend.renew(ctx, ls.key, ls.token, ls.ttl)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if !ok {
		return apperr.ErrLeaseLost
	}
	return nil
}

// Release 释放租约。只会删除自己持有的租约。
func (ls *Lease) Release(ctx context.Context) error {
	return ls.backend.release(ctx, ls.key, ls.token)
}

// KeepAlive 每隔 ttl/3 续约一次，直到 ctx 结束；续约失败时调用 onLost 并退出。
func (ls *Lease) KeepAlive(ctx context.Context, onLost func(error)) {
	interval := ls.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ls.Renew(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				onLost(err)
				return
			}
		}
	}
}
