// Package embedcache 维护分块内容哈希到向量的映射，保证相同内容只计算一次向量。
//
// 进程内并发请求通过 singleflight 合并；跨进程由存储层的“先写者胜”语义保证，
// 后来者复用已有结果。
package embedcache

import (
	"context"
	"fmt"
	"time"

	"aec-rag-go/pkg/log"

	"golang.org/x/sync/singleflight"
)

// Store 是向量缓存的持久化层。
type Store interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	// PutIfAbsent 仅在 key 不存在时写入，返回最终保存的向量。
	PutIfAbsent(ctx context.Context, key string, vec []float32) ([]float32, error)
}

// Cache 在 Store 之上提供 GetOrCompute。
type Cache struct {
	store Store
	model string
	group singleflight.Group
}

// New 创建缓存。model 参与键的构成，切换向量模型后旧向量不会被复用。
func New(store Store, model string) *Cache {
	return &Cache{store: store, model: model}
}

type result struct {
	vec    []float32
	reused bool
}

// computeTimeout 限制一次共享计算的时长。共享计算不随任何单个调用方取消。
const computeTimeout = 2 * time.Minute

// GetOrCompute 返回 contentHash 对应的向量；缓存缺失时调用 compute 计算并写入。
// 第二个返回值表示是否复用了已有向量。
// 调用方的 ctx 被取消时只有该调用方提前返回，同一 key 上的其他等待者照常拿到结果。
func (c *Cache) GetOrCompute(ctx context.Context, contentHash string, compute func(ctx context.Context) ([]float32, error)) ([]float32, bool, error) {
	key := c.key(contentHash)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()

		vec, ok, err := c.store.Get(sctx, key)
		if err != nil {
			log.Warnf("[EmbedCache] 读取向量缓存失败, key: %s, error: %v", key, err)
		}
		if ok {
			return result{vec: vec, reused: true}, nil
		}

		vec, err = compute(sctx)
		if err != nil {
			return nil, err
		}
		stored, err := c.store.PutIfAbsent(sctx, key, vec)
		if err != nil {
			// 写缓存失败不影响本次结果，只是之后会重新计算
			log.Warnf("[EmbedCache] 写入向量缓存失败, key: %s, error: %v", key, err)
			return result{vec: vec}, nil
		}
		return result{vec: stored}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(result)
		return r.vec, r.reused || res.Shared, nil
	}
}

func (c *Cache) key(contentHash string) string {
	return fmt.Sprintf("embed:%s:%s", c.model, contentHash)
}
