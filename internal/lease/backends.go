package lease

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// 只有持有者（token 匹配）才能续约或释放。
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type redisBackend struct {
	rdb *redis.Client
}

// NewRedisLeaser 返回基于 Redis 的 Leaser，适用于多实例部署。
func NewRedisLeaser(rdb *redis.Client) *Leaser {
	return &Leaser{backend: &redisBackend{rdb: rdb}, prefix: "lease:document:"}
}

func (b *redisBackend) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return b.rdb.SetNX(ctx, key, token, ttl).Result()
}

func (b *redisBackend) renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, b.rdb, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *redisBackend) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, b.rdb, []string{key}, token).Err()
}

type memoryEntry struct {
	token   string
	expires time.Time
}

type memoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryLeaser 返回进程内 Leaser，用于测试和单机模式。
func NewMemoryLeaser() *Leaser {
	return NewMemoryLeaserWithClock(time.Now)
}

// NewMemoryLeaserWithClock 允许注入时钟以便测试过期。
func NewMemoryLeaserWithClock(now func() time.Time) *Leaser {
	return &Leaser{
		backend: &memoryBackend{entries: make(map[string]memoryEntry), now: now},
		prefix:  "lease:document:",
	}
}

func (b *memoryBackend) acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok && b.now().Before(e.expires) {
		return false, nil
	}
	b.entries[key] = memoryEntry{token: token, expires: b.now().Add(ttl)}
	return true, nil
}

func (b *memoryBackend) renew(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || e.token != token || !b.now().Before(e.expires) {
		return false, nil
	}
	e.expires = b.now().Add(ttl)
	b.entries[key] = e
	return true, nil
}

func (b *memoryBackend) release(_ context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok && e.token == token {
		delete(b.entries, key)
	}
	return nil
}
