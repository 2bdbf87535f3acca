package embedcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore 把向量以小端 float32 二进制保存在 Redis 中。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore 创建 Redis 存储；ttl 为 0 表示永不过期。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, vec []float32) ([]float32, error) {
	ok, err := s.rdb.SetNX(ctx, key, encodeVector(vec), s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return vec, nil
	}
	existing, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return vec, err
	}
	return existing, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector payload of %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}

// MemoryStore 是进程内实现，用于测试和单机模式。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]float32)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.data[key]
	return vec, ok, nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, vec []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data[key]; ok {
		return existing, nil
	}
	s.data[key] = vec
	return vec, nil
}

// Len 返回缓存条目数。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
