package embedcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeReusesStoredVector(t *testing.T) {
	cache := New(NewMemoryStore(), "test-model")
	var calls int32
	compute := func(ctx context.Context) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return []float32{0.1, 0.2}, nil
	}

	vec, reused, err := cache.GetOrCompute(context.Background(), "hash-a", compute)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, []float32{0.1, 0.2}, vec)

	vec, reused, err = cache.GetOrCompute(context.Background(), "hash-a", compute)
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrComputeCollapsesConcurrentCallers(t *testing.T) {
	cache := New(NewMemoryStore(), "test-model")
	var calls int32
	gate := make(chan struct{})
	compute := func(ctx context.Context) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		<-gate
		return []float32{1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, _, err := cache.GetOrCompute(context.Background(), "same", compute)
			assert.NoError(t, err)
			assert.Equal(t, []float32{1}, vec)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	store := NewMemoryStore()
	cache := New(store, "test-model")
	boom := errors.New("rate limited")

	_, _, err := cache.GetOrCompute(context.Background(), "h", func(ctx context.Context) ([]float32, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
}

func TestModelIsPartOfKey(t *testing.T) {
	store := NewMemoryStore()
	_, _, err := New(store, "m1").GetOrCompute(context.Background(), "h", func(ctx context.Context) ([]float32, error) {
		return []float32{1}, nil
	})
	require.NoError(t, err)

	vec, reused, err := New(store, "m2").GetOrCompute(context.Background(), "h", func(ctx context.Context) ([]float32, error) {
		return []float32{2}, nil
	})
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, []float32{2}, vec)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCancelledLeaderDoesNotFailFollowers(t *testing.T) {
	cache := New(NewMemoryStore(), "test-model")
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]float32, error) {
		close(started)
		select {
		case <-release:
			return []float32{0.5}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := cache.GetOrCompute(leaderCtx, "shared", compute)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		vec []float32
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		vec, _, err := cache.GetOrCompute(context.Background(), "shared", compute)
		follower <- outcome{vec, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, []float32{0.5}, got.vec)

	// 计算结果已写入缓存。
	vec, reused, err := cache.GetOrCompute(context.Background(), "shared", compute)
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, []float32{0.5}, vec)
}
