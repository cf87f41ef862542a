package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/config"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager_ConnectFailure(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestFromRedisConfig(t *testing.T) {
	cfg := FromRedisConfig(config.RedisConfig{Addr: "redis:6379", DB: 2, TTL: time.Hour, TLS: true})
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, time.Hour, cfg.DefaultTTL)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.True(t, cfg.TLS)
}

func TestManager_SetAndGet(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "test-key", "test-value", time.Minute))
	value, err := manager.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Equal(t, "test-value", value)

	_, err = manager.Get(ctx, "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetJSON(ctx, "vec", []float64{0.1, 0.2}, 0))
	var got []float64
	require.NoError(t, manager.GetJSON(ctx, "vec", &got))
	assert.Equal(t, []float64{0.1, 0.2}, got)

	assert.Error(t, manager.SetJSON(ctx, "bad", make(chan int), 0))

	require.NoError(t, manager.Set(ctx, "not-json", "{oops", 0))
	assert.Error(t, manager.GetJSON(ctx, "not-json", &got))
}

func TestManager_DefaultTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, err := manager.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", 0))
	require.NoError(t, manager.Delete(ctx, "a"))
	require.NoError(t, manager.Delete(ctx))
	_, err := manager.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Stats(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", 0))
	_, _ = manager.Get(ctx, "a")
	_, _ = manager.Get(ctx, "a")
	_, _ = manager.Get(ctx, "b")

	stats, err := manager.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Keys)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestManager_PingAndClose(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Ping(ctx))
	mr.Close()
	assert.Error(t, manager.Ping(ctx))

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
}

func TestManager_HealthLoopStops(t *testing.T) {
	mr := miniredis.RunT(t)
	manager, err := NewManager(Config{Addr: mr.Addr(), HealthCheckInterval: 5 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		_ = manager.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop the health check loop")
	}
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "key-" + string(rune('a'+i))
			assert.NoError(t, manager.Set(ctx, key, "v", 0))
			_, err := manager.Get(ctx, key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}
