package rate

import (
	"context"
	"os"
	"testing"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(2, time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Zero(t, res.Remaining)
	require.Equal(t, 55*time.Second, res.RetryAfter)

	// otra clave no comparte contador
	res, err = l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// ventana siguiente
	l.now = func() time.Time { return base.Add(time.Minute) }
	res, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.EqualValues(t, 1, res.Remaining)
}

func TestNewDisabledAndMemory(t *testing.T) {
	l, err := New(context.Background(), Config{})
	require.NoError(t, err)
	require.Nil(t, l)

	l, err = New(context.Background(), Config{Max: 3})
	require.NoError(t, err)
	require.IsType(t, &MemoryLimiter{}, l)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("CFGVAULT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CFGVAULT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := rdb.NewClient(&rdb.Options{Addr: addr})
	l := NewRedisLimiter(client, "cfgvault:test:rl:", 1, time.Minute)
	defer l.Close()

	key := t.Name() + time.Now().Format(time.RFC3339Nano)
	res, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Greater(t, res.WindowTTL, time.Duration(0))

	res, err = l.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))
}
