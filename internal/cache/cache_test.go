package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/cache"
)

func exercise(t *testing.T, c cache.Client) {
	t.Helper()
	ctx := context.Background()

	_, err := c.Get(ctx, "db.host")
	require.True(t, cache.IsNotFound(err))

	require.NoError(t, c.Set(ctx, "db", `{"host":"x"}`, time.Minute))
	require.NoError(t, c.Set(ctx, "db.host", `"x"`, time.Minute))
	require.NoError(t, c.Set(ctx, "dbx", `1`, time.Minute))

	v, err := c.Get(ctx, "db.host")
	require.NoError(t, err)
	require.Equal(t, `"x"`, v)

	require.NoError(t, c.DeletePrefix(ctx, "db"))
	ok, err := c.Exists(ctx, "db.host")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = c.Exists(ctx, "db")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = c.Exists(ctx, "dbx")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Ping(ctx))
}

func TestMemoryClient(t *testing.T) {
	c := cache.NewMemory("test", 0)
	exercise(t, c)

	st, err := c.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, "memory", st.Driver)
	require.EqualValues(t, 1, st.Hits)
	require.EqualValues(t, 1, st.Misses)
}

func TestMemoryClientExpires(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory("", 0)
	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRedisClient(t *testing.T) {
	addr := os.Getenv("CFGVAULT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CFGVAULT_TEST_REDIS_ADDR not set")
	}
	c, err := cache.New(context.Background(), cache.Config{Driver: "redis", Addr: addr, Prefix: "cfgvault-test-" + time.Now().Format("150405.000")})
	require.NoError(t, err)
	defer c.Close()
	exercise(t, c)
}

func TestUnknownDriver(t *testing.T) {
	_, err := cache.New(context.Background(), cache.Config{Driver: "memcached"})
	require.Error(t, err)
}
