package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSplitAndFullKey(t *testing.T) {
	ns, key := Split("db.primary.host")
	require.Equal(t, "db", ns)
	require.Equal(t, "primary.host", key)

	ns, key = Split("flat")
	require.Empty(t, ns)
	require.Equal(t, "flat", key)

	require.Equal(t, "db.primary.host", New("db.primary.host", 1, Updated).FullKey())
	require.Equal(t, "flat", New("flat", nil, Deleted).FullKey())
}

func TestBusFansOutAndDrops(t *testing.T) {
	b := NewBus()
	fast, cancelFast := b.Subscribe(4)
	slow, cancelSlow := b.Subscribe(1)
	defer cancelFast()
	defer cancelSlow()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, New("a.x", 1, Updated)))
	require.NoError(t, b.Publish(ctx, New("a.y", 2, Updated)))

	require.Equal(t, "x", (<-fast).Key)
	require.Equal(t, "y", (<-fast).Key)
	require.Equal(t, "x", (<-slow).Key)
	require.EqualValues(t, 1, b.Dropped())

	b.Close()
	_, ok := <-fast
	require.False(t, ok)

	late, _ := b.Subscribe(1)
	_, ok = <-late
	require.False(t, ok)
}

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("down") }

func TestMultiJoinsErrors(t *testing.T) {
	j := NewJournal(0)
	err := Multi{j, nil, failing{}}.Publish(context.Background(), New("a.b", 1, Updated))
	require.Error(t, err)

	keys, err := j.ChangedKeysSince(time.Time{})
	require.NoError(t, err)
	require.Equal(t, []string{"a.b"}, keys)
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	j := NewJournal(4)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, k := range []string{"a", "b", "c"} {
		require.NoError(t, j.Publish(ctx, Event{Key: k, Action: Updated, Timestamp: t0.Add(time.Duration(i) * time.Minute)}))
	}
	keys, err := j.ChangedKeysSince(t0.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, keys)

	// al pasar el máximo quedan las más recientes
	for i, k := range []string{"d", "e"} {
		require.NoError(t, j.Publish(ctx, Event{Key: k, Action: Updated, Timestamp: t0.Add(time.Hour + time.Duration(i)*time.Minute)}))
	}
	keys, err = j.ChangedKeysSince(time.Time{})
	require.NoError(t, err)
	require.Equal(t, []string{"d", "e"}, keys)
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("CFGVAULT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CFGVAULT_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	p := NewRedisPublisher(rdb, "cfgvault:test:"+t.Name())
	sub := rdb.Subscribe(ctx, p.Channel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, New("db.host", "x", Updated)))
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, "db", got.Namespace)
	require.Equal(t, "host", got.Key)
	require.Equal(t, Updated, got.Action)
}
