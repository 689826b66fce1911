package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter es la variante en proceso del fixed window, para un solo nodo.
type MemoryLimiter struct {
	mu     sync.Mutex
	c      *gocache.Cache
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		c:      gocache.New(window, 2*window),
		max:    int64(max),
		window: window,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)
	k := fmt.Sprintf("%s:%d", key, winStart.Unix())
	ttl := winStart.Add(l.window).Sub(now)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.c.IncrementInt64(k, 1); err != nil {
		l.c.Set(k, int64(1), ttl)
	}
	v, _ := l.c.Get(k)
	hits, _ := v.(int64)
	return decide(hits, l.max, ttl, l.window), nil
}
