package ratelimit

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalLimiter is the in-process fallback when Redis is not configured. The
// cap then holds per replica rather than globally, which is acceptable for
// single-worker deployments.
type LocalLimiter struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// windowCounter is mutated in place so the entry keeps the expiry it was
// created with; the window is fixed, not sliding.
type windowCounter struct {
	count int64
}

// NewLocalLimiter creates the in-process limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		cache: gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

// Allow increments the window counter for key under a process-wide lock.
func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var counter *windowCounter
	if existing, found := l.cache.Get(key); found {
		counter = existing.(*windowCounter)
	} else {
		counter = &windowCounter{}
		l.cache.Set(key, counter, window)
	}
	counter.count++
	return counter.count <= int64(limit), nil
}
