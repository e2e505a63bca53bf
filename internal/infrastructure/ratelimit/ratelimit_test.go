package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalLimiter_FixedWindow(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		allowed, err := l.Allow(ctx, "remediation:tenant-a", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("request %d denied under the limit", i)
		}
	}

	allowed, err := l.Allow(ctx, "remediation:tenant-a", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("request over the limit was allowed")
	}
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()

	if allowed, _ := l.Allow(ctx, "tenant-a", 1, time.Minute); !allowed {
		t.Fatal("first request for tenant-a denied")
	}
	if allowed, _ := l.Allow(ctx, "tenant-a", 1, time.Minute); allowed {
		t.Fatal("tenant-a not capped")
	}
	if allowed, _ := l.Allow(ctx, "tenant-b", 1, time.Minute); !allowed {
		t.Error("tenant-b throttled by tenant-a's counter")
	}
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLimiter(client)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		allowed, err := l.Allow(ctx, "api:tenant-a", 5, time.Minute)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("request %d denied under the limit", i)
		}
	}
	if allowed, _ := l.Allow(ctx, "api:tenant-a", 5, time.Minute); allowed {
		t.Error("request over the limit was allowed")
	}
}

// The expiry is set when the key is created and never refreshed; the window
// must not slide on subsequent increments.
func TestRedisLimiter_WindowDoesNotSlide(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLimiter(client)
	ctx := context.Background()

	if _, err := l.Allow(ctx, "api:tenant-a", 1, time.Minute); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	srv.FastForward(40 * time.Second)
	if allowed, _ := l.Allow(ctx, "api:tenant-a", 1, time.Minute); allowed {
		t.Fatal("second request inside the window was allowed")
	}

	// The key was created at t=0 with a one-minute expiry, so it lapses at
	// t=60s regardless of the increment at t=40s.
	srv.FastForward(25 * time.Second)
	allowed, err := l.Allow(ctx, "api:tenant-a", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("counter survived past the original window expiry")
	}
}

func TestRedisLimiter_ErrorSurfacesToCaller(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	srv.Close()

	l := NewRedisLimiter(client)
	if _, err := l.Allow(context.Background(), "api:tenant-a", 5, time.Minute); err == nil {
		t.Error("expected error when Redis is unreachable")
	}
}

func BenchmarkLocalLimiter(b *testing.B) {
	l := NewLocalLimiter()
	ctx := context.Background()
	i := 0
	for b.Loop() {
		i++
		key := fmt.Sprintf("tenant-%d", i%100)
		if _, err := l.Allow(ctx, key, 1000000, time.Minute); err != nil {
			b.Fatal(err)
		}
	}
}
