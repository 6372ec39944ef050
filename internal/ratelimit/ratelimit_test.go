package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"relaychat/internal/metrics"
	"relaychat/internal/queue"
)

func TestMemoryRejectsAfterBurst(t *testing.T) {
	m := NewMemory(3, time.Hour)
	defer m.Stop()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.Allow(ctx, "s1"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if err := m.Allow(ctx, "s1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited on call 4, got %v", err)
	}
	if err := m.Allow(ctx, "s2"); err != nil {
		t.Fatalf("other key must not be limited: %v", err)
	}

	// one token refills every 20 minutes at 3/hour
	now = now.Add(21 * time.Minute)
	if err := m.Allow(ctx, "s1"); err != nil {
		t.Fatalf("expected refill after 21m: %v", err)
	}
}

func TestMemoryCleanupEvictsIdleKeys(t *testing.T) {
	m := NewMemory(10, time.Hour)
	defer m.Stop()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_ = m.Allow(context.Background(), "a")
	_ = m.Allow(context.Background(), "b")
	if m.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", m.Len())
	}

	now = now.Add(3 * time.Hour)
	m.cleanup()
	if m.Len() != 0 {
		t.Fatalf("expected idle keys evicted, got %d", m.Len())
	}
}

func TestRedisLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedis(queue.NewRateLimiter(rdb, "chat", 1), zerolog.Nop(), metrics.New())
	l.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	if err := l.Allow(context.Background(), "s"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := l.Allow(context.Background(), "s"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}
}

func TestRedisLimiterAllowsWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	m := metrics.New()
	l := NewRedis(queue.NewRateLimiter(rdb, "chat", 1), zerolog.Nop(), m)
	for i := 0; i < 3; i++ {
		if err := l.Allow(context.Background(), "s"); err != nil {
			t.Fatalf("call %d: expected request to pass while redis is down, got %v", i+1, err)
		}
	}

	var pb dto.Metric
	if err := m.LimiterErrors.WithLabelValues("chat").Write(&pb); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 3 {
		t.Fatalf("limiter errors = %v, want 3", got)
	}
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 100; i++ {
		if err := l.Allow(context.Background(), "x"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}
