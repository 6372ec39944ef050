// Package ratelimit throttles chat and login attempts per key. The redis
// backend is shared across instances; the in-memory one is used when no
// redis address is configured.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"relaychat/internal/metrics"
	"relaychat/internal/queue"
)

var ErrLimited = errors.New("rate limited")

type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Unlimited never rejects. It is used when a per-hour limit is zero.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) error { return nil }

// Redis counts requests in a shared fixed window. A redis failure lets the
// request through; only an exceeded count rejects.
type Redis struct {
	rl      *queue.RateLimiter
	name    string
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRedis(rl *queue.RateLimiter, logger zerolog.Logger, m *metrics.Metrics) *Redis {
	if m == nil {
		m = metrics.Global()
	}
	return &Redis{rl: rl, name: rl.Prefix(), logger: logger, metrics: m, now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, key string) error {
	allowed, _, _, err := r.rl.Allow(ctx, key, r.now())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.metrics.LimiterErrors.WithLabelValues(r.name).Inc()
		r.logger.Warn().Err(err).Str("limiter", r.name).Int64("limit", r.rl.Limit()).Msg("rate limiter unavailable, allowing request")
		return nil
	}
	if !allowed {
		return ErrLimited
	}
	return nil
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Memory keeps one token bucket per key, refilled at perHour/3600 tokens a
// second with a burst of perHour. Idle keys are evicted by a background loop.
type Memory struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*keyLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewMemory(perHour int, cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	m := &Memory{
		limit:    rate.Limit(float64(perHour) / 3600.0),
		burst:    perHour,
		idle:     2 * cleanupInterval,
		now:      time.Now,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}
	go m.cleanupLoop(cleanupInterval)
	return m
}

func (m *Memory) Allow(_ context.Context, key string) error {
	now := m.now()

	m.mu.Lock()
	kl, ok := m.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.limiters[key] = kl
	}
	kl.lastAccess = now
	m.mu.Unlock()

	if !kl.limiter.AllowN(now, 1) {
		return ErrLimited
	}
	return nil
}

func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) cleanup() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, kl := range m.limiters {
		if now.Sub(kl.lastAccess) > m.idle {
			delete(m.limiters, key)
		}
	}
}
