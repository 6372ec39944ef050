package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"relaychat/internal/metrics"
	"relaychat/internal/queue"
	"relaychat/internal/storage"
)

var ErrReadFailed = errors.New("conversation read failed")

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Store interface {
	AppendTurn(ctx context.Context, t storage.Turn) (storage.Turn, error)
	ListTurns(ctx context.Context, f storage.TurnFilter) ([]storage.Turn, int64, error)
	TurnStats(ctx context.Context, dayStart time.Time) (storage.TurnStats, error)
}

type Config struct {
	Store Store
	// Queue switches Append to the redis stream; nil writes straight to Store.
	Queue   *queue.StreamQueue
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Recorder struct {
	store   Store
	queue   *queue.StreamQueue
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg Config) *Recorder {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		store:   cfg.Store,
		queue:   cfg.Queue,
		logger:  cfg.Logger,
		metrics: m,
		now:     now,
	}
}

// Append assigns id and created_at when missing and hands the turn to the sink.
func (r *Recorder) Append(ctx context.Context, t storage.Turn) (storage.Turn, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now().UTC()
	}

	if r.queue != nil {
		if _, err := r.queue.Enqueue(ctx, queue.TurnJob{JobID: t.ID, Turn: t}); err != nil {
			r.metrics.RecordFailures.Inc()
			return storage.Turn{}, fmt.Errorf("enqueue turn: %w", err)
		}
		r.metrics.EnqueuedJobs.Inc()
		r.metrics.TurnsRecorded.WithLabelValues(t.MessageType).Inc()
		return t, nil
	}

	saved, err := r.store.AppendTurn(ctx, t)
	if err != nil {
		r.metrics.RecordFailures.Inc()
		return storage.Turn{}, err
	}
	r.metrics.TurnsRecorded.WithLabelValues(t.MessageType).Inc()
	return saved, nil
}

type Filter struct {
	Page      int
	Limit     int
	SessionID string
	From      *time.Time
	To        *time.Time
}

// Normalize clamps paging to page >= 1 and 1 <= limit <= MaxLimit.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

type Page struct {
	Turns []storage.Turn
	Stats storage.TurnStats
	Page  int
	Limit int
	Total int64
}

// ListRecent returns a page of turns newest first. Stats always cover the
// whole log, not just the filtered rows.
func (r *Recorder) ListRecent(ctx context.Context, f Filter) (Page, error) {
	f = f.Normalize()

	turns, total, err := r.store.ListTurns(ctx, storage.TurnFilter{
		SessionID: f.SessionID,
		From:      f.From,
		To:        f.To,
		Limit:     f.Limit,
		Offset:    (f.Page - 1) * f.Limit,
	})
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	stats, err := r.store.TurnStats(ctx, dayStart(r.now()))
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	return Page{Turns: turns, Stats: stats, Page: f.Page, Limit: f.Limit, Total: total}, nil
}

func dayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
