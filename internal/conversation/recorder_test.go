package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"relaychat/internal/metrics"
	"relaychat/internal/queue"
	"relaychat/internal/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "conv.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestListRecentStats(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	rec := New(Config{Store: st, Logger: zerolog.Nop(), Metrics: metrics.New(), Now: func() time.Time { return now }})

	// N=7 turns, K=4 today, S=3 sessions
	plan := []struct {
		session string
		at      time.Time
	}{
		{"a", now.Add(-48 * time.Hour)},
		{"a", now.Add(-26 * time.Hour)},
		{"b", now.Add(-16 * time.Hour)},
		{"b", now.Add(-14 * time.Hour)},
		{"b", now.Add(-2 * time.Hour)},
		{"c", now.Add(-1 * time.Hour)},
		{"c", now.Add(-30 * time.Minute)},
	}
	for i, p := range plan {
		if _, err := rec.Append(ctx, storage.Turn{SessionID: p.session, MessageType: storage.MessageTypeUser, Content: fmt.Sprintf("m%d", i), CreatedAt: p.at}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, err := rec.ListRecent(ctx, Filter{})
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if page.Stats.Total != 7 || page.Stats.Today != 4 || page.Stats.Sessions != 3 {
		t.Fatalf("unexpected stats %+v", page.Stats)
	}
	if page.Page != 1 || page.Limit != DefaultLimit || page.Total != 7 || len(page.Turns) != 7 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Turns[0].Content != "m6" {
		t.Fatalf("expected newest first, got %q", page.Turns[0].Content)
	}

	page, err = rec.ListRecent(ctx, Filter{Page: 2, Limit: 2, SessionID: "b"})
	if err != nil {
		t.Fatalf("list session page: %v", err)
	}
	if page.Total != 3 || len(page.Turns) != 1 || page.Turns[0].Content != "m2" {
		t.Fatalf("unexpected session page %+v", page)
	}
	if page.Stats.Total != 7 {
		t.Fatalf("stats must ignore filters, got %+v", page.Stats)
	}
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{Page: -3, Limit: 5000}.Normalize()
	if f.Page != 1 || f.Limit != MaxLimit {
		t.Fatalf("unexpected normalized filter %+v", f)
	}
	f = Filter{}.Normalize()
	if f.Limit != DefaultLimit {
		t.Fatalf("expected default limit, got %d", f.Limit)
	}
}

func TestAppendAssignsIDAndTime(t *testing.T) {
	st := openStore(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	rec := New(Config{Store: st, Metrics: metrics.New(), Now: func() time.Time { return now }})

	got, err := rec.Append(context.Background(), storage.Turn{SessionID: "s", MessageType: storage.MessageTypeUser, Content: "x"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got.ID == "" || !got.CreatedAt.Equal(now) {
		t.Fatalf("expected id and created_at assigned, got %+v", got)
	}
}

func TestAppendStreamMode(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	q := queue.NewStreamQueue(rdb, "turns", "recorders", "c1", -1)
	st := &failingStore{}
	rec := New(Config{Store: st, Queue: q, Metrics: metrics.New()})

	got, err := rec.Append(context.Background(), storage.Turn{SessionID: "s", MessageType: storage.MessageTypeUser, Content: "queued"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if st.appends != 0 {
		t.Fatalf("stream mode must not touch the store directly")
	}

	n, err := q.Len(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one queued job, got %d err=%v", n, err)
	}
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	msgs, err := q.Read(context.Background(), 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("read: %d %v", len(msgs), err)
	}
	if msgs[0].Job.JobID != got.ID || msgs[0].Job.Turn.Content != "queued" {
		t.Fatalf("unexpected job %+v", msgs[0].Job)
	}
}

func TestListRecentReadFailure(t *testing.T) {
	rec := New(Config{Store: &failingStore{}, Metrics: metrics.New()})
	if _, err := rec.ListRecent(context.Background(), Filter{}); !errors.Is(err, ErrReadFailed) {
		t.Fatalf("expected ErrReadFailed, got %v", err)
	}
}

func TestAppendDirectFailure(t *testing.T) {
	rec := New(Config{Store: &failingStore{}, Metrics: metrics.New()})
	if _, err := rec.Append(context.Background(), storage.Turn{SessionID: "s"}); err == nil {
		t.Fatalf("expected append error to be returned to the caller")
	}
}

type failingStore struct {
	appends int
}

func (f *failingStore) AppendTurn(context.Context, storage.Turn) (storage.Turn, error) {
	f.appends++
	return storage.Turn{}, errors.New("db down")
}

func (f *failingStore) ListTurns(context.Context, storage.TurnFilter) ([]storage.Turn, int64, error) {
	return nil, 0, errors.New("db down")
}

func (f *failingStore) TurnStats(context.Context, time.Time) (storage.TurnStats, error) {
	return storage.TurnStats{}, errors.New("db down")
}
