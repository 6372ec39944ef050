package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "test.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAdminLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if st.Driver() != "sqlite" {
		t.Fatalf("unexpected driver %q", st.Driver())
	}

	n, err := st.CountAdmins(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected empty admin table, got n=%d err=%v", n, err)
	}

	created, err := st.CreateAdmin(ctx, Admin{Username: "root", Email: "root@example.com", PasswordHash: "h", IsActive: true})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}

	if _, err := st.CreateAdmin(ctx, Admin{Username: "root", PasswordHash: "x", IsActive: true}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}

	got, err := st.GetAdminByUsername(ctx, "root", true)
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got.ID != created.ID || got.Email != "root@example.com" || got.LastLogin != nil {
		t.Fatalf("unexpected admin %+v", got)
	}

	loginAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := st.TouchLastLogin(ctx, created.ID, loginAt); err != nil {
		t.Fatalf("touch last login: %v", err)
	}
	got, err = st.GetAdminByID(ctx, created.ID, true)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(loginAt) {
		t.Fatalf("expected last login %v, got %v", loginAt, got.LastLogin)
	}

	if err := st.SetAdminActive(ctx, created.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := st.GetAdminByUsername(ctx, "root", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive admin must be hidden from active lookups, got %v", err)
	}
	if _, err := st.GetAdminByUsername(ctx, "root", false); err != nil {
		t.Fatalf("inactive admin must remain visible without the filter: %v", err)
	}

	if err := st.SetAdminActive(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}

	list, err := st.ListAdmins(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one admin, got %d err=%v", len(list), err)
	}
}

func TestActiveProviderConfigPicksNewest(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.ActiveProviderConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty table, got %v", err)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	older, err := st.CreateProviderConfig(ctx, ProviderConfig{Provider: "OpenAI", EncAPIKey: "k1", IsActive: true, CreatedAt: base})
	if err != nil {
		t.Fatalf("create older: %v", err)
	}
	newer, err := st.CreateProviderConfig(ctx, ProviderConfig{
		Provider:   "Claude",
		EncAPIKey:  "k2",
		Model:      "claude-3-sonnet-20240229",
		ParamsJSON: `{"temperature":0.2}`,
		IsActive:   true,
		CreatedAt:  base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("create newer: %v", err)
	}
	if _, err := st.CreateProviderConfig(ctx, ProviderConfig{Provider: "OpenAI", EncAPIKey: "k3", IsActive: false, CreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	got, err := st.ActiveProviderConfig(ctx)
	if err != nil {
		t.Fatalf("active provider: %v", err)
	}
	if got.ID != newer.ID || got.Model != "claude-3-sonnet-20240229" || got.ParamsJSON != `{"temperature":0.2}` {
		t.Fatalf("expected newest active config, got %+v", got)
	}

	off := false
	if _, err := st.UpdateProviderConfig(ctx, newer.ID, ProviderConfigPatch{IsActive: &off}); err != nil {
		t.Fatalf("deactivate newer: %v", err)
	}
	got, err = st.ActiveProviderConfig(ctx)
	if err != nil {
		t.Fatalf("active provider after update: %v", err)
	}
	if got.ID != older.ID || got.Host != "" || got.ParamsJSON != "{}" {
		t.Fatalf("expected fallback to older config, got %+v", got)
	}

	if _, err := st.UpdateProviderConfig(ctx, "missing", ProviderConfigPatch{IsActive: &off}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := st.ListProviderConfigs(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected three configs, got %d err=%v", len(all), err)
	}
}

func TestActiveSystemPrompt(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.ActiveSystemPrompt(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first, err := st.CreateSystemPrompt(ctx, SystemPrompt{Title: "a", Content: "first", IsActive: true, CreatedAt: base})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := st.CreateSystemPrompt(ctx, SystemPrompt{Title: "b", Content: "second", IsActive: true, CreatedAt: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	got, err := st.ActiveSystemPrompt(ctx)
	if err != nil || got.ID != second.ID {
		t.Fatalf("expected second prompt, got %+v err=%v", got, err)
	}

	content := "rewritten"
	updated, err := st.UpdateSystemPrompt(ctx, first.ID, SystemPromptPatch{Content: &content})
	if err != nil {
		t.Fatalf("update prompt: %v", err)
	}
	if updated.Content != "rewritten" || updated.Title != "a" {
		t.Fatalf("unexpected updated prompt %+v", updated)
	}
}

func TestCreateFirstAdminOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	const racers = 8
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.CreateFirstAdmin(ctx, Admin{Username: fmt.Sprintf("root%d", i), PasswordHash: "h", IsActive: true})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrAdminsExist):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one bootstrap admin, got %d", created)
	}
	if n, err := st.CountAdmins(ctx); err != nil || n != 1 {
		t.Fatalf("expected one admin row, got n=%d err=%v", n, err)
	}
}

func TestTurnsListAndStats(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	tokens := 42
	latency := int64(350)
	turns := []Turn{
		{SessionID: "s1", MessageType: MessageTypeUser, Content: "yesterday", CreatedAt: day.Add(-time.Hour)},
		{SessionID: "s1", MessageType: MessageTypeUser, Content: "hi", CreatedAt: day.Add(time.Hour)},
		{SessionID: "s1", MessageType: MessageTypeAssistant, Content: "hello", ProviderUsed: "OpenAI", ModelUsed: "gpt-3.5-turbo", TokensUsed: &tokens, ResponseTimeMs: &latency, CreatedAt: day.Add(time.Hour + time.Second)},
		{SessionID: "s2", MessageType: MessageTypeUser, Content: "other", CreatedAt: day.Add(2 * time.Hour)},
	}
	for _, tr := range turns {
		if _, err := st.AppendTurn(ctx, tr); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}

	stats, err := st.TurnStats(ctx, day)
	if err != nil {
		t.Fatalf("turn stats: %v", err)
	}
	if stats.Total != 4 || stats.Today != 3 || stats.Sessions != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	list, total, err := st.ListTurns(ctx, TurnFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if total != 4 || len(list) != 2 {
		t.Fatalf("expected 2 of 4 turns, got %d of %d", len(list), total)
	}
	if list[0].Content != "other" || list[1].Content != "hello" {
		t.Fatalf("expected newest first, got %q then %q", list[0].Content, list[1].Content)
	}
	if list[1].TokensUsed == nil || *list[1].TokensUsed != 42 || list[1].ResponseTimeMs == nil || *list[1].ResponseTimeMs != 350 {
		t.Fatalf("assistant metrics not preserved: %+v", list[1])
	}
	if list[0].TokensUsed != nil || list[0].ProviderUsed != "" {
		t.Fatalf("user turn must not carry provider metrics: %+v", list[0])
	}

	list, total, err = st.ListTurns(ctx, TurnFilter{SessionID: "s1", Offset: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list session turns: %v", err)
	}
	if total != 3 || len(list) != 2 || list[0].Content != "hi" {
		t.Fatalf("unexpected session page total=%d len=%d", total, len(list))
	}

	from := day
	list, total, err = st.ListTurns(ctx, TurnFilter{From: &from})
	if err != nil {
		t.Fatalf("list from day: %v", err)
	}
	if total != 3 || len(list) != 3 {
		t.Fatalf("expected 3 turns since day start, got %d/%d", len(list), total)
	}
}

func TestTurnStatsTodayStopsAtNextDay(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{day, day.Add(23 * time.Hour), day.Add(24 * time.Hour), day.Add(30 * time.Hour)} {
		if _, err := st.AppendTurn(ctx, Turn{SessionID: "s", MessageType: MessageTypeUser, Content: "x", CreatedAt: at}); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}

	stats, err := st.TurnStats(ctx, day)
	if err != nil {
		t.Fatalf("turn stats: %v", err)
	}
	if stats.Total != 4 || stats.Today != 2 {
		t.Fatalf("expected 2 of 4 turns today, got %+v", stats)
	}
}

func TestAppendTurnIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	tr := Turn{ID: "fixed", SessionID: "s", MessageType: MessageTypeUser, Content: "once", CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
	for i := 0; i < 2; i++ {
		if _, err := st.AppendTurn(ctx, tr); err != nil {
			t.Fatalf("append #%d: %v", i+1, err)
		}
	}
	_, total, err := st.ListTurns(ctx, TurnFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one stored turn, got %d", total)
	}
}
