package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var turnColumns = []string{
	"id", "user_id", "session_id", "message_type", "message_content",
	"api_provider_used", "model_used", "tokens_used", "response_time", "created_at",
}

func (s *Store) AppendTurn(ctx context.Context, t Turn) (Turn, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.CreatedAt = t.CreatedAt.UTC()

	var tokens, latency any
	if t.TokensUsed != nil {
		tokens = *t.TokensUsed
	}
	if t.ResponseTimeMs != nil {
		latency = *t.ResponseTimeMs
	}

	q := s.sql.Insert("conversations").
		Columns(turnColumns...).
		Values(t.ID, nullIfEmpty(t.UserID), t.SessionID, t.MessageType, t.Content,
			nullIfEmpty(t.ProviderUsed), nullIfEmpty(t.ModelUsed), tokens, latency, t.CreatedAt)

	// Redelivered stream jobs carry the same id; the second insert is a no-op.
	q = q.Suffix("ON CONFLICT (id) DO NOTHING")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Turn{}, fmt.Errorf("build append turn query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	return t, nil
}

// ListTurns returns turns newest first, plus the number of rows matching the
// filter before limit/offset were applied.
func (s *Store) ListTurns(ctx context.Context, f TurnFilter) ([]Turn, int64, error) {
	where := turnWhere(f)

	countQ := s.sql.Select("COUNT(*)").From("conversations")
	q := s.sql.Select(turnColumns...).From("conversations").OrderBy("created_at DESC", "id DESC")
	if len(where) > 0 {
		countQ = countQ.Where(where)
		q = q.Where(where)
	}

	countSQL, countArgs, err := countQ.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count turns query: %w", err)
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count turns: %w", err)
	}

	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list turns query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	out := make([]Turn, 0)
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate turn rows: %w", err)
	}
	return out, total, nil
}

// TurnStats counts all turns, the turns created within the 24 hours starting at
// dayStart and the distinct session ids.
func (s *Store) TurnStats(ctx context.Context, dayStart time.Time) (TurnStats, error) {
	var st TurnStats

	sqlStr, args, err := s.sql.Select("COUNT(*)", "COUNT(DISTINCT session_id)").From("conversations").ToSql()
	if err != nil {
		return TurnStats{}, fmt.Errorf("build turn stats query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&st.Total, &st.Sessions); err != nil {
		return TurnStats{}, fmt.Errorf("turn stats: %w", err)
	}

	sqlStr, args, err = s.sql.Select("COUNT(*)").
		From("conversations").
		Where(sq.And{
			sq.GtOrEq{"created_at": dayStart.UTC()},
			sq.Lt{"created_at": dayStart.UTC().Add(24 * time.Hour)},
		}).
		ToSql()
	if err != nil {
		return TurnStats{}, fmt.Errorf("build today stats query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&st.Today); err != nil {
		return TurnStats{}, fmt.Errorf("today stats: %w", err)
	}
	return st, nil
}

func turnWhere(f TurnFilter) sq.And {
	where := sq.And{}
	if f.SessionID != "" {
		where = append(where, sq.Eq{"session_id": f.SessionID})
	}
	if f.From != nil {
		where = append(where, sq.GtOrEq{"created_at": f.From.UTC()})
	}
	if f.To != nil {
		where = append(where, sq.LtOrEq{"created_at": f.To.UTC()})
	}
	return where
}

func scanTurn(row rowScanner) (Turn, error) {
	var t Turn
	var userID, provider, model sql.NullString
	var tokens, latency sql.NullInt64
	if err := row.Scan(
		&t.ID,
		&userID,
		&t.SessionID,
		&t.MessageType,
		&t.Content,
		&provider,
		&model,
		&tokens,
		&latency,
		&t.CreatedAt,
	); err != nil {
		return Turn{}, err
	}
	t.UserID = userID.String
	t.ProviderUsed = provider.String
	t.ModelUsed = model.String
	if tokens.Valid {
		n := int(tokens.Int64)
		t.TokensUsed = &n
	}
	if latency.Valid {
		ms := latency.Int64
		t.ResponseTimeMs = &ms
	}
	return t, nil
}
