package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var providerColumns = []string{
	"id", "api_provider", "enc_api_key", "api_host", "api_endpoint", "model_name",
	"parameters", "is_active", "created_at", "updated_at",
}

var promptColumns = []string{"id", "title", "content", "is_active", "created_at", "updated_at"}

func (s *Store) CreateProviderConfig(ctx context.Context, p ProviderConfig) (ProviderConfig, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.ParamsJSON == "" {
		p.ParamsJSON = "{}"
	}
	q := s.sql.Insert("api_configs").
		Columns(providerColumns...).
		Values(p.ID, p.Provider, p.EncAPIKey, nullIfEmpty(p.Host), nullIfEmpty(p.Endpoint), nullIfEmpty(p.Model),
			p.ParamsJSON, p.IsActive, p.CreatedAt, p.UpdatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("build create provider config query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return ProviderConfig{}, fmt.Errorf("create provider config: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateProviderConfig(ctx context.Context, id string, patch ProviderConfigPatch) (ProviderConfig, error) {
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = time.Now().UTC()
	}
	q := s.sql.Update("api_configs").Set("updated_at", patch.UpdatedAt).Where(sq.Eq{"id": id})
	if patch.Provider != nil {
		q = q.Set("api_provider", *patch.Provider)
	}
	if patch.EncAPIKey != nil {
		q = q.Set("enc_api_key", *patch.EncAPIKey)
	}
	if patch.Host != nil {
		q = q.Set("api_host", nullIfEmpty(*patch.Host))
	}
	if patch.Endpoint != nil {
		q = q.Set("api_endpoint", nullIfEmpty(*patch.Endpoint))
	}
	if patch.Model != nil {
		q = q.Set("model_name", nullIfEmpty(*patch.Model))
	}
	if patch.ParamsJSON != nil {
		q = q.Set("parameters", *patch.ParamsJSON)
	}
	if patch.IsActive != nil {
		q = q.Set("is_active", *patch.IsActive)
	}
	if err := s.execAffecting(ctx, q, "update provider config"); err != nil {
		return ProviderConfig{}, err
	}
	return s.GetProviderConfig(ctx, id)
}

func (s *Store) GetProviderConfig(ctx context.Context, id string) (ProviderConfig, error) {
	return s.getProviderConfig(ctx, s.sql.Select(providerColumns...).From("api_configs").Where(sq.Eq{"id": id}))
}

// ActiveProviderConfig returns the most recently created active row. Several rows
// may be active at once; only the newest is used.
func (s *Store) ActiveProviderConfig(ctx context.Context) (ProviderConfig, error) {
	q := s.sql.Select(providerColumns...).
		From("api_configs").
		Where(sq.Eq{"is_active": true}).
		OrderBy("created_at DESC").
		Limit(1)
	return s.getProviderConfig(ctx, q)
}

func (s *Store) getProviderConfig(ctx context.Context, q sq.SelectBuilder) (ProviderConfig, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("build provider config query: %w", err)
	}
	p, err := scanProviderConfig(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProviderConfig{}, ErrNotFound
		}
		return ProviderConfig{}, fmt.Errorf("get provider config: %w", err)
	}
	return p, nil
}

func (s *Store) ListProviderConfigs(ctx context.Context) ([]ProviderConfig, error) {
	q := s.sql.Select(providerColumns...).From("api_configs").OrderBy("created_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list provider configs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	defer rows.Close()

	out := make([]ProviderConfig, 0)
	for rows.Next() {
		p, err := scanProviderConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider config row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider config rows: %w", err)
	}
	return out, nil
}

func scanProviderConfig(row rowScanner) (ProviderConfig, error) {
	var p ProviderConfig
	var host, endpoint, model sql.NullString
	if err := row.Scan(
		&p.ID,
		&p.Provider,
		&p.EncAPIKey,
		&host,
		&endpoint,
		&model,
		&p.ParamsJSON,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return ProviderConfig{}, err
	}
	p.Host = host.String
	p.Endpoint = endpoint.String
	p.Model = model.String
	return p, nil
}

func (s *Store) CreateSystemPrompt(ctx context.Context, p SystemPrompt) (SystemPrompt, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	q := s.sql.Insert("base_prompts").
		Columns(promptColumns...).
		Values(p.ID, p.Title, p.Content, p.IsActive, p.CreatedAt, p.UpdatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return SystemPrompt{}, fmt.Errorf("build create prompt query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return SystemPrompt{}, fmt.Errorf("create prompt: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateSystemPrompt(ctx context.Context, id string, patch SystemPromptPatch) (SystemPrompt, error) {
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = time.Now().UTC()
	}
	q := s.sql.Update("base_prompts").Set("updated_at", patch.UpdatedAt).Where(sq.Eq{"id": id})
	if patch.Title != nil {
		q = q.Set("title", *patch.Title)
	}
	if patch.Content != nil {
		q = q.Set("content", *patch.Content)
	}
	if patch.IsActive != nil {
		q = q.Set("is_active", *patch.IsActive)
	}
	if err := s.execAffecting(ctx, q, "update prompt"); err != nil {
		return SystemPrompt{}, err
	}
	return s.getSystemPrompt(ctx, s.sql.Select(promptColumns...).From("base_prompts").Where(sq.Eq{"id": id}))
}

// ActiveSystemPrompt follows the same newest-active-wins rule as ActiveProviderConfig.
func (s *Store) ActiveSystemPrompt(ctx context.Context) (SystemPrompt, error) {
	q := s.sql.Select(promptColumns...).
		From("base_prompts").
		Where(sq.Eq{"is_active": true}).
		OrderBy("created_at DESC").
		Limit(1)
	return s.getSystemPrompt(ctx, q)
}

func (s *Store) getSystemPrompt(ctx context.Context, q sq.SelectBuilder) (SystemPrompt, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return SystemPrompt{}, fmt.Errorf("build prompt query: %w", err)
	}
	var p SystemPrompt
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&p.ID, &p.Title, &p.Content, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SystemPrompt{}, ErrNotFound
		}
		return SystemPrompt{}, fmt.Errorf("get prompt: %w", err)
	}
	return p, nil
}

func (s *Store) ListSystemPrompts(ctx context.Context) ([]SystemPrompt, error) {
	q := s.sql.Select(promptColumns...).From("base_prompts").OrderBy("created_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list prompts query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	out := make([]SystemPrompt, 0)
	for rows.Next() {
		var p SystemPrompt
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt rows: %w", err)
	}
	return out, nil
}
