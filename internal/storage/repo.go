package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
	ErrAdminsExist = errors.New("an admin already exists")
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var adminColumns = []string{"id", "username", "email", "password_hash", "is_active", "last_login", "created_at"}

func (s *Store) CreateAdmin(ctx context.Context, a Admin) (Admin, error) {
	return s.insertAdmin(ctx, s.db, a)
}

// CreateFirstAdmin inserts a only while admin_users is empty and returns
// ErrAdminsExist otherwise. The count and the insert share one transaction;
// postgres additionally locks the table so concurrent bootstraps serialise.
func (s *Store) CreateFirstAdmin(ctx context.Context, a Admin) (Admin, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Admin{}, fmt.Errorf("begin first admin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.driver == "postgres" {
		if _, err := tx.ExecContext(ctx, "LOCK TABLE admin_users IN SHARE ROW EXCLUSIVE MODE"); err != nil {
			return Admin{}, fmt.Errorf("lock admin_users: %w", err)
		}
	}
	n, err := s.countAdmins(ctx, tx)
	if err != nil {
		return Admin{}, err
	}
	if n > 0 {
		return Admin{}, ErrAdminsExist
	}
	a, err = s.insertAdmin(ctx, tx, a)
	if err != nil {
		return Admin{}, err
	}
	if err := tx.Commit(); err != nil {
		return Admin{}, fmt.Errorf("commit first admin: %w", err)
	}
	return a, nil
}

func (s *Store) insertAdmin(ctx context.Context, db execer, a Admin) (Admin, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	q := s.sql.Insert("admin_users").
		Columns("id", "username", "email", "password_hash", "is_active", "created_at").
		Values(a.ID, a.Username, a.Email, a.PasswordHash, a.IsActive, a.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Admin{}, fmt.Errorf("build create admin query: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return Admin{}, ErrConflict
		}
		return Admin{}, fmt.Errorf("create admin: %w", err)
	}
	return a, nil
}

// GetAdminByUsername looks an admin up by username; activeOnly filters out disabled accounts.
func (s *Store) GetAdminByUsername(ctx context.Context, username string, activeOnly bool) (Admin, error) {
	where := sq.Eq{"username": username}
	if activeOnly {
		where["is_active"] = true
	}
	return s.getAdmin(ctx, where)
}

func (s *Store) GetAdminByID(ctx context.Context, id string, activeOnly bool) (Admin, error) {
	where := sq.Eq{"id": id}
	if activeOnly {
		where["is_active"] = true
	}
	return s.getAdmin(ctx, where)
}

func (s *Store) getAdmin(ctx context.Context, where sq.Eq) (Admin, error) {
	q := s.sql.Select(adminColumns...).From("admin_users").Where(where).Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Admin{}, fmt.Errorf("build get admin query: %w", err)
	}
	a, err := scanAdmin(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Admin{}, ErrNotFound
		}
		return Admin{}, fmt.Errorf("get admin: %w", err)
	}
	return a, nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]Admin, error) {
	q := s.sql.Select(adminColumns...).From("admin_users").OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list admins query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	out := make([]Admin, 0)
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin rows: %w", err)
	}
	return out, nil
}

func (s *Store) CountAdmins(ctx context.Context) (int64, error) {
	return s.countAdmins(ctx, s.db)
}

func (s *Store) countAdmins(ctx context.Context, db execer) (int64, error) {
	sqlStr, args, err := s.sql.Select("COUNT(*)").From("admin_users").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count admins query: %w", err)
	}
	var n int64
	if err := db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	q := s.sql.Update("admin_users").Set("last_login", at.UTC()).Where(sq.Eq{"id": id})
	return s.execAffecting(ctx, q, "touch last login")
}

func (s *Store) SetAdminActive(ctx context.Context, id string, active bool) error {
	q := s.sql.Update("admin_users").Set("is_active", active).Where(sq.Eq{"id": id})
	return s.execAffecting(ctx, q, "set admin active")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdmin(row rowScanner) (Admin, error) {
	var a Admin
	var lastLogin sql.NullTime
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.IsActive, &lastLogin, &a.CreatedAt); err != nil {
		return Admin{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLogin = &t
	}
	return a, nil
}

// execAffecting runs an UPDATE and maps "zero rows touched" to ErrNotFound.
func (s *Store) execAffecting(ctx context.Context, q sq.UpdateBuilder, op string) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s query: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
