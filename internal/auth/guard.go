// Package auth gates the admin API and manages admin accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaychat/internal/session"
	"relaychat/internal/storage"
)

var (
	ErrMissingCredential      = errors.New("missing credential")
	ErrUnknownOrInactiveAdmin = errors.New("unknown or inactive admin")
)

type AdminStore interface {
	CreateAdmin(ctx context.Context, a storage.Admin) (storage.Admin, error)
	CreateFirstAdmin(ctx context.Context, a storage.Admin) (storage.Admin, error)
	GetAdminByID(ctx context.Context, id string, activeOnly bool) (storage.Admin, error)
	GetAdminByUsername(ctx context.Context, username string, activeOnly bool) (storage.Admin, error)
	ListAdmins(ctx context.Context) ([]storage.Admin, error)
	CountAdmins(ctx context.Context) (int64, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	SetAdminActive(ctx context.Context, id string, active bool) error
}

// Identity is what a privileged request runs as.
type Identity struct {
	Claims session.Claims
	Admin  storage.Admin
}

type Guard struct {
	tokens *session.Manager
	store  AdminStore
}

func NewGuard(tokens *session.Manager, store AdminStore) *Guard {
	return &Guard{tokens: tokens, store: store}
}

// Authorize checks the Authorization header value and resolves the active admin
// it names. Token errors from the session package are returned unchanged.
func (g *Guard) Authorize(ctx context.Context, authorization string) (Identity, error) {
	token, err := BearerToken(authorization)
	if err != nil {
		return Identity{}, err
	}
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	admin, err := g.store.GetAdminByID(ctx, claims.AdminID, true)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Identity{}, ErrUnknownOrInactiveAdmin
		}
		return Identity{}, fmt.Errorf("lookup admin: %w", err)
	}
	return Identity{Claims: claims, Admin: admin}, nil
}

// BearerToken strips a case-insensitive "Bearer " prefix. A bare token is
// accepted as is.
func BearerToken(header string) (string, error) {
	h := strings.TrimSpace(header)
	if len(h) >= 7 && strings.EqualFold(h[:7], "bearer ") {
		h = strings.TrimSpace(h[7:])
	} else if strings.EqualFold(h, "bearer") {
		h = ""
	}
	if h == "" {
		return "", ErrMissingCredential
	}
	return h, nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// IsAuthError reports whether err should be answered with 401.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrUnknownOrInactiveAdmin) ||
		errors.Is(err, ErrInvalidCredentials) ||
		session.IsAuthError(err)
}
