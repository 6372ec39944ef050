// Package session issues and verifies the stateless admin session token.
//
// A token is an HS256 JWT whose payload carries adminId, username, iat and exp.
// Nothing is stored server side: validity is decided by the signature and the
// expiry alone.
package session

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL = 24 * time.Hour

	minSecretLen = 16
)

var (
	ErrMalformedToken = errors.New("malformed session token")
	ErrBadSignature   = errors.New("session token signature mismatch")
	ErrExpired        = errors.New("session token expired")
	ErrWeakSecret     = fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
)

type Claims struct {
	AdminID  string `json:"adminId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func NewManager(secret string, opts ...Option) (*Manager, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	m := &Manager{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	return m, nil
}

// Issue signs a claim for the admin valid for the configured TTL.
func (m *Manager) Issue(adminID, username string) (string, Claims, error) {
	now := m.now().UTC().Truncate(time.Second)
	claims := Claims{
		AdminID:  adminID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, claims, nil
}

// Verify checks structure, signature and expiry, in that order.
func (m *Manager) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrMalformedToken
	}

	expected, err := m.sign(parts[0] + "." + parts[1])
	if err != nil {
		return Claims{}, err
	}
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return Claims{}, ErrBadSignature
	}

	var claims Claims
	_, err = m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Claims{}, ErrBadSignature
	default:
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if strings.TrimSpace(claims.AdminID) == "" {
		return Claims{}, fmt.Errorf("%w: adminId missing", ErrMalformedToken)
	}
	return claims, nil
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) sign(signingString string) (string, error) {
	sig, err := jwt.SigningMethodHS256.Sign(signingString, m.secret)
	if err != nil {
		return "", fmt.Errorf("compute signature: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// IsAuthError reports whether err came from token verification.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMalformedToken) || errors.Is(err, ErrBadSignature) || errors.Is(err, ErrExpired)
}
