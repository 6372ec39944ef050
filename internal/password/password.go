package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeBcrypt = "bcrypt"
	SchemeSHA256 = "sha256"

	// DefaultLegacySalt matches digests written by earlier deployments.
	DefaultLegacySalt = "salt123"
)

// Digest returns hex(sha256(password || salt)). It is deterministic and is only
// kept so that accounts provisioned with the legacy scheme can still log in.
func Digest(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

type Hasher struct {
	scheme     string
	legacySalt string
	cost       int
}

func NewHasher(scheme, legacySalt string) (*Hasher, error) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		scheme = SchemeBcrypt
	}
	if scheme != SchemeBcrypt && scheme != SchemeSHA256 {
		return nil, fmt.Errorf("unsupported password scheme %q", scheme)
	}
	if legacySalt == "" {
		legacySalt = DefaultLegacySalt
	}
	return &Hasher{scheme: scheme, legacySalt: legacySalt, cost: bcrypt.DefaultCost}, nil
}

// Hash produces the stored form of password for the configured scheme.
func (h *Hasher) Hash(password string) (string, error) {
	if h.scheme == SchemeSHA256 {
		return Digest(password, h.legacySalt), nil
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(b), nil
}

// Verify reports whether password matches stored, whichever scheme produced it.
func (h *Hasher) Verify(password, stored string) bool {
	if stored == "" {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	computed := Digest(password, h.legacySalt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(stored))) == 1
}

func (h *Hasher) Scheme() string {
	return h.scheme
}

func isBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}
