package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-with-enough-bytes"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(testSecret, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	pairs := []struct{ id, name string }{
		{"7f4c1f5e-1d7a-4d38-9d43-6c0e2b3a9a10", "root"},
		{"1", "operator"},
		{"abc", "名字"},
	}
	for _, p := range pairs {
		token, _, err := m.Issue(p.id, p.name)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		claims, err := m.Verify(token)
		if err != nil {
			t.Fatalf("verify %q: %v", p.name, err)
		}
		if claims.AdminID != p.id || claims.Username != p.name {
			t.Fatalf("claims mismatch: got %+v", claims)
		}
	}
}

func TestVerifyIgnoresSurroundingWhitespace(t *testing.T) {
	m, err := NewManager(testSecret)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.Issue("42", "root")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for _, padded := range []string{" " + token, token + "\n", "\t" + token + "  "} {
		claims, err := m.Verify(padded)
		if err != nil {
			t.Fatalf("verify %q: %v", padded, err)
		}
		if claims.AdminID != "42" {
			t.Fatalf("unexpected claims %+v", claims)
		}
	}
}

func TestTokenShape(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(testSecret, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.Issue("a1", "root")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(parts))
	}

	var header map[string]any
	mustDecodeSegment(t, parts[0], &header)
	if header["alg"] != "HS256" {
		t.Fatalf("expected HS256 header, got %#v", header)
	}

	var payload map[string]any
	mustDecodeSegment(t, parts[1], &payload)
	if payload["adminId"] != "a1" || payload["username"] != "root" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	iat, _ := payload["iat"].(float64)
	exp, _ := payload["exp"].(float64)
	if int64(iat) != now.Unix() {
		t.Fatalf("iat = %v, want %d", iat, now.Unix())
	}
	if int64(exp-iat) != 86400 {
		t.Fatalf("exp - iat = %v, want 86400", exp-iat)
	}
}

func TestVerifyRejectsAnySignatureFlip(t *testing.T) {
	m, err := NewManager(testSecret)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.Issue("a1", "root")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sigStart := strings.LastIndex(token, ".") + 1

	for i := sigStart; i < len(token); i++ {
		b := []byte(token)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		_, err := m.Verify(string(b))
		if !errors.Is(err, ErrBadSignature) {
			t.Fatalf("flip at %d: expected ErrBadSignature, got %v", i, err)
		}
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	m, _ := NewManager(testSecret)
	token, _, _ := m.Issue("a1", "root")
	parts := strings.Split(token, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"adminId":"a2","username":"root","iat":1,"exp":9999999999}`))
	_, err := m.Verify(parts[0] + "." + forged + "." + parts[2])
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	issuer, _ := NewManager(testSecret)
	verifier, _ := NewManager("another-secret-with-enough-bytes")
	token, _, _ := issuer.Issue("a1", "root")
	if _, err := verifier.Verify(token); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	issuedAt := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	issuer, _ := NewManager(testSecret, WithClock(fixedClock(issuedAt)))
	token, claims, err := issuer.Issue("a1", "root")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	justBefore, _ := NewManager(testSecret, WithClock(fixedClock(claims.ExpiresAt.Add(-time.Second))))
	if _, err := justBefore.Verify(token); err != nil {
		t.Fatalf("expected token valid before exp, got %v", err)
	}

	later, _ := NewManager(testSecret, WithClock(fixedClock(issuedAt.Add(25*time.Hour))))
	if _, err := later.Verify(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestWithTTL(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewManager(testSecret, WithClock(fixedClock(now)), WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if m.TTL() != time.Hour {
		t.Fatalf("unexpected ttl %v", m.TTL())
	}
	_, claims, err := m.Issue("a1", "root")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}

	fallback, _ := NewManager(testSecret, WithTTL(0))
	if fallback.TTL() != DefaultTTL {
		t.Fatalf("non-positive ttl must keep the default, got %v", fallback.TTL())
	}
}

func TestVerifyMalformed(t *testing.T) {
	m, _ := NewManager(testSecret)
	for _, tok := range []string{"", "abc", "a.b", "a.b.c.d"} {
		if _, err := m.Verify(tok); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("token %q: expected ErrMalformedToken, got %v", tok, err)
		}
	}
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewManager("short"); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
}

func TestIsAuthError(t *testing.T) {
	if !IsAuthError(ErrExpired) || !IsAuthError(ErrBadSignature) || !IsAuthError(ErrMalformedToken) {
		t.Fatalf("expected token errors to be auth errors")
	}
	if IsAuthError(errors.New("boom")) {
		t.Fatalf("unexpected auth classification")
	}
}

func mustDecodeSegment(t *testing.T, seg string, out any) {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
}
