package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const sealedPrefix = "v1"

var ErrNotSealed = errors.New("value is not sealed")

// Manager seals provider secrets with AES-256-GCM. Several keys can be loaded
// at once so values sealed under a retired key stay readable after rotation.
type Manager struct {
	currentKeyID string
	keys         map[string][]byte
}

func NewManager(currentKeyID string, keys map[string][]byte) (*Manager, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keys map is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		if strings.Contains(id, ".") {
			return nil, fmt.Errorf("key id %q must not contain '.'", id)
		}
		buf := make([]byte, len(key))
		copy(buf, key)
		cp[id] = buf
	}
	return &Manager{currentKeyID: currentKeyID, keys: cp}, nil
}

// Seal encrypts value under the current key and returns "v1.<kid>.<nonce>.<ciphertext>".
func (m *Manager) Seal(value string) (string, error) {
	aead, err := m.aead(m.currentKeyID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, []byte(value), []byte(m.currentKeyID))
	return strings.Join([]string{
		sealedPrefix,
		m.currentKeyID,
		base64.RawURLEncoding.EncodeToString(nonce),
		base64.RawURLEncoding.EncodeToString(ciphertext),
	}, "."), nil
}

// Open reverses Seal using whichever loaded key the value names.
func (m *Manager) Open(sealed string) (string, error) {
	parts := strings.Split(sealed, ".")
	if len(parts) != 4 || parts[0] != sealedPrefix {
		return "", ErrNotSealed
	}
	keyID := parts[1]
	nonce, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := m.aead(keyID)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("nonce has wrong size %d", len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(keyID))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Reseal re-encrypts a sealed value under the current key.
func (m *Manager) Reseal(sealed string) (string, error) {
	plain, err := m.Open(sealed)
	if err != nil {
		return "", err
	}
	return m.Seal(plain)
}

func (m *Manager) CurrentKeyID() string {
	return m.currentKeyID
}

func (m *Manager) aead(keyID string) (cipher.AEAD, error) {
	key, ok := m.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", keyID)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
