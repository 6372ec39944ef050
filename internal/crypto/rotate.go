package crypto

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relaychat/internal/storage"
)

type ProviderConfigStore interface {
	ListProviderConfigs(ctx context.Context) ([]storage.ProviderConfig, error)
	UpdateProviderConfig(ctx context.Context, id string, patch storage.ProviderConfigPatch) (storage.ProviderConfig, error)
}

// SealedUnderCurrent reports whether sealed was produced with the current key.
func (m *Manager) SealedUnderCurrent(sealed string) bool {
	return strings.HasPrefix(sealed, sealedPrefix+"."+m.currentKeyID+".")
}

// ResealProviderKeys moves every stored provider key onto the current key.
// Plaintext keys are sealed; empty keys are left alone. It returns how many
// rows were rewritten.
func (m *Manager) ResealProviderKeys(ctx context.Context, store ProviderConfigStore) (int, error) {
	configs, err := store.ListProviderConfigs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, cfg := range configs {
		if cfg.EncAPIKey == "" || m.SealedUnderCurrent(cfg.EncAPIKey) {
			continue
		}
		sealed, err := m.Reseal(cfg.EncAPIKey)
		if errors.Is(err, ErrNotSealed) {
			sealed, err = m.Seal(cfg.EncAPIKey)
		}
		if err != nil {
			return n, fmt.Errorf("reseal provider config %s: %w", cfg.ID, err)
		}
		if _, err := store.UpdateProviderConfig(ctx, cfg.ID, storage.ProviderConfigPatch{EncAPIKey: &sealed}); err != nil {
			return n, fmt.Errorf("store resealed key for %s: %w", cfg.ID, err)
		}
		n++
	}
	return n, nil
}
