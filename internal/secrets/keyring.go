package secrets

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "mcp-gateway"

// KeyringBackend stores each server's Bundle, still AEAD-encrypted, as a
// single secret in the OS keychain via zalando/go-keyring. It is an
// opt-in alternative to FileBackend for hosts where a keychain daemon is
// available (spec.md §4.3, fourth tier); it is never selected by the
// automatic persistent/tmpfs/memory fallback in store.go.
type KeyringBackend struct{}

// NewKeyringBackend probes that a keychain is reachable before returning
// a usable backend.
func NewKeyringBackend() (*KeyringBackend, error) {
	b := &KeyringBackend{}
	if _, err := b.Load("__mcp_gateway_probe__"); err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("keychain unavailable: %w", err)
	}
	return b, nil
}

func (k *KeyringBackend) Load(serverID string) (*Bundle, error) {
	raw, err := keyring.Get(keyringService, serverID)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	var bundle Bundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("parse keychain bundle: %w", err)
	}
	return &bundle, nil
}

func (k *KeyringBackend) Save(serverID string, bundle *Bundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	if err := keyring.Set(keyringService, serverID, string(data)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *KeyringBackend) Delete(serverID string) error {
	if err := keyring.Delete(keyringService, serverID); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *KeyringBackend) Mode() string { return "keyring" }
