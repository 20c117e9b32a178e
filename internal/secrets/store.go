package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	secretsmask "github.com/tombee/mcp-gateway/pkg/secrets"
)

// Config selects where and how the Store keeps secrets.
type Config struct {
	// SecretsDir is the persistent directory to try first, e.g.
	// ConfigDir()/secrets.
	SecretsDir string
	// MasterKeyPath is the AEAD master key location, e.g.
	// ConfigDir()/master.key.
	MasterKeyPath string
	// PreferKeyring additionally tries the OS keychain before the
	// persistent directory, for hosts that opt into it.
	PreferKeyring bool
}

// Summary describes one stored secret without exposing its value
// (spec.md §4.3 "summary() never returns plaintext"): its name, a masked
// placeholder, an inferred type guessed from the key name alone, and a
// required/optional classification derived from that same inferred type
// (api_key/token/password/secret imply the server cannot function
// without it; url/string are treated as optional).
type Summary struct {
	Name         string                   `json:"name"`
	LastUpdated  time.Time                `json:"lastUpdated"`
	Placeholder  string                   `json:"placeholder"`
	InferredType secretsmask.InferredType `json:"inferredType"`
	Required     bool                     `json:"required"`
}

// Store is the per-server encrypted secret store. It owns exactly one
// Backend, selected once at construction by the persistent -> tmpfs ->
// memory fallback chain, plus the master key used to encrypt every value
// that backend persists.
type Store struct {
	backend   Backend
	masterKey []byte
	cache     *readCache
	logger    *slog.Logger

	// Mode reports which fallback tier is actually in effect, for the
	// management API's status endpoint.
	Mode string
}

// New selects a backend for cfg and returns a ready Store. Backend
// selection never fails: if the persistent directory and tmpfs are both
// unwritable, it falls back to memory-only and logs progressively
// louder warnings, per spec.md §4.3. New returns an error only when the
// master key cannot be loaded or created.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, mode := selectBackend(cfg, logger)

	key, err := loadOrCreateMasterKey(cfg.MasterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}

	return &Store{
		backend:   backend,
		masterKey: key,
		cache:     newReadCache(),
		logger:    logger,
		Mode:      mode,
	}, nil
}

func selectBackend(cfg Config, logger *slog.Logger) (Backend, string) {
	if cfg.PreferKeyring {
		if kb, err := NewKeyringBackend(); err == nil {
			return kb, "keyring"
		} else {
			logger.Warn("keychain unavailable, falling back", "error", err)
		}
	}

	if fb, err := NewFileBackend(cfg.SecretsDir, "persistent"); err == nil {
		return fb, "persistent"
	} else {
		logger.Warn("persistent secrets directory unavailable, falling back to tmpfs",
			"dir", cfg.SecretsDir, "error", err)
	}

	tmpDir := filepath.Join(os.TempDir(), "mcp-gateway-secrets")
	if fb, err := NewFileBackend(tmpDir, "tmpfs"); err == nil {
		logger.Warn("secrets are stored under a temporary directory and will not survive a reboot",
			"dir", tmpDir)
		return fb, "tmpfs"
	} else {
		logger.Error("tmpfs secrets directory unavailable, falling back to memory-only; secrets will not survive a restart",
			"dir", tmpDir, "error", err)
	}

	return NewMemoryBackend(), "memory"
}

// Load decrypts and returns every variable for serverID. A value that
// fails to decrypt is skipped and logged rather than failing the whole
// load, so one corrupt entry cannot take down an otherwise-healthy
// server's secrets (spec.md §4.3).
func (s *Store) Load(serverID string) (map[string]string, error) {
	if cached, ok := s.cache.get(serverID); ok {
		return cached, nil
	}

	bundle, err := s.backend.Load(serverID)
	if err == ErrNotFound {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(bundle.Variables))
	for name, blob := range bundle.Variables {
		plaintext, err := decryptValue(s.masterKey, blob)
		if err != nil {
			s.logger.Warn("dropping secret that failed to decrypt",
				"server_id", serverID, "name", name, "error", err)
			continue
		}
		vars[name] = plaintext
	}

	s.cache.put(serverID, vars)
	return vars, nil
}

// Save encrypts and persists vars as serverID's complete secret set,
// replacing whatever was there before, then invalidates the read cache.
func (s *Store) Save(serverID string, vars map[string]string) error {
	bundle := newBundle(serverID)
	now := time.Now()
	bundle.LastUpdated = now

	for name, plaintext := range vars {
		blob, err := encryptValue(s.masterKey, plaintext)
		if err != nil {
			return fmt.Errorf("encrypt %q: %w", name, err)
		}
		blob.At = now
		bundle.Variables[name] = blob
	}
	bundle.Metadata.KeyCount = len(bundle.Variables)

	if err := s.backend.Save(serverID, bundle); err != nil {
		return err
	}
	s.cache.invalidate(serverID)
	return nil
}

// Delete removes all of serverID's secrets.
func (s *Store) Delete(serverID string) error {
	if err := s.backend.Delete(serverID); err != nil {
		return err
	}
	s.cache.invalidate(serverID)
	return nil
}

// Summary lists serverID's secret names and timestamps without
// decrypting any value.
func (s *Store) Summary(serverID string) ([]Summary, error) {
	bundle, err := s.backend.Load(serverID)
	if err == ErrNotFound {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(bundle.Variables))
	for name, blob := range bundle.Variables {
		inferred := secretsmask.InferType(name)
		summaries = append(summaries, Summary{
			Name:         name,
			LastUpdated:  blob.At,
			Placeholder:  secretsmask.Mask(""),
			InferredType: inferred,
			Required:     requiresSecret(inferred),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

// requiresSecret classifies an inferred type as required or optional for
// summary() (spec.md §4.3). Credential-shaped types are required; a bare
// URL or unrecognized string is treated as optional configuration.
func requiresSecret(t secretsmask.InferredType) bool {
	switch t {
	case secretsmask.TypeAPIKey, secretsmask.TypeToken, secretsmask.TypePassword, secretsmask.TypeSecret:
		return true
	default:
		return false
	}
}
