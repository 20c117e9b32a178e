// Package secrets implements the per-server encrypted secret store of
// spec.md §3.6/§4.3: one JSON bundle per server id, AES-256-GCM per value,
// atomic temp-file-then-rename writes, and a 5-minute read cache.
//
// Grounded on the teacher's internal/secrets/file.go (AEAD construction,
// argon2 key derivation, atomic rename) adapted to the per-key EncryptedBlob
// wire shape spec.md §3.6 requires instead of one encrypted blob per file.
package secrets

import (
	"time"
)

// EncryptedBlob is one encrypted secret value as persisted on disk.
type EncryptedBlob struct {
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	Algorithm  string    `json:"algorithm"`
	At         time.Time `json:"at"`
}

// Metadata summarizes a bundle without exposing plaintext.
type Metadata struct {
	KeyCount int `json:"keyCount"`
	Version  int `json:"version"`
}

// Bundle is the on-disk JSON document for one server's secrets
// (<env-dir>/<serverId>.env.json, mode 0600, spec.md §6.2).
type Bundle struct {
	ServerID    string                   `json:"serverId"`
	LastUpdated time.Time                `json:"lastUpdated"`
	Variables   map[string]EncryptedBlob `json:"variables"`
	Metadata    Metadata                 `json:"metadata"`
}

// BundleVersion is the current on-disk format version.
const BundleVersion = 1

func newBundle(serverID string) *Bundle {
	return &Bundle{
		ServerID:  serverID,
		Variables: make(map[string]EncryptedBlob),
		Metadata:  Metadata{Version: BundleVersion},
	}
}
