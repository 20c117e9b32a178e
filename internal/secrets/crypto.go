package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

// associatedData binds every ciphertext to this system so a blob copied
// from elsewhere (or produced by a future incompatible format) fails to
// decrypt loudly instead of silently.
var associatedData = []byte("mcp-gateway-secret-store-v1")

const (
	masterKeySize = 32 // 256 bits

	// Argon2id parameters deriving the AES key from the master key. The
	// master key itself is already 256 bits of CSPRNG output, so this
	// derivation is a belt-and-suspenders step, not the sole source of
	// entropy, matching the teacher's internal/secrets/file.go constants.
	argon2Time      = 1
	argon2MemoryKiB = 19 * 1024
	argon2Threads   = 2

	algorithmTag = "AES-256-GCM"
	nonceSize    = 12 // standard for GCM
)

// loadOrCreateMasterKey reads the AEAD master key from path, generating a
// fresh 256-bit key at mode 0600 on first run (spec.md §4.3 "Crypto").
func loadOrCreateMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != masterKeySize {
			return nil, fmt.Errorf("master key at %s has unexpected length %d", path, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key %s: %w", path, err)
	}

	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create master key dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, key, 0600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("install master key: %w", err)
	}
	return key, nil
}

func deriveAEAD(masterKey []byte) (cipher.AEAD, error) {
	derived := argon2.IDKey(masterKey, associatedData, argon2Time, argon2MemoryKiB, argon2Threads, masterKeySize)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

func encryptValue(masterKey []byte, plaintext string) (EncryptedBlob, error) {
	gcm, err := deriveAEAD(masterKey)
	if err != nil {
		return EncryptedBlob{}, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedBlob{}, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), associatedData)
	return EncryptedBlob{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Algorithm:  algorithmTag,
	}, nil
}

func decryptValue(masterKey []byte, blob EncryptedBlob) (string, error) {
	gcm, err := deriveAEAD(masterKey)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, associatedData)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
