package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	secretsmask "github.com/tombee/mcp-gateway/pkg/secrets"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		SecretsDir:    filepath.Join(dir, "secrets"),
		MasterKeyPath: filepath.Join(dir, "master.key"),
	}
	store, err := New(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "persistent", store.Mode)
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	vars := map[string]string{
		"API_KEY": "s3cr3t",
		"REGION":  "us-east-1",
	}
	require.NoError(t, store.Save("server-a", vars))

	got, err := store.Load("server-a")
	require.NoError(t, err)
	require.Equal(t, vars, got)
}

func TestLoadOfUnknownServerReturnsEmptyMap(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Load("nope")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCorruptEntrySkippedNotFatal(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("server-a", map[string]string{
		"GOOD": "fine",
		"BAD":  "also-fine-for-now",
	}))

	bundle, err := store.backend.Load("server-a")
	require.NoError(t, err)
	blob := bundle.Variables["BAD"]
	blob.Ciphertext = []byte("not even valid ciphertext")
	bundle.Variables["BAD"] = blob
	require.NoError(t, store.backend.Save("server-a", bundle))
	store.cache.invalidate("server-a")

	got, err := store.Load("server-a")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"GOOD": "fine"}, got)
}

func TestSaveInvalidatesCache(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("server-a", map[string]string{"A": "1"}))

	_, err := store.Load("server-a")
	require.NoError(t, err)
	_, cached := store.cache.get("server-a")
	require.True(t, cached)

	require.NoError(t, store.Save("server-a", map[string]string{"A": "2"}))
	_, cached = store.cache.get("server-a")
	require.False(t, cached)

	got, err := store.Load("server-a")
	require.NoError(t, err)
	require.Equal(t, "2", got["A"])
}

func TestDeleteRemovesBundleAndCache(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("server-a", map[string]string{"A": "1"}))
	_, err := store.Load("server-a")
	require.NoError(t, err)

	require.NoError(t, store.Delete("server-a"))

	_, cached := store.cache.get("server-a")
	require.False(t, cached)
	got, err := store.Load("server-a")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSummaryNeverExposesPlaintext(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("server-a", map[string]string{
		"A": "secret-value",
		"B": "another-secret",
	}))

	summaries, err := store.Summary("server-a")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "A", summaries[0].Name)
	require.Equal(t, "B", summaries[1].Name)
	for _, sum := range summaries {
		require.Equal(t, "********", sum.Placeholder)
		require.NotContains(t, sum.Placeholder, "secret")
	}
}

func TestSummaryInfersTypeAndRequiredness(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("server-a", map[string]string{
		"GITHUB_API_KEY": "x",
		"BASE_URL":       "https://example.com",
	}))

	summaries, err := store.Summary("server-a")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byName := map[string]Summary{}
	for _, sum := range summaries {
		byName[sum.Name] = sum
	}

	require.Equal(t, secretsmask.TypeAPIKey, byName["GITHUB_API_KEY"].InferredType)
	require.True(t, byName["GITHUB_API_KEY"].Required)

	require.Equal(t, secretsmask.TypeURL, byName["BASE_URL"].InferredType)
	require.False(t, byName["BASE_URL"].Required)
}

func TestSaveIsAtomicOnDisk(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("server-a", map[string]string{"A": "1"}))

	fb := store.backend.(*FileBackend)
	entries, err := os.ReadDir(fb.dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp", "no leftover temp file after a successful save")
	}
}

func TestFallsBackWhenPersistentDirUnwritable(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permission bits")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.MkdirAll(blocked, 0500))

	cfg := Config{
		SecretsDir:    filepath.Join(blocked, "secrets"),
		MasterKeyPath: filepath.Join(dir, "master.key"),
	}
	store, err := New(cfg, nil)
	require.NoError(t, err)
	require.NotEqual(t, "persistent", store.Mode, "unwritable dir must fall through to tmpfs or memory")
}
