package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLiveCounter struct{ n int }

func (f fakeLiveCounter) LiveCount() int { return f.n }

func writeCatalog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestWatcherPollLoadsInitialCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	writeCatalog(t, path, `{"mcpServers": {"a": {"command": "uvx"}}}`)

	var got *ParseResult
	w := NewWatcher(path, fakeLiveCounter{}, func(r *ParseResult) { got = r }, nil)
	w.poll()

	require.NotNil(t, got)
	require.Contains(t, got.Specs, "a")
}

func TestWatcherSkipsReloadWhenContentUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	writeCatalog(t, path, `{"mcpServers": {"a": {"command": "uvx"}}}`)

	calls := 0
	w := NewWatcher(path, fakeLiveCounter{}, func(r *ParseResult) { calls++ }, nil)
	w.poll()
	require.Equal(t, 1, calls)

	later := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
	w.poll()
	require.Equal(t, 1, calls, "identical content must not re-trigger onChange even though mtime moved")
}

func TestWatcherReloadsOnContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	writeCatalog(t, path, `{"mcpServers": {"a": {"command": "uvx"}}}`)

	calls := 0
	w := NewWatcher(path, fakeLiveCounter{}, func(r *ParseResult) { calls++ }, nil)
	w.poll()
	require.Equal(t, 1, calls)

	later := time.Now().Add(time.Second)
	writeCatalog(t, path, `{"mcpServers": {"a": {"command": "uvx"}, "b": {"command": "node"}}}`)
	require.NoError(t, os.Chtimes(path, later, later))
	w.poll()
	require.Equal(t, 2, calls)
}

func TestWatcherMassShutdownGuardBlocksEmptyReloadWhenManyLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	writeCatalog(t, path, `{"mcpServers": {"a": {"command": "uvx"}}}`)

	calls := 0
	w := NewWatcher(path, fakeLiveCounter{n: massShutdownGuardThreshold + 1}, func(r *ParseResult) { calls++ }, nil)
	w.poll()
	require.Equal(t, 1, calls)

	later := time.Now().Add(time.Second)
	writeCatalog(t, path, `{"mcpServers": {}}`)
	require.NoError(t, os.Chtimes(path, later, later))
	w.poll()
	require.Equal(t, 1, calls, "an empty reload while many servers are live must be aborted, not applied")
}

func TestWatcherAllowsEmptyReloadWhenFewLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	writeCatalog(t, path, `{"mcpServers": {"a": {"command": "uvx"}}}`)

	calls := 0
	w := NewWatcher(path, fakeLiveCounter{n: massShutdownGuardThreshold}, func(r *ParseResult) { calls++ }, nil)
	w.poll()
	require.Equal(t, 1, calls)

	later := time.Now().Add(time.Second)
	writeCatalog(t, path, `{"mcpServers": {}}`)
	require.NoError(t, os.Chtimes(path, later, later))
	w.poll()
	require.Equal(t, 2, calls, "a live count at or below the guard threshold may scale to zero")
}

func TestWatcherStatFailureIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	calls := 0
	w := NewWatcher(path, fakeLiveCounter{}, func(r *ParseResult) { calls++ }, nil)
	w.poll()
	require.Equal(t, 0, calls)
}

func TestWatcherStartStopRunsPollingLoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	writeCatalog(t, path, `{"mcpServers": {"a": {"command": "uvx"}}}`)

	calls := make(chan struct{}, 2)
	w := NewWatcher(path, fakeLiveCounter{}, func(r *ParseResult) { calls <- struct{}{} }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	defer w.Stop()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the initial synchronous load to fire onChange")
	}
	cancel()
}
