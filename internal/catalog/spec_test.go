package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSpecStdioDefaultsNeedsProxyTrue(t *testing.T) {
	spec, warn, ok := buildSpec("my-server", rawEntry{Command: "uvx", Args: []string{"mcp-foo"}})
	require.True(t, ok)
	require.Empty(t, warn)
	require.Equal(t, KindStdio, spec.Kind)
	require.Equal(t, "uvx", spec.Command)
	require.True(t, spec.NeedsProxy, "needsProxy defaults true when the field is omitted")
}

func TestBuildSpecStdioHonorsNeedsProxyOverride(t *testing.T) {
	no := false
	spec, _, ok := buildSpec("my-server", rawEntry{Command: "uvx", NeedsProxy: &no})
	require.True(t, ok)
	require.False(t, spec.NeedsProxy)
}

func TestBuildSpecStdioProxyTypeHint(t *testing.T) {
	spec, _, ok := buildSpec("my-server", rawEntry{Command: "uvx", ProxyType: "mcp-bridge"})
	require.True(t, ok)
	require.Equal(t, ProxyMCPBridge, spec.ProxyTypeHint)
}

func TestBuildSpecSSE(t *testing.T) {
	spec, warn, ok := buildSpec("remote", rawEntry{Transport: "sse", URL: "https://example.com/sse"})
	require.True(t, ok)
	require.Empty(t, warn)
	require.Equal(t, KindSSE, spec.Kind)
	require.Equal(t, "https://example.com/sse", spec.URL)
	require.True(t, spec.NeedsProxy)
}

func TestBuildSpecStreamableHTTP(t *testing.T) {
	spec, _, ok := buildSpec("remote", rawEntry{Transport: "streamable-http", URL: "https://example.com/mcp"})
	require.True(t, ok)
	require.Equal(t, KindStreamableHTTP, spec.Kind)
}

func TestBuildSpecRejectsEntryWithNeitherCommandNorURL(t *testing.T) {
	spec, warn, ok := buildSpec("broken", rawEntry{})
	require.False(t, ok)
	require.Nil(t, spec)
	require.NotEmpty(t, warn)
}

func TestParseWarnsOnServerNameOutsidePatternButStillAccepts(t *testing.T) {
	doc := []byte(`{"mcpServers": {"1bad-name": {"command": "uvx"}}}`)
	result, err := Parse(doc)
	require.NoError(t, err)
	require.Contains(t, result.Specs, "1bad-name")
	require.NotEmpty(t, result.Warnings)
}

func TestParseSkipsInvalidEntriesButKeepsTheRest(t *testing.T) {
	doc := []byte(`{"mcpServers": {
		"good": {"command": "uvx"},
		"bad": {}
	}}`)
	result, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, result.Specs, 1)
	require.Contains(t, result.Specs, "good")
	require.NotEmpty(t, result.Warnings)
}

func TestParseDigestIsStableAcrossIdenticalInput(t *testing.T) {
	doc := []byte(`{"mcpServers": {"a": {"command": "uvx"}}}`)
	r1, err := Parse(doc)
	require.NoError(t, err)
	r2, err := Parse(doc)
	require.NoError(t, err)
	require.Equal(t, r1.Digest, r2.Digest)
}

func TestParseDigestChangesWithContent(t *testing.T) {
	a, err := Parse([]byte(`{"mcpServers": {"a": {"command": "uvx"}}}`))
	require.NoError(t, err)
	b, err := Parse([]byte(`{"mcpServers": {"a": {"command": "node"}}}`))
	require.NoError(t, err)
	require.NotEqual(t, a.Digest, b.Digest)
}

func TestLoadFileReadsAndParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"a": {"command": "uvx"}}}`), 0600))

	result, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, result.IDs())
}

func TestLoadFileErrorsOnMissingPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}
