// Package catalog loads the declarative set of managed MCP servers from a
// JSON document and watches it for changes. It implements spec.md §3.1 and
// §4.1, grounded on the teacher's internal/mcp/config.go loader (the same
// shape, re-pointed at the JSON wire format §6.1 requires instead of YAML).
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// Kind is the transport family of a managed server.
type Kind string

const (
	KindStdio          Kind = "stdio"
	KindSSE            Kind = "sse"
	KindStreamableHTTP Kind = "streamable-http"
)

// ProxyType selects which bridge implementation fronts a server.
type ProxyType string

const (
	ProxyMCPO      ProxyType = "mcpo"
	ProxyMCPBridge ProxyType = "mcp-bridge"
)

// ServerSpec is the immutable identity and desired state for one managed
// server (spec.md §3.1).
type ServerSpec struct {
	ID   string
	Kind Kind

	// stdio fields
	Command       string
	Args          []string
	Env           map[string]string
	Cwd           string
	EnvFilePath   string
	ProxyTypeHint ProxyType
	NeedsProxy    bool

	// remote fields
	URL     string
	Headers map[string]string

	AlwaysAllow []string
}

// rawEntry mirrors the JSON wire shape of one mcpServers[id] value
// (spec.md §6.1). Unknown fields are ignored by encoding/json by default.
type rawEntry struct {
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	EnvFile     string            `json:"envFile,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Transport   string            `json:"transport,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	NeedsProxy  *bool             `json:"needsProxy,omitempty"`
	ProxyType   string            `json:"proxyType,omitempty"`
	AlwaysAllow []string          `json:"alwaysAllow,omitempty"`
}

type rawDocument struct {
	MCPServers map[string]rawEntry `json:"mcpServers"`
}

// serverNamePattern is informational-only per spec.md §4.1: a name failing
// this pattern still gets a warning, never a rejection.
var serverNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// Warning is an informational parse-time note that does not block loading.
type Warning struct {
	ServerID string
	Message  string
}

// ParseResult is the output of Parse: the accepted specs plus any
// informational warnings and the content digest used by the watcher.
type ParseResult struct {
	Specs    map[string]*ServerSpec
	Warnings []Warning
	Digest   string
}

// Parse decodes a catalog JSON document into ServerSpecs per the parsing
// rules of spec.md §4.1. It returns an error only for a document that is
// not valid JSON; unusable entries are skipped with a Warning. A server id
// repeated in the document is not detected: the JSON decoder keeps the
// last value for it. Boot-fatal port misconfiguration is validated by the
// caller, not here.
func Parse(data []byte) (*ParseResult, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	result := &ParseResult{Specs: make(map[string]*ServerSpec)}

	for id, entry := range doc.MCPServers {
		if !serverNamePattern.MatchString(id) {
			result.Warnings = append(result.Warnings, Warning{
				ServerID: id,
				Message:  "server id does not match the recommended ^[a-zA-Z][a-zA-Z0-9_-]{0,63}$ pattern",
			})
		}

		spec, warn, ok := buildSpec(id, entry)
		if !ok {
			result.Warnings = append(result.Warnings, Warning{ServerID: id, Message: warn})
			continue
		}
		if warn != "" {
			result.Warnings = append(result.Warnings, Warning{ServerID: id, Message: warn})
		}
		result.Specs[id] = spec
	}

	result.Digest = digest(data)
	return result, nil
}

func buildSpec(id string, e rawEntry) (*ServerSpec, string, bool) {
	switch {
	case e.Transport == "sse" && e.URL != "":
		return &ServerSpec{
			ID: id, Kind: KindSSE, URL: e.URL, Headers: e.Headers,
			NeedsProxy: true, AlwaysAllow: e.AlwaysAllow,
		}, "", true

	case e.Transport == "streamable-http" && e.URL != "":
		return &ServerSpec{
			ID: id, Kind: KindStreamableHTTP, URL: e.URL, Headers: e.Headers,
			NeedsProxy: true, AlwaysAllow: e.AlwaysAllow,
		}, "", true

	case e.Command != "":
		needsProxy := true
		if e.NeedsProxy != nil {
			needsProxy = *e.NeedsProxy
		}
		spec := &ServerSpec{
			ID: id, Kind: KindStdio, Command: e.Command, Args: e.Args,
			Env: e.Env, Cwd: e.Cwd, EnvFilePath: e.EnvFile,
			NeedsProxy: needsProxy, AlwaysAllow: e.AlwaysAllow,
		}
		if e.ProxyType != "" {
			spec.ProxyTypeHint = ProxyType(e.ProxyType)
		}
		return spec, "", true

	default:
		return nil, "entry has neither a command nor a usable transport/url pair; skipped", false
	}
}

// digest combines a content hash so the watcher can short-circuit unchanged
// reloads without re-parsing JSON it has already seen (mtime alone is
// covered by the caller that also stamps the source file's mtime).
func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LoadFile reads and parses the catalog document at path.
func LoadFile(path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// IDs returns the sorted set of server ids in a ParseResult, useful for
// deterministic logging and tests.
func (r *ParseResult) IDs() []string {
	ids := make([]string, 0, len(r.Specs))
	for id := range r.Specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
