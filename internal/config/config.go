// Package config loads the gateway's own daemon-level settings: listen
// address, port range, default proxy mode, secret storage location. This is
// distinct from the catalog document (internal/catalog), which is the JSON
// file describing the managed MCP servers themselves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ProxyMode selects how the supervisor multiplexes managed servers.
type ProxyMode string

const (
	ModeIndividual ProxyMode = "individual"
	ModeUnified    ProxyMode = "unified"
)

// SecretStorageMode selects where the secret store persists its bundles.
type SecretStorageMode string

const (
	SecretStoragePersistent SecretStorageMode = "persistent"
	SecretStorageTmpfs      SecretStorageMode = "tmpfs"
	SecretStorageMemory     SecretStorageMode = "memory"
	// SecretStorageKeyring additionally tries the OS keychain before the
	// persistent directory; an explicit opt-in since most deployments run
	// headless and a keychain prompt would otherwise hang the daemon.
	SecretStorageKeyring SecretStorageMode = "keyring"
)

// Daemon holds the gateway's own runtime configuration.
type Daemon struct {
	// CatalogPath is the path to the JSON catalog document.
	CatalogPath string `yaml:"catalog_path"`

	// ProxyMode is "individual" or "unified" (default "individual").
	ProxyMode ProxyMode `yaml:"proxy_mode"`

	// DefaultProxyType is "mcpo" or "mcp-bridge", tried first when a spec
	// has no explicit proxyTypeHint.
	DefaultProxyType string `yaml:"default_proxy_type"`

	// PortRangeStart/End bound the port pool; 1024 <= start < end <= 65535.
	PortRangeStart int `yaml:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end"`

	// ManagerPort is where the management API listens.
	ManagerPort int `yaml:"manager_port"`

	// SecretsDir is the directory holding per-server encrypted secret
	// bundles when SecretStorageMode is "persistent".
	SecretsDir string `yaml:"secrets_dir"`

	// MasterKeyPath is where the secret store's AEAD master key is
	// persisted (mode 0600), generated on first run if absent.
	MasterKeyPath string `yaml:"master_key_path"`

	// SecretStorageMode is "persistent", "tmpfs", "memory", or "keyring".
	SecretStorageMode SecretStorageMode `yaml:"secret_storage_mode"`

	// Transports enables auxiliary gateway processes per transport in
	// multi-transport mode: any subset of "sse", "websocket", "streamable".
	Transports []string `yaml:"transports"`

	// ManagementAuthSecret signs bearer tokens accepted by the mutating
	// management API routes. Empty disables auth (local/dev use only).
	ManagementAuthSecret string `yaml:"management_auth_secret"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Daemon {
	return Daemon{
		CatalogPath:        "mcp-servers.json",
		ProxyMode:          ModeIndividual,
		DefaultProxyType:   "mcpo",
		PortRangeStart:     4000,
		PortRangeEnd:       4100,
		ManagerPort:        8900,
		SecretsDir:         "",
		MasterKeyPath:      "",
		SecretStorageMode:  SecretStoragePersistent,
		Transports:         nil,
	}
}

// ConfigDir returns the directory holding gateway settings, honoring
// $MCPGW_HOME before falling back to the user config directory.
func ConfigDir() (string, error) {
	if dir := os.Getenv("MCPGW_HOME"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "mcp-gateway"), nil
}

// Load reads the daemon settings file at path (YAML), falling back to
// Default() for any field the file omits, then applies environment
// overrides per spec.md §6.4. Pass an empty path to use the default
// location under ConfigDir().
func Load(path string) (Daemon, error) {
	cfg := Default()

	if path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return cfg, err
		}
		path = filepath.Join(dir, "gateway.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.SecretsDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return cfg, err
		}
		cfg.SecretsDir = filepath.Join(dir, "secrets")
	}
	if cfg.MasterKeyPath == "" {
		dir, err := ConfigDir()
		if err != nil {
			return cfg, err
		}
		cfg.MasterKeyPath = filepath.Join(dir, "master.key")
	}

	return cfg, cfg.Validate()
}

func applyEnvOverrides(cfg *Daemon) {
	if v := os.Getenv("MCP_PROXY_MODE"); v != "" {
		cfg.ProxyMode = ProxyMode(v)
	}
	if v := os.Getenv("MCP_PROXY_TYPE"); v != "" {
		cfg.DefaultProxyType = v
	}
	if v := os.Getenv("PORT_RANGE_START"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PortRangeStart = n
		}
	}
	if v := os.Getenv("PORT_RANGE_END"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PortRangeEnd = n
		}
	}
	if v := os.Getenv("CLAUDE_CONFIG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("MANAGER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagerPort = n
		}
	}
}

// Validate enforces the boot-time-fatal constraints of spec.md §6.4.
func (d Daemon) Validate() error {
	if d.PortRangeStart < 1024 || d.PortRangeStart >= d.PortRangeEnd || d.PortRangeEnd > 65535 {
		return fmt.Errorf("invalid port range [%d,%d]: must satisfy 1024 <= start < end <= 65535", d.PortRangeStart, d.PortRangeEnd)
	}
	if d.ProxyMode != ModeIndividual && d.ProxyMode != ModeUnified {
		return fmt.Errorf("invalid proxy mode %q", d.ProxyMode)
	}
	return nil
}
