// Package bridge maps a (ServerSpec, port, proxyType) triple to a launch
// plan for one of the opaque MCP↔OpenAPI bridge binaries (mcpo,
// mcp-bridge). It validates commands and arguments before a plan is ever
// handed to a spawner; it never spawns anything itself.
//
// Grounded on the teacher's internal/mcp/config.go command/argument
// validation (ValidateCommand, shellInjectionPatterns, ValidateArg) and
// the process-launch composition in other_examples/Bigsy-mcpmu
// supervisor.go's buildEnv.
package bridge

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tombee/mcp-gateway/internal/catalog"
	pkgerrors "github.com/tombee/mcp-gateway/pkg/errors"
)

// commandWhitelist holds the only basenames a stdio server's command may
// resolve to; anything else is rejected before spawn (spec.md §4.4).
var commandWhitelist = map[string]bool{
	"uvx": true, "python": true, "python3": true,
	"node": true, "npm": true, "npx": true,
	"uv": true, "pip": true, "pip3": true,
}

const (
	maxArgLength = 1000
	maxArgCount  = 50
)

// disallowedArgChars mirrors the teacher's shellInjectionPatterns, adapted
// from substring checks to a character set since bridge args are passed
// directly to exec, never through a shell.
var disallowedArgChars = ";&|`$(){}[]\\"

// Plan is an opaque, validated launch plan. The supervisor performs the
// actual spawn; this package never touches a process.
type Plan struct {
	Argv       []string
	Env        map[string]string
	WorkDir    string
	ConfigFile *GeneratedFile // non-nil only for mcp-bridge
}

// GeneratedFile is a file the launcher wants written to WorkDir before
// the child starts.
type GeneratedFile struct {
	RelPath string
	Content []byte
}

// ValidateCommand rejects any stdio command whose basename is not in
// commandWhitelist.
func ValidateCommand(command string) error {
	base := filepath.Base(command)
	if !commandWhitelist[base] {
		return fmt.Errorf("command %q is not in the bridge launcher whitelist", base)
	}
	return nil
}

// ValidateArgs enforces the argument hygiene rules of spec.md §4.4.
func ValidateArgs(args []string) error {
	if len(args) > maxArgCount {
		return fmt.Errorf("too many arguments: %d exceeds the limit of %d", len(args), maxArgCount)
	}
	for _, arg := range args {
		if len(arg) > maxArgLength {
			return fmt.Errorf("argument exceeds maximum length %d", maxArgLength)
		}
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("argument contains a NUL byte")
		}
		if strings.ContainsAny(arg, disallowedArgChars) {
			return fmt.Errorf("argument %q contains a disallowed shell metacharacter", arg)
		}
		if strings.HasPrefix(arg, "../") {
			return fmt.Errorf("argument %q must not begin with ../", arg)
		}
	}
	return nil
}

// baseEnv returns the environment every launch plan starts from, before
// server-specific and bridge-required overlays are applied.
func baseEnv() map[string]string {
	return map[string]string{
		"PATH": "/usr/local/bin:/usr/bin:/bin",
	}
}

// bridgeRequiredVars returns vars every bridge child needs regardless of
// proxy type: cache/tool directories, and for remote-kind launches,
// generous timeouts suitable for long-lived event streams.
func bridgeRequiredVars(kind catalog.Kind, workDir string) map[string]string {
	vars := map[string]string{
		"UV_CACHE_DIR": filepath.Join(workDir, ".uv-cache"),
		"NPM_CONFIG_CACHE": filepath.Join(workDir, ".npm-cache"),
	}
	if kind == catalog.KindSSE || kind == catalog.KindStreamableHTTP {
		vars["HTTPX_TIMEOUT"] = "120"
		vars["MCPO_READ_TIMEOUT"] = "120"
	}
	return vars
}

// composeEnv implements base_env ∪ server.env ∪ decrypted_secrets ∪
// bridge_required_vars, later keys winning (spec.md §4.4).
func composeEnv(spec *catalog.ServerSpec, secrets map[string]string, kind catalog.Kind, workDir string) map[string]string {
	env := baseEnv()
	for k, v := range spec.Env {
		env[k] = v
	}
	for k, v := range secrets {
		env[k] = v
	}
	for k, v := range bridgeRequiredVars(kind, workDir) {
		env[k] = v
	}
	return env
}

// Build produces the launch Plan for spec under proxyType, bound to port
// and workDir. secrets holds the server's already-decrypted secret
// values to overlay onto the environment.
func Build(spec *catalog.ServerSpec, proxyType catalog.ProxyType, port int, workDir string, secrets map[string]string) (*Plan, error) {
	switch spec.Kind {
	case catalog.KindStdio:
		return buildStdio(spec, proxyType, port, workDir, secrets)
	case catalog.KindSSE, catalog.KindStreamableHTTP:
		return buildRemote(spec, port, workDir, secrets)
	default:
		return nil, fmt.Errorf("unsupported server kind %q", spec.Kind)
	}
}

func buildStdio(spec *catalog.ServerSpec, proxyType catalog.ProxyType, port int, workDir string, secrets map[string]string) (*Plan, error) {
	if err := ValidateCommand(spec.Command); err != nil {
		return nil, err
	}
	if err := ValidateArgs(spec.Args); err != nil {
		return nil, err
	}

	env := composeEnv(spec, secrets, spec.Kind, workDir)
	portStr := fmt.Sprintf("%d", port)

	switch proxyType {
	case catalog.ProxyMCPO:
		argv := append([]string{"uvx", "mcpo", "--host", "0.0.0.0", "--port", portStr, "--", spec.Command}, spec.Args...)
		dir := spec.Cwd
		return &Plan{Argv: argv, Env: env, WorkDir: dir}, nil

	case catalog.ProxyMCPBridge:
		cfg, err := mcpBridgeConfig(spec, port, secrets)
		if err != nil {
			return nil, err
		}
		return &Plan{
			Argv:    []string{"uvx", "mcp-bridge"},
			Env:     env,
			WorkDir: workDir,
			ConfigFile: &GeneratedFile{
				RelPath: "config.json",
				Content: cfg,
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported stdio proxy type %q", proxyType)
	}
}

func buildRemote(spec *catalog.ServerSpec, port int, workDir string, secrets map[string]string) (*Plan, error) {
	env := composeEnv(spec, secrets, spec.Kind, workDir)
	portStr := fmt.Sprintf("%d", port)

	serverType := "sse"
	if spec.Kind == catalog.KindStreamableHTTP {
		serverType = "streamable-http"
	}

	argv := []string{"uvx", "mcpo", "--host", "0.0.0.0", "--port", portStr, "--server-type", serverType}
	if len(spec.Headers) > 0 {
		headerJSON, err := json.Marshal(spec.Headers)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "marshal headers")
		}
		argv = append(argv, "--header", string(headerJSON))
	}
	argv = append(argv, "--", spec.URL)

	return &Plan{Argv: argv, Env: env, WorkDir: workDir}, nil
}

// mcpBridgeMCPServerEntry is one entry of config.json's mcp_servers map.
type mcpBridgeMCPServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

type mcpBridgeNetwork struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type mcpBridgeLogging struct {
	LogLevel string `json:"log_level"`
}

type mcpBridgeConfigDoc struct {
	InferenceServer map[string]any                     `json:"inference_server"`
	MCPServers      map[string]mcpBridgeMCPServerEntry `json:"mcp_servers"`
	Network         mcpBridgeNetwork                   `json:"network"`
	Logging         mcpBridgeLogging                   `json:"logging"`
}

// BuildAuxiliaryGateway constructs the launch plan for one
// per-server-per-transport auxiliary gateway of multi-transport mode
// (spec.md §4.8.3), backed by the third opaque bridge binary,
// supergateway, which re-exposes a stdio MCP server over sse, websocket,
// or streamable-http.
func BuildAuxiliaryGateway(spec *catalog.ServerSpec, transport string, port int, workDir string, secrets map[string]string) (*Plan, error) {
	if err := ValidateCommand(spec.Command); err != nil {
		return nil, err
	}
	if err := ValidateArgs(spec.Args); err != nil {
		return nil, err
	}

	env := composeEnv(spec, secrets, spec.Kind, workDir)
	portStr := fmt.Sprintf("%d", port)

	stdioCmd := strings.Join(append([]string{spec.Command}, spec.Args...), " ")
	argv := []string{"npx", "-y", "supergateway", "--stdio", stdioCmd, "--port", portStr, "--outputTransport", transport}

	return &Plan{Argv: argv, Env: env, WorkDir: spec.Cwd}, nil
}

// BuildUnified constructs the single multiplexing mcp-bridge plan for
// unified mode (spec.md §4.8.2): one config.json whose mcp_servers map
// covers every desired stdio ServerSpec, routed under /<serverId> by the
// bridge itself. Remote-kind specs are not stdio children of this
// process and are omitted from config.json.
func BuildUnified(specs map[string]*catalog.ServerSpec, port int, workDir string, secretsByID map[string]map[string]string) (*Plan, error) {
	mcpServers := make(map[string]mcpBridgeMCPServerEntry)
	for id, spec := range specs {
		if spec.Kind != catalog.KindStdio {
			continue
		}
		if err := ValidateCommand(spec.Command); err != nil {
			return nil, pkgerrors.Wrapf(err, "server %s", id)
		}
		if err := ValidateArgs(spec.Args); err != nil {
			return nil, pkgerrors.Wrapf(err, "server %s", id)
		}
		env := map[string]string{}
		for k, v := range spec.Env {
			env[k] = v
		}
		for k, v := range secretsByID[id] {
			env[k] = v
		}
		mcpServers[id] = mcpBridgeMCPServerEntry{Command: spec.Command, Args: spec.Args, Env: env}
	}

	doc := mcpBridgeConfigDoc{
		InferenceServer: map[string]any{"type": "stub"},
		MCPServers:      mcpServers,
		Network:         mcpBridgeNetwork{Host: "0.0.0.0", Port: port},
		Logging:         mcpBridgeLogging{LogLevel: "INFO"},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "marshal unified config")
	}

	return &Plan{
		Argv:    []string{"uvx", "mcp-bridge"},
		Env:     baseEnv(),
		WorkDir: workDir,
		ConfigFile: &GeneratedFile{
			RelPath: "config.json",
			Content: data,
		},
	}, nil
}

func mcpBridgeConfig(spec *catalog.ServerSpec, port int, secrets map[string]string) ([]byte, error) {
	env := map[string]string{}
	for k, v := range spec.Env {
		env[k] = v
	}
	for k, v := range secrets {
		env[k] = v
	}

	doc := mcpBridgeConfigDoc{
		InferenceServer: map[string]any{"type": "stub"},
		MCPServers: map[string]mcpBridgeMCPServerEntry{
			spec.ID: {Command: spec.Command, Args: spec.Args, Env: env},
		},
		Network: mcpBridgeNetwork{Host: "0.0.0.0", Port: port},
		Logging: mcpBridgeLogging{LogLevel: "INFO"},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "marshal mcp-bridge config")
	}
	return data, nil
}
