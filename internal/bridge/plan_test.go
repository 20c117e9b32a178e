package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tombee/mcp-gateway/internal/catalog"
)

func TestValidateCommandRejectsOutsideWhitelist(t *testing.T) {
	require.NoError(t, ValidateCommand("npx"))
	require.NoError(t, ValidateCommand("/usr/local/bin/uvx"))
	require.Error(t, ValidateCommand("bash"))
	require.Error(t, ValidateCommand("rm"))
}

func TestValidateArgsRejectsMetacharacters(t *testing.T) {
	require.NoError(t, ValidateArgs([]string{"-y", "@modelcontextprotocol/server-memory"}))
	require.Error(t, ValidateArgs([]string{"safe; rm -rf /"}))
	require.Error(t, ValidateArgs([]string{"$(whoami)"}))
	require.Error(t, ValidateArgs([]string{"../escape"}))
}

func TestValidateArgsRejectsTooMany(t *testing.T) {
	args := make([]string, 51)
	for i := range args {
		args[i] = "x"
	}
	require.Error(t, ValidateArgs(args))
}

func TestBuildMCPOStdioPlan(t *testing.T) {
	spec := &catalog.ServerSpec{
		ID:      "memory",
		Kind:    catalog.KindStdio,
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-memory"},
	}
	plan, err := Build(spec, catalog.ProxyMCPO, 4000, "/tmp/work", nil)
	require.NoError(t, err)
	require.Equal(t,
		[]string{"uvx", "mcpo", "--host", "0.0.0.0", "--port", "4000", "--", "npx", "-y", "@modelcontextprotocol/server-memory"},
		plan.Argv)
	require.Nil(t, plan.ConfigFile)
}

func TestBuildMCPBridgeStdioPlanWritesConfig(t *testing.T) {
	spec := &catalog.ServerSpec{
		ID:      "memory",
		Kind:    catalog.KindStdio,
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-memory"},
		Env:     map[string]string{"FOO": "bar"},
	}
	plan, err := Build(spec, catalog.ProxyMCPBridge, 4001, "/tmp/work", map[string]string{"API_KEY": "secret"})
	require.NoError(t, err)
	require.Equal(t, []string{"uvx", "mcp-bridge"}, plan.Argv)
	require.NotNil(t, plan.ConfigFile)
	require.Equal(t, "config.json", plan.ConfigFile.RelPath)

	var doc mcpBridgeConfigDoc
	require.NoError(t, json.Unmarshal(plan.ConfigFile.Content, &doc))
	require.Equal(t, 4001, doc.Network.Port)
	entry := doc.MCPServers["memory"]
	require.Equal(t, "npx", entry.Command)
	require.Equal(t, "bar", entry.Env["FOO"])
	require.Equal(t, "secret", entry.Env["API_KEY"])
}

func TestBuildRemoteSSEPlanIncludesHeaders(t *testing.T) {
	spec := &catalog.ServerSpec{
		ID:      "api",
		Kind:    catalog.KindSSE,
		URL:     "https://example.com/sse",
		Headers: map[string]string{"Authorization": "Bearer x"},
	}
	plan, err := Build(spec, "", 4002, "/tmp/work", nil)
	require.NoError(t, err)
	require.Contains(t, plan.Argv, "--header")
	require.Equal(t, "https://example.com/sse", plan.Argv[len(plan.Argv)-1])
}

func TestComposeEnvLaterKeysWin(t *testing.T) {
	spec := &catalog.ServerSpec{
		ID:   "x",
		Kind: catalog.KindStdio,
		Env:  map[string]string{"PATH": "/custom/bin", "A": "server"},
	}
	env := composeEnv(spec, map[string]string{"A": "secret"}, catalog.KindStdio, "/tmp/work")
	require.Equal(t, "secret", env["A"], "decrypted secrets win over server.env")
	require.Equal(t, "/custom/bin", env["PATH"], "server.env wins over base_env")
}
