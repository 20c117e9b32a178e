package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/mcp-gateway/internal/cliclient"
)

var (
	version = "dev"

	flagAddr  string
	flagToken string
)

func main() {
	root := &cobra.Command{
		Use:           "mcp-gatewayctl",
		Short:         "Control the mcp-gateway daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagAddr, "addr", os.Getenv("MCPGW_ADDR"), "mcp-gateway management API address (default "+cliclient.DefaultBaseURL+")")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("MCPGW_TOKEN"), "bearer token for the management API")

	root.AddCommand(
		newStatusCommand(),
		newOpenAPIEndpointsCommand(),
		newHealthCommand(),
		newStartCommand(),
		newStopCommand(),
		newRestartCommand(),
		newReloadConfigCommand(),
		newSecretsCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func client() *cliclient.Client {
	return cliclient.New(flagAddr, flagToken)
}
