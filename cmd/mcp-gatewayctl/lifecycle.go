package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newStartCommand creates the 'start' command.
func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <server>",
		Short: "Start a managed MCP server",
		Long: `Request the daemon start a managed MCP server. The server must
already be present in the catalog; this does not register a new entry.

Examples:
  mcp-gatewayctl start github`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client().Post(context.Background(), "/start/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Start requested for %s\n", args[0])
			return nil
		},
	}
}

// newStopCommand creates the 'stop' command.
func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <server>",
		Short: "Stop a running MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client().Post(context.Background(), "/stop/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Stop requested for %s\n", args[0])
			return nil
		},
	}
}

// newRestartCommand creates the 'restart' command.
func newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <server>",
		Short: "Restart an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client().Post(context.Background(), "/restart/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Restart requested for %s\n", args[0])
			return nil
		},
	}
}

// newReloadConfigCommand creates the 'reload-config' command.
func newReloadConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload-config",
		Short: "Force an immediate catalog reload",
		Long: `Force the daemon to re-read and re-parse the catalog file
immediately, rather than waiting for its next poll tick.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client().Post(context.Background(), "/reload-config", nil); err != nil {
				return err
			}
			fmt.Println("Catalog reloaded")
			return nil
		},
	}
}
