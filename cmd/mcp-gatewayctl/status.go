package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newStatusCommand creates the 'status' command.
func newStatusCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of every managed MCP server",
		Long: `Show the status of every managed MCP server: health, proxy
type, restart count, and any recent error.

Examples:
  mcp-gatewayctl status
  mcp-gatewayctl status --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

type statusResponse struct {
	Aggregate struct {
		Total   int `json:"total"`
		Healthy int `json:"healthy"`
		Failed  int `json:"failed"`
		Skipped int `json:"skipped"`
	} `json:"aggregate"`
	Servers []struct {
		ServerID      string `json:"serverId"`
		Healthy       bool   `json:"healthy"`
		ProxyTypeUsed string `json:"proxyTypeUsed"`
		RestartCount  int    `json:"restartCount"`
		Status        string `json:"status"`
		LastError     string `json:"lastError,omitempty"`
	} `json:"servers"`
}

func runStatus(asJSON bool) error {
	ctx := context.Background()
	data, err := client().Get(ctx, "/status")
	if err != nil {
		return err
	}

	if asJSON {
		fmt.Println(string(data))
		return nil
	}

	var resp statusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse status response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATUS\tPROXY\tRESTARTS\tLAST ERROR")
	for _, s := range resp.Servers {
		health := "healthy"
		if !s.Healthy {
			health = s.Status
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ServerID, health, s.ProxyTypeUsed, s.RestartCount, s.LastError)
	}
	w.Flush()

	fmt.Printf("\n%d total, %d healthy, %d failed, %d skipped\n",
		resp.Aggregate.Total, resp.Aggregate.Healthy, resp.Aggregate.Failed, resp.Aggregate.Skipped)
	return nil
}

// newOpenAPIEndpointsCommand creates the 'openapi-endpoints' command.
func newOpenAPIEndpointsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "openapi-endpoints",
		Short: "List the OpenAPI endpoint for each healthy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().Get(context.Background(), "/openapi-endpoints")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

// newHealthCommand creates the 'health' command.
func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health <server>",
		Short: "Show detailed health metrics and alerts for one server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().Get(context.Background(), "/health/"+args[0])
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
