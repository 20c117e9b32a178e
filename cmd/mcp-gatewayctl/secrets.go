package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newSecretsCommand creates the 'secrets' command group.
func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage a server's encrypted environment secrets",
	}
	cmd.AddCommand(newSecretsSetCommand())
	cmd.AddCommand(newSecretsUnsetCommand())
	cmd.AddCommand(newSecretsDeleteCommand())
	return cmd
}

func newSecretsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <server> <key> <value>",
		Short: "Set (or overwrite) one secret environment variable",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"key": args[1], "value": args[2]})
			if err != nil {
				return err
			}
			if _, err := client().Post(context.Background(), "/secrets/"+args[0], bytes.NewReader(body)); err != nil {
				return err
			}
			fmt.Printf("Set %s for %s\n", args[1], args[0])
			return nil
		},
	}
}

func newSecretsUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <server> <key>",
		Short: "Remove one secret environment variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client().Delete(context.Background(), "/secrets/"+args[0]+"/"+args[1]); err != nil {
				return err
			}
			fmt.Printf("Unset %s for %s\n", args[1], args[0])
			return nil
		},
	}
}

func newSecretsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <server>",
		Short: "Remove all secrets for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client().Delete(context.Background(), "/secrets/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted all secrets for %s\n", args[0])
			return nil
		},
	}
}
