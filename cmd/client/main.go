// Command client drives a running coordinator from the shell: submit
// a transaction, poll its status, or read a key directly off a
// participant, as scriptable cobra subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/twopc/commit/domain"
	"github.com/twopc/commit/transport"
)

func main() {
	root := &cobra.Command{Use: "client", Short: "Drive a two-phase commit coordinator"}
	root.AddCommand(executeCmd(), statusCmd(), getCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func executeCmd() *cobra.Command {
	var coordinatorAddr, specPath string
	var timeoutMS int64

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Submit a transaction spec (JSON file) to the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(specPath)
			if err != nil {
				return err
			}
			var spec domain.TxSpec
			if err := json.Unmarshal(raw, &spec); err != nil {
				return fmt.Errorf("parsing transaction spec: %w", err)
			}
			if timeoutMS > 0 {
				spec.TimeoutMS = timeoutMS
			}

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			status, err := transport.New().Execute(ctx, coordinatorAddr, spec)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
	cmd.Flags().StringVar(&coordinatorAddr, "coordinator", "http://localhost:50050", "coordinator base URL")
	cmd.Flags().StringVar(&specPath, "spec", "", "path to a transaction spec JSON file")
	cmd.Flags().Int64Var(&timeoutMS, "timeout-ms", 0, "override the transaction's timeout_ms")
	cmd.MarkFlagRequired("spec")
	return cmd
}

func statusCmd() *cobra.Command {
	var coordinatorAddr, txID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a transaction's status on the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			decision, err := transport.New().InquireStatus(ctx, coordinatorAddr, txID)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"tx_id": txID, "decision": string(decision)})
		},
	}
	cmd.Flags().StringVar(&coordinatorAddr, "coordinator", "http://localhost:50050", "coordinator base URL")
	cmd.Flags().StringVar(&txID, "tx-id", "", "transaction id")
	cmd.MarkFlagRequired("tx-id")
	return cmd
}

func getCmd() *cobra.Command {
	var participantAddr, key string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read a key directly off a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			resp, err := transport.New().GetResource(ctx, participantAddr, key)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&participantAddr, "participant", "", "participant base URL")
	cmd.Flags().StringVar(&key, "key", "", "key to read")
	cmd.MarkFlagRequired("participant")
	cmd.MarkFlagRequired("key")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
