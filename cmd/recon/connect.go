package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/receipt-reconciler/internal/cli"
	"github.com/Veraticus/receipt-reconciler/internal/engine"
	"github.com/Veraticus/receipt-reconciler/internal/model"
)

func connectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <file-id> <transaction-id>",
		Short: "Link a receipt file to a transaction",
		Long: `Link a receipt file to a transaction as a manual connection. The
transaction becomes complete and, once the file's extraction finished, the
partners of both sides are reconciled. Connecting a linked pair again is a
no-op.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}

			a, cleanup, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := a.engine.Connect(cmd.Context(), userID, engine.ConnectRequest{
				FileID:         args[0],
				TransactionID:  args[1],
				ConnectionType: model.ConnectionManual,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.AlreadyConnected {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("Already connected: "+result.ConnectionID))
				return nil
			}
			_, _ = fmt.Fprintln(out, cli.FormatSuccess("Connected: "+result.ConnectionID))
			return nil
		},
	}
	return cmd
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <file-id> <transaction-id>",
		Short: "Remove the link between a file and a transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}

			a, cleanup, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.engine.Disconnect(cmd.Context(), userID, args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Disconnected %s from %s", args[0], args[1])))
			return nil
		},
	}
}
