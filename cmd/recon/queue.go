package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/receipt-reconciler/internal/automation"
	"github.com/Veraticus/receipt-reconciler/internal/cli"
	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the search queues",
		Long: `Inspect and control the precision search and mail sync queues. Items
move pending → processing → completed, failed or paused. Failed items
can be retried until their retry budget is spent.`,
	}

	cmd.AddCommand(
		queueListCmd(),
		queueAddCmd(),
		queueTransitionCmd("retry", "Return a failed item to pending", func(s *automation.Supervisor) queueOp { return s.Retry }),
		queueTransitionCmd("pause", "Hold a pending or running item", func(s *automation.Supervisor) queueOp { return s.Pause }),
		queueTransitionCmd("resume", "Return a paused item to pending", func(s *automation.Supervisor) queueOp { return s.Resume }),
		queueSweepCmd(),
	)
	return cmd
}

func queueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			kind, _ := cmd.Flags().GetString("kind")
			rawStatuses, _ := cmd.Flags().GetStringSlice("status")

			queueKind := model.QueueKind(kind)
			if kind != "" && !queueKind.Valid() {
				return common.InvalidArgument("unknown queue kind %q", kind)
			}
			statuses := make([]model.QueueStatus, 0, len(rawStatuses))
			for _, s := range rawStatuses {
				statuses = append(statuses, model.QueueStatus(strings.TrimSpace(s)))
			}

			a, cleanup, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			items, err := a.supervisor.ListQueue(cmd.Context(), userID, queueKind, statuses...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("No queue items"))
				return nil
			}
			_, _ = fmt.Fprintln(out, cli.QueueTable(items))
			return nil
		},
	}

	cmd.Flags().String("kind", "", "queue kind (precision_search, mail_sync)")
	cmd.Flags().StringSlice("status", nil, "only items in these statuses")
	return cmd
}

func queueAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <kind> [transaction-id...]",
		Short: "Enqueue a precision search or mail sync",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			query, _ := cmd.Flags().GetString("query")

			a, cleanup, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			item, err := a.supervisor.Enqueue(cmd.Context(), userID, automation.EnqueueRequest{
				Kind:           model.QueueKind(args[0]),
				Query:          query,
				TriggeredBy:    "cli",
				TransactionIDs: args[1:],
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Queued %s item %s", item.Kind, item.ID)))
			return nil
		},
	}

	cmd.Flags().String("query", "", "explicit mailbox query instead of the derived one")
	return cmd
}

// queueOp is one of the supervisor's manual transitions.
type queueOp func(ctx context.Context, userID, id string) (*model.QueueItem, error)

func queueTransitionCmd(use, short string, pick func(*automation.Supervisor) queueOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
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

			item, err := pick(a.supervisor)(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Item %s is %s", item.ID, item.Status)))
			return nil
		},
	}
}

func queueSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail items that stopped reporting progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := a.supervisor.SweepStale(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Swept %d stale items", n)))
			return nil
		},
	}
}
