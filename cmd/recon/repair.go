package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/receipt-reconciler/internal/cli"
)

func repairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair inconsistent data",
	}
	cmd.AddCommand(repairCategoriesCmd())
	return cmd
}

func repairCategoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Fix transactions pointing at deleted categories",
		Long: `Point transactions whose no-receipt category no longer exists at its
replacement, matched by template and then by name. References without a
replacement are cleared and completeness is recomputed. Afterwards every
category count is recalculated. Safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			quiet, _ := cmd.Flags().GetBool("quiet")

			a, cleanup, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			interrupts := cli.NewInterruptHandler(out)
			ctx := interrupts.HandleInterrupts(cmd.Context(), "Category repair", "Run it again to finish, completed batches are kept")

			var progress *cli.Progress
			if !quiet {
				progress = cli.NewProgress(out, 0, "Repairing categories...")
			}
			report, err := a.engine.RepairOrphanedCategories(ctx, userID, func(done, total int) {
				if progress != nil {
					progress.Update(done, total)
				}
			})
			if progress != nil {
				progress.Finish()
			}
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(out, cli.RenderBox("Category repair complete", cli.RepairSummary(report)))
			return nil
		},
	}

	cmd.Flags().Bool("quiet", false, "do not draw a progress bar")
	return cmd
}
