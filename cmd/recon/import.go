package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/receipt-reconciler/internal/cli"
	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/ofx"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <statement.ofx>...",
		Short: "Import bank transactions from OFX/QFX statements",
		Long: `Import the transactions of OFX or QFX statements. Entries already
imported are skipped, so overlapping statements can be imported safely.
New transactions receive partner and category suggestions from the
learned patterns.`,
		Args: cobra.MinimumNArgs(1),
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

			out := cmd.OutOrStdout()
			parser := ofx.NewParser()
			for _, path := range args {
				f, err := os.Open(path) //nolint:gosec // user-provided statement
				if err != nil {
					return common.InvalidArgument("cannot open %s: %v", path, err)
				}
				statements, err := parser.ParseFile(cmd.Context(), f)
				_ = f.Close()
				if err != nil {
					return common.InvalidArgument("%s: %v", path, err)
				}

				for _, stmt := range statements {
					result, err := a.engine.ImportTransactions(cmd.Context(), userID, stmt.Transactions)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s account %s: %d imported, %d already known",
						path, stmt.AccountID, result.Imported, result.Skipped)))
				}
			}
			return nil
		},
	}
}
