package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/receipt-reconciler/internal/cli"
	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern"},
		Short:   "Inspect learned matching patterns",
		Long: `Inspect the glob patterns learned from assignments. Patterns match
case-insensitively against transaction text, with * standing for any run
of characters.`,
	}
	cmd.AddCommand(patternsListCmd(), patternsTestCmd())
	return cmd
}

func patternsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <partner-id|category-id>",
		Short: "List the patterns learned for a partner or category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			isCategory, _ := cmd.Flags().GetBool("category")

			a, cleanup, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			sections := map[string][]model.LearnedPattern{}
			var order []string
			var title string

			if isCategory {
				category, err := a.store.GetCategory(cmd.Context(), args[0])
				if errors.Is(err, common.ErrNotFound) {
					return common.NotFound("category %s not found", args[0])
				}
				if err != nil {
					return err
				}
				if category.UserID != userID {
					return common.PermissionDenied("category %s belongs to another user", args[0])
				}
				title = "Category " + category.Name
				order = []string{"Transaction patterns"}
				sections[order[0]] = category.LearnedPatterns
			} else {
				partner, err := a.store.GetPartner(cmd.Context(), args[0])
				if errors.Is(err, common.ErrNotFound) {
					return common.NotFound("partner %s not found", args[0])
				}
				if err != nil {
					return err
				}
				if partner.UserID != "" && partner.UserID != userID {
					return common.PermissionDenied("partner %s belongs to another user", args[0])
				}
				title = "Partner " + partner.Name
				order = []string{"Transaction patterns", "File source patterns", "Email search patterns"}
				sections[order[0]] = partner.LearnedPatterns
				sections[order[1]] = partner.FileSourcePatterns
				sections[order[2]] = partner.EmailSearchPatterns
			}

			_, _ = fmt.Fprintln(out, cli.FormatTitle(title))
			for _, name := range order {
				patterns := slices.Clone(sections[name])
				slices.SortStableFunc(patterns, func(a, b model.LearnedPattern) int { return b.Confidence - a.Confidence })

				_, _ = fmt.Fprintln(out, cli.SubtleStyle.Render(name))
				if len(patterns) == 0 {
					_, _ = fmt.Fprintln(out, cli.FormatInfo("none learned yet"))
					continue
				}
				_, _ = fmt.Fprintln(out, cli.PatternTable(patterns))
			}
			return nil
		},
	}

	cmd.Flags().Bool("category", false, "the id names a category")
	return cmd
}

func patternsTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <pattern> <text>...",
		Short: "Check whether a pattern matches some text",
		Long: `Check a glob against one or more text fields the way automatic
matching does. Several fields are also tried joined together.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			glob := args[0]
			if strings.Trim(glob, pattern.Wildcard+" ") == "" {
				return common.InvalidArgument("pattern %q has no literal text", glob)
			}

			fields := args[1:]
			out := cmd.OutOrStdout()
			if pattern.MatchFlexible(glob, fields) {
				_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s matches %q", glob, strings.Join(fields, " | "))))
			} else {
				_, _ = fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s does not match %q", glob, strings.Join(fields, " | "))))
			}
			if derived := pattern.DerivePattern(strings.Join(fields, " ")); derived != "" {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("Pattern learned from this text: "+derived))
			}
			return nil
		},
	}
}
