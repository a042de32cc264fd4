package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/receipt-reconciler/internal/engine"
	"github.com/Veraticus/receipt-reconciler/internal/model"
)

// FormatAmount renders minor units with two decimals and the currency.
func FormatAmount(cents int64, currency string) string {
	s := decimal.New(cents, -2).StringFixed(2)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// Table renders rows under a header with aligned columns.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	render := func(cells []string, style lipgloss.Style) string {
		out := make([]string, len(cells))
		for i, cell := range cells {
			out[i] = TableCellStyle.Width(widths[i] + 2).Render(cell)
		}
		return style.Render(lipgloss.JoinHorizontal(lipgloss.Top, out...))
	}

	lines := []string{render(header, TableHeaderStyle)}
	for _, row := range rows {
		lines = append(lines, render(row, lipgloss.NewStyle()))
	}
	return strings.Join(lines, "\n")
}

// QueueTable lists queue items with their progress.
func QueueTable(items []model.QueueItem) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			string(item.Kind),
			statusStyle(item.Status).Render(string(item.Status)),
			fmt.Sprintf("%d/%d", item.Processed, item.Total),
			fmt.Sprintf("%d", item.Matched),
			fmt.Sprintf("%d/%d", item.RetryCount, item.MaxRetries),
			item.LastError,
		})
	}
	return Table([]string{"ID", "KIND", "STATUS", "PROGRESS", "MATCHED", "RETRIES", "LAST ERROR"}, rows)
}

func statusStyle(status model.QueueStatus) lipgloss.Style {
	switch status {
	case model.QueueCompleted:
		return SuccessStyle
	case model.QueueFailed:
		return ErrorStyle
	case model.QueuePaused:
		return WarningStyle
	default:
		return lipgloss.NewStyle()
	}
}

// PatternTable lists learned patterns strongest first.
func PatternTable(patterns []model.LearnedPattern) string {
	rows := make([][]string, 0, len(patterns))
	for _, p := range patterns {
		rows = append(rows, []string{
			p.Pattern,
			fmt.Sprintf("%d", p.Confidence),
			fmt.Sprintf("%d", p.UsageCount),
			strings.Join(p.SourceIDs, ","),
		})
	}
	return Table([]string{"PATTERN", "CONFIDENCE", "USES", "SOURCES"}, rows)
}

// RepairSummary describes a category repair run.
func RepairSummary(report engine.RepairReport) string {
	return fmt.Sprintf("  • Transactions scanned: %d\n", report.Scanned) +
		fmt.Sprintf("  • Migrated to replacement: %d\n", report.Migrated) +
		fmt.Sprintf("  • Cleared: %d\n", report.Cleared) +
		fmt.Sprintf("  • Category counts fixed: %d", report.CountsFixed)
}
