package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/engine"
	"github.com/Veraticus/receipt-reconciler/internal/model"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "-49.99 EUR", FormatAmount(-4999, "EUR"))
	assert.Equal(t, "0.50", FormatAmount(50, ""))
	assert.Equal(t, "1200.00 USD", FormatAmount(120000, "USD"))
}

func TestTable_AlignsColumns(t *testing.T) {
	out := Table([]string{"A", "B"}, [][]string{{"long value", "x"}, {"y", "z"}})
	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 3)

	// Every data row is as wide as the widest one.
	last := lines[len(lines)-1]
	prev := lines[len(lines)-2]
	assert.Equal(t, lipgloss.Width(prev), lipgloss.Width(last))
	assert.Contains(t, out, "long value")
}

func TestQueueTable(t *testing.T) {
	out := QueueTable([]model.QueueItem{{
		ID:         "q1",
		Kind:       model.QueuePrecisionSearch,
		Status:     model.QueueFailed,
		Processed:  3,
		Total:      5,
		Matched:    1,
		RetryCount: 1,
		MaxRetries: 3,
		LastError:  "timed out",
	}})

	for _, want := range []string{"q1", "precision_search", "failed", "3/5", "1/3", "timed out"} {
		assert.Contains(t, out, want)
	}
}

func TestPatternTable(t *testing.T) {
	out := PatternTable([]model.LearnedPattern{{Pattern: "*hetzner*", Confidence: 85, UsageCount: 2, SourceIDs: []string{"T1", "T2"}}})
	assert.Contains(t, out, "*hetzner*")
	assert.Contains(t, out, "85")
	assert.Contains(t, out, "T1,T2")
}

func TestRepairSummary(t *testing.T) {
	out := RepairSummary(engine.RepairReport{Scanned: 10, Migrated: 2, Cleared: 1, CountsFixed: 3})
	assert.Contains(t, out, "Transactions scanned: 10")
	assert.Contains(t, out, "Migrated to replacement: 2")
	assert.Contains(t, out, "Cleared: 1")
	assert.Contains(t, out, "Category counts fixed: 3")
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 0, "Repairing")
	p.Update(1, 4)
	p.Update(4, 4)
	p.Finish()
	assert.Contains(t, buf.String(), "Repairing")
}
