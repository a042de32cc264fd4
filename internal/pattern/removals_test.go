package pattern

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/model"
)

func TestAppendRemoval_Cap(t *testing.T) {
	var removals []model.ManualRemoval
	for i := range 75 {
		removals = AppendRemoval(removals, fmt.Sprintf("tx-%d", i), now.Add(time.Duration(i)*time.Second), MaxRemovals)
	}

	require.Len(t, removals, MaxRemovals)
	assert.Equal(t, "tx-25", removals[0].EntityID, "oldest entries are trimmed first")
	assert.Equal(t, "tx-74", removals[len(removals)-1].EntityID)
}

func TestAppendRemoval_NoDuplicates(t *testing.T) {
	removals := AppendRemoval(nil, "tx-1", now, MaxRemovals)
	removals = AppendRemoval(removals, "tx-2", now, MaxRemovals)
	removals = AppendRemoval(removals, "tx-1", now.Add(time.Hour), MaxRemovals)

	require.Len(t, removals, 2)
	assert.Equal(t, "tx-2", removals[0].EntityID)
	assert.Equal(t, "tx-1", removals[1].EntityID)
	assert.Equal(t, now.Add(time.Hour), removals[1].RemovedAt)
}

func TestAppendDismissal(t *testing.T) {
	removals := AppendRemoval(nil, "file-9", now, MaxRemovals)
	removals = AppendDismissal(removals, "tx-1", "file-1", now, MaxRemovals)
	removals = AppendDismissal(removals, "tx-1", "file-2", now, MaxRemovals)
	removals = AppendDismissal(removals, "tx-1", "file-1", now.Add(time.Hour), MaxRemovals)

	require.Len(t, removals, 3)
	assert.Equal(t, model.ManualRemoval{EntityID: "file-9", RemovedAt: now}, removals[0])
	assert.Equal(t, "file-2", removals[1].FileID)
	assert.Equal(t, model.ManualRemoval{EntityID: "tx-1", FileID: "file-1", RemovedAt: now.Add(time.Hour)}, removals[2])
	assert.False(t, HasRemoval(removals, "file-1"))
}

func TestHasAndClearRemoval(t *testing.T) {
	removals := AppendRemoval(nil, "tx-1", now, MaxRemovals)
	assert.True(t, HasRemoval(removals, "tx-1"))
	assert.False(t, HasRemoval(removals, "tx-2"))

	cleared, ok := ClearRemoval(removals, "tx-1")
	assert.True(t, ok)
	assert.Empty(t, cleared)
	assert.Len(t, removals, 1, "input must not be mutated")

	_, ok = ClearRemoval(cleared, "tx-1")
	assert.False(t, ok)
}
