package pattern

import (
	"slices"
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/model"
)

// AppendRemoval records entityID in a false-positive log. An existing entry
// for the same entity is replaced so the log never holds duplicates, and
// the oldest entries are trimmed once the log exceeds limit.
func AppendRemoval(removals []model.ManualRemoval, entityID string, now time.Time, limit int) []model.ManualRemoval {
	out := slices.DeleteFunc(slices.Clone(removals), func(r model.ManualRemoval) bool {
		return r.EntityID == entityID
	})
	out = append(out, model.ManualRemoval{EntityID: entityID, RemovedAt: now})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// AppendDismissal records that fileID was rejected as the document of
// transaction txID. Entries share the log and limit of AppendRemoval.
func AppendDismissal(removals []model.ManualRemoval, txID, fileID string, now time.Time, limit int) []model.ManualRemoval {
	out := slices.DeleteFunc(slices.Clone(removals), func(r model.ManualRemoval) bool {
		return r.EntityID == txID && r.FileID == fileID
	})
	out = append(out, model.ManualRemoval{EntityID: txID, FileID: fileID, RemovedAt: now})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// HasRemoval reports whether entityID is in the log.
func HasRemoval(removals []model.ManualRemoval, entityID string) bool {
	return slices.ContainsFunc(removals, func(r model.ManualRemoval) bool {
		return r.EntityID == entityID
	})
}

// ClearRemoval drops entityID from the log and reports whether it was there.
func ClearRemoval(removals []model.ManualRemoval, entityID string) ([]model.ManualRemoval, bool) {
	out := slices.DeleteFunc(slices.Clone(removals), func(r model.ManualRemoval) bool {
		return r.EntityID == entityID
	})
	return out, len(out) != len(removals)
}
