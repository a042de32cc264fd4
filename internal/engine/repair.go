package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// RepairReport summarizes a category repair run.
type RepairReport struct {
	Scanned     int `json:"scanned"`
	Migrated    int `json:"migrated"`
	Cleared     int `json:"cleared"`
	CountsFixed int `json:"countsFixed"`
}

// ProgressFunc reports how many of total items were processed.
type ProgressFunc func(done, total int)

// RepairOrphanedCategories points transactions whose category no longer
// exists at its replacement, found by template id and then by name. Those
// without a replacement lose the category and have their completeness
// recomputed. Finally every category count is recalculated from the
// transactions. The writes span several batches; a run interrupted midway
// is completed by running it again.
func (e *Engine) RepairOrphanedCategories(ctx context.Context, userID string, progress ProgressFunc) (RepairReport, error) {
	if err := requireID("userId", userID); err != nil {
		return RepairReport{}, err
	}

	categories, err := e.store.ListCategories(ctx, userID)
	if err != nil {
		return RepairReport{}, common.Internal(err, "failed to list categories")
	}
	txns, err := e.store.ListTransactions(ctx, service.TransactionFilter{UserID: userID})
	if err != nil {
		return RepairReport{}, common.Internal(err, "failed to list transactions")
	}

	lookup := newCategoryLookup(categories)
	report := RepairReport{Scanned: len(txns)}
	counts := make(map[string]int, len(categories))

	var writes []func(service.Batch)
	now := e.now()
	for i := range txns {
		txn := &txns[i]
		if progress != nil {
			progress(i+1, len(txns))
		}
		if txn.NoReceiptCategoryID == "" {
			continue
		}
		if _, ok := lookup.byID[txn.NoReceiptCategoryID]; ok {
			counts[txn.NoReceiptCategoryID]++
			continue
		}

		if target, ok := lookup.resolve(txn); ok {
			slog.Info("Migrating orphaned category reference",
				"transaction_id", txn.ID,
				"from", txn.NoReceiptCategoryID,
				"to", target.ID)
			assignment := txn.CategoryAssignment()
			assignment.ID = target.ID
			txn.SetCategory(assignment, target.TemplateID)
			counts[target.ID]++
			report.Migrated++
		} else {
			slog.Warn("Clearing orphaned category reference",
				"transaction_id", txn.ID,
				"category_id", txn.NoReceiptCategoryID)
			txn.ClearCategory()
			txn.DeriveComplete()
			report.Cleared++
		}
		txn.UpdatedAt = now
		writes = append(writes, func(b service.Batch) { b.PutTransaction(txn) })
	}

	for i := range categories {
		c := &categories[i]
		if c.TransactionCount == counts[c.ID] {
			continue
		}
		c.TransactionCount = counts[c.ID]
		c.UpdatedAt = now
		report.CountsFixed++
		writes = append(writes, func(b service.Batch) { b.PutCategory(c) })
	}

	if err := e.writeChunked(ctx, writes); err != nil {
		return report, err
	}

	slog.Info("Repaired categories",
		"user_id", userID,
		"scanned", report.Scanned,
		"migrated", report.Migrated,
		"cleared", report.Cleared,
		"counts_fixed", report.CountsFixed)
	return report, nil
}

type categoryLookup struct {
	byID       map[string]*model.Category
	byTemplate map[string]*model.Category
	byName     map[string]*model.Category
}

func newCategoryLookup(categories []model.Category) categoryLookup {
	l := categoryLookup{
		byID:       make(map[string]*model.Category, len(categories)),
		byTemplate: make(map[string]*model.Category),
		byName:     make(map[string]*model.Category),
	}
	for i := range categories {
		c := &categories[i]
		l.byID[c.ID] = c
		if !c.IsActive {
			continue
		}
		if c.TemplateID != "" {
			l.byTemplate[c.TemplateID] = c
		}
		l.byName[strings.ToLower(strings.TrimSpace(c.Name))] = c
	}
	return l
}

// resolve finds the replacement of a dangling reference. Older documents
// referenced templates or names directly, so the dangling id itself is
// tried as both.
func (l categoryLookup) resolve(txn *model.Transaction) (*model.Category, bool) {
	candidates := []struct {
		index map[string]*model.Category
		key   string
	}{
		{l.byTemplate, txn.NoReceiptCategoryTemplateID},
		{l.byTemplate, txn.NoReceiptCategoryID},
		{l.byName, strings.ToLower(strings.TrimSpace(txn.NoReceiptCategoryID))},
	}
	for _, c := range candidates {
		if c.key == "" {
			continue
		}
		if target, ok := c.index[c.key]; ok {
			return target, true
		}
	}
	return nil, false
}

// writeChunked commits writes in batches of at most MaxBatchOperations.
// Each document is written at most once, so a partially applied sequence
// can be retried safely.
func (e *Engine) writeChunked(ctx context.Context, writes []func(service.Batch)) error {
	for start := 0; start < len(writes); start += service.MaxBatchOperations {
		chunk := writes[start:min(start+service.MaxBatchOperations, len(writes))]
		err := e.store.Update(ctx, func(b service.Batch) error {
			for _, w := range chunk {
				w(b)
			}
			return nil
		})
		if err != nil {
			return common.Internal(err, "failed to write batch %d", start/service.MaxBatchOperations+1)
		}
	}
	return nil
}
