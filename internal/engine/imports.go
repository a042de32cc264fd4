package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// ImportResult counts the outcome of a transaction import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportTransactionID derives a stable id from the user and the bank
// fingerprint so re-importing the same statement finds existing rows.
func ImportTransactionID(userID string, txn *model.Transaction) string {
	keyed := *txn
	keyed.SourceID = userID + "/" + txn.SourceID
	return "txn-" + keyed.GenerateHash()[:24]
}

// ImportTransactions stores bank transactions that are not yet known and
// queues partner and category suggestions for them. Transactions already
// imported are skipped untouched, whatever was reconciled on them since.
func (e *Engine) ImportTransactions(ctx context.Context, userID string, txns []model.Transaction) (ImportResult, error) {
	if err := requireID("userId", userID); err != nil {
		return ImportResult{}, err
	}

	var (
		result ImportResult
		writes []func(service.Batch)
		added  []string
		seen   = make(map[string]bool, len(txns))
	)
	now := e.now()
	for i := range txns {
		txn := txns[i]
		txn.UserID = userID
		txn.ID = ImportTransactionID(userID, &txn)
		if seen[txn.ID] {
			result.Skipped++
			continue
		}
		seen[txn.ID] = true

		_, err := e.store.GetTransaction(ctx, txn.ID)
		switch {
		case err == nil:
			result.Skipped++
			continue
		case !errors.Is(err, common.ErrNotFound):
			return result, common.Internal(err, "failed to look up transaction %s", txn.ID)
		}

		txn.Version = 0
		txn.FileIDs = []string{}
		txn.CreatedAt = now
		txn.UpdatedAt = now
		txn.DeriveComplete()
		writes = append(writes, func(b service.Batch) { b.PutTransaction(&txn) })
		added = append(added, txn.ID)
	}

	if err := e.writeChunked(ctx, writes); err != nil {
		return result, err
	}
	result.Imported = len(added)

	slog.Info("Imported transactions",
		"user_id", userID,
		"imported", result.Imported,
		"skipped", result.Skipped)

	if len(added) > 0 {
		e.learn(ctx, "suggest-imported", func(ctx context.Context, l Learner) error {
			var errs []error
			for _, id := range added {
				errs = append(errs, e.rematchPartners(ctx, l, id), e.rematchCategories(ctx, l, id))
			}
			return errors.Join(errs...)
		})
	}
	return result, nil
}
