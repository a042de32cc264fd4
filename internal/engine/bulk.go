package engine

import (
	"context"
	"log/slog"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// BulkError describes the failure of one item of a bulk operation.
type BulkError struct {
	ID      string      `json:"id"`
	Code    common.Code `json:"code"`
	Message string      `json:"message"`
}

// BulkResult aggregates a bulk operation. Failures of single items never
// abort the remaining ones.
type BulkResult struct {
	Errors  []BulkError `json:"errors"`
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
}

func (r *BulkResult) record(id string, err error) {
	if err == nil {
		r.Success++
		return
	}
	r.Failed++
	r.Errors = append(r.Errors, BulkError{ID: id, Code: common.CodeOf(err), Message: common.MessageOf(err)})
}

// TransactionPatch is one item of a bulk transaction update. Nil fields are
// left alone; a pointer to "" clears the assignment.
type TransactionPatch struct {
	PartnerID  *string `json:"partnerId,omitempty"`
	CategoryID *string `json:"categoryId,omitempty"`
	ID         string  `json:"id"`
}

// BulkUpdateTransactions applies manual partner and category changes to
// many transactions.
func (e *Engine) BulkUpdateTransactions(ctx context.Context, userID string, patches []TransactionPatch) BulkResult {
	result := BulkResult{Errors: []BulkError{}}
	for _, p := range patches {
		if ctx.Err() != nil {
			result.record(p.ID, common.Internal(ctx.Err(), "bulk update interrupted"))
			continue
		}
		result.record(p.ID, e.applyPatch(ctx, userID, p))
	}

	slog.Info("Bulk updated transactions",
		"user_id", userID,
		"success", result.Success,
		"failed", result.Failed)
	return result
}

func (e *Engine) applyPatch(ctx context.Context, userID string, p TransactionPatch) error {
	if err := requireID("id", p.ID); err != nil {
		return err
	}
	if p.PartnerID == nil && p.CategoryID == nil {
		return common.InvalidArgument("nothing to update")
	}

	if p.PartnerID != nil {
		var err error
		if *p.PartnerID == "" {
			err = e.RemovePartnerFromTransaction(ctx, userID, p.ID)
		} else {
			err = e.AssignPartnerToTransaction(ctx, userID, p.ID, AssignPartnerRequest{
				PartnerID: *p.PartnerID,
				MatchedBy: model.MatchSourceManual,
			})
		}
		if err != nil {
			return err
		}
	}

	if p.CategoryID != nil {
		if *p.CategoryID == "" {
			return e.RemoveCategory(ctx, userID, p.ID)
		}
		return e.AssignCategory(ctx, userID, p.ID, AssignCategoryRequest{
			CategoryID: *p.CategoryID,
			MatchedBy:  model.MatchSourceManual,
		})
	}
	return nil
}

// BulkDeleteFiles disconnects and deletes files. Soft deletion keeps the
// document and its fingerprint so re-imports are still recognized; hard
// deletion removes it.
func (e *Engine) BulkDeleteFiles(ctx context.Context, userID string, fileIDs []string, hard bool) BulkResult {
	result := BulkResult{Errors: []BulkError{}}
	for _, id := range fileIDs {
		if ctx.Err() != nil {
			result.record(id, common.Internal(ctx.Err(), "bulk delete interrupted"))
			continue
		}
		result.record(id, e.deleteFile(ctx, userID, id, hard))
	}

	slog.Info("Bulk deleted files",
		"user_id", userID,
		"hard", hard,
		"success", result.Success,
		"failed", result.Failed)
	return result
}

// deleteFile is idempotent: every step tolerates having run before.
func (e *Engine) deleteFile(ctx context.Context, userID, fileID string, hard bool) error {
	if err := requireID("id", fileID); err != nil {
		return err
	}
	file, err := e.loadFile(ctx, userID, fileID, denyForeign)
	if err != nil {
		return err
	}

	conns, err := e.store.ListConnections(ctx, service.ConnectionFilter{UserID: userID, FileID: fileID})
	if err != nil {
		return common.Internal(err, "failed to list connections of file %s", fileID)
	}
	linked := append([]string(nil), file.TransactionIDs...)
	for _, c := range conns {
		if !file.HasTransaction(c.TransactionID) {
			linked = append(linked, c.TransactionID)
		}
	}
	for _, txID := range linked {
		err := e.Disconnect(ctx, userID, fileID, txID)
		if err != nil && common.CodeOf(err) != common.CodeNotFound {
			return err
		}
		if err != nil {
			// The transaction is gone; drop the dangling link from the file.
			if err := e.unlinkMissingTransaction(ctx, userID, fileID, txID); err != nil {
				return err
			}
		}
	}

	return e.retry(ctx, func() error {
		file, err := e.loadFile(ctx, userID, fileID, denyForeign)
		if err != nil {
			return err
		}
		if !hard && file.Deleted() {
			return nil
		}
		return e.store.Update(ctx, func(b service.Batch) error {
			if hard {
				b.DeleteFile(fileID)
				return nil
			}
			now := e.now()
			file.DeletedAt = &now
			file.TransactionSuggestions = nil
			file.UpdatedAt = now
			b.PutFile(file)
			return nil
		})
	})
}

func (e *Engine) unlinkMissingTransaction(ctx context.Context, userID, fileID, txID string) error {
	return e.retry(ctx, func() error {
		file, err := e.loadFile(ctx, userID, fileID, denyForeign)
		if err != nil {
			return err
		}
		conn, err := e.store.GetConnection(ctx, fileID, txID)
		if err != nil && common.CodeOf(err) != common.CodeNotFound {
			return err
		}
		file.RemoveTransaction(txID)
		file.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			if conn != nil {
				b.DeleteConnection(conn.ID)
			}
			b.PutFile(file)
			return nil
		})
	})
}
