package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// receiptLostName names the receipt-lost category created on first use.
const receiptLostName = "Receipt lost"

// AssignCategoryRequest puts a transaction into a no-receipt category.
type AssignCategoryRequest struct {
	Confidence *int
	CategoryID string
	MatchedBy  model.MatchSource
}

// ReceiptLostRequest justifies a self-issued receipt substitute.
type ReceiptLostRequest struct {
	Reason      model.ReceiptLostReason
	Description string
}

// categoryChange is the outcome of a committed category mutation.
type categoryChange struct {
	txn      *model.Transaction
	previous model.Assignment
	rejected bool
}

// AssignCategory marks a transaction as legitimately without receipt.
// Reassigning moves the count from the previous category to the new one.
func (e *Engine) AssignCategory(ctx context.Context, userID, txID string, req AssignCategoryRequest) error {
	if err := requireID("transactionId", txID); err != nil {
		return err
	}
	if err := requireID("categoryId", req.CategoryID); err != nil {
		return err
	}
	if !req.MatchedBy.Valid() {
		return common.InvalidArgument("unknown matchedBy %q", req.MatchedBy)
	}

	var change categoryChange
	err := e.retry(ctx, func() error {
		category, err := e.loadCategory(ctx, userID, req.CategoryID)
		if err != nil {
			return err
		}
		if !category.IsActive {
			return common.FailedPrecondition("category %s is inactive", category.ID)
		}
		if category.TemplateID == model.TemplateReceiptLost {
			return common.InvalidArgument("category %s requires a receipt-lost justification", category.ID)
		}

		rejected := pattern.HasRemoval(category.ManualRemovals, txID)
		if rejected && req.MatchedBy != model.MatchSourceManual {
			return common.FailedPrecondition("category %s was removed from transaction %s before", category.ID, txID)
		}

		assignment := model.Assignment{
			ID:         category.ID,
			MatchedBy:  req.MatchedBy,
			Confidence: confidenceFor(req.MatchedBy, req.Confidence),
		}
		change, err = e.setCategory(ctx, userID, txID, category, assignment, nil, nil)
		change.rejected = rejected
		return err
	})
	if err != nil {
		return err
	}

	slog.Info("Assigned category to transaction",
		"user_id", userID,
		"transaction_id", txID,
		"category_id", req.CategoryID,
		"matched_by", req.MatchedBy)

	if req.MatchedBy == model.MatchSourceAuto {
		return nil
	}
	e.cancelWorkers(ctx, userID, model.EntityTransaction, txID)
	e.learn(ctx, "learn-category", func(ctx context.Context, l Learner) error {
		var errs []error
		if change.rejected {
			_, err := l.ClearCategoryRemoval(ctx, req.CategoryID, txID)
			errs = append(errs, err)
		}
		prev := change.previous
		if req.MatchedBy == model.MatchSourceManual && prev.Assigned() &&
			prev.ID != req.CategoryID && prev.MatchedBy.SystemRecommended() {
			errs = append(errs, l.UnlearnCategory(ctx, prev.ID, change.txn))
		}
		errs = append(errs, l.LearnCategory(ctx, req.CategoryID, change.txn))
		return errors.Join(errs...)
	})
	return nil
}

// AssignReceiptLostCategory files a transaction under the user's
// receipt-lost category together with the justification. The category is
// created on first use.
func (e *Engine) AssignReceiptLostCategory(ctx context.Context, userID, txID string, req ReceiptLostRequest) error {
	if err := requireID("transactionId", txID); err != nil {
		return err
	}
	if !req.Reason.Valid() {
		return common.InvalidArgument("unknown receipt-lost reason %q", req.Reason)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return common.InvalidArgument("description is required")
	}

	err := e.retry(ctx, func() error {
		category, created, err := e.receiptLostCategory(ctx, userID)
		if err != nil {
			return err
		}
		entry := &model.ReceiptLostEntry{
			Reason:      req.Reason,
			Description: description,
			CreatedAt:   e.now(),
		}
		assignment := model.Assignment{ID: category.ID, MatchedBy: model.MatchSourceManual, Confidence: model.MaxConfidence}
		var createdCategory *model.Category
		if created {
			createdCategory = category
		}
		_, err = e.setCategory(ctx, userID, txID, category, assignment, entry, createdCategory)
		return err
	})
	if err != nil {
		return err
	}

	slog.Info("Assigned receipt-lost category",
		"user_id", userID,
		"transaction_id", txID,
		"reason", req.Reason)
	e.cancelWorkers(ctx, userID, model.EntityTransaction, txID)
	return nil
}

func (e *Engine) receiptLostCategory(ctx context.Context, userID string) (*model.Category, bool, error) {
	categories, err := e.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	for i := range categories {
		if categories[i].TemplateID == model.TemplateReceiptLost {
			return &categories[i], false, nil
		}
	}

	now := e.now()
	return &model.Category{
		ID:         e.newID(),
		UserID:     userID,
		TemplateID: model.TemplateReceiptLost,
		Name:       receiptLostName,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, true, nil
}

// setCategory writes a category assignment and the count adjustments in
// one batch. create is inserted in the same batch when not nil.
func (e *Engine) setCategory(ctx context.Context, userID, txID string, category *model.Category,
	assignment model.Assignment, lost *model.ReceiptLostEntry, create *model.Category) (categoryChange, error) {
	txn, err := e.loadTransaction(ctx, userID, txID, denyForeign)
	if err != nil {
		return categoryChange{}, err
	}

	previous := txn.CategoryAssignment()
	decrement, err := e.countedCategory(ctx, previous.ID, category.ID)
	if err != nil {
		return categoryChange{}, err
	}

	txn.SetCategory(assignment, category.TemplateID)
	txn.ReceiptLost = lost
	txn.CategorySuggestions = nil
	txn.DeriveComplete()
	txn.UpdatedAt = e.now()

	err = e.store.Update(ctx, func(b service.Batch) error {
		if create != nil {
			b.PutCategory(create)
		}
		b.PutTransaction(txn)
		if previous.ID != category.ID {
			b.IncrementCategoryCount(category.ID, 1)
		}
		if decrement != "" {
			b.IncrementCategoryCount(decrement, -1)
		}
		return nil
	})
	return categoryChange{txn: txn, previous: previous}, err
}

// countedCategory returns previousID when its count must drop because the
// transaction leaves it. Dangling references are left to the repair pass.
func (e *Engine) countedCategory(ctx context.Context, previousID, nextID string) (string, error) {
	if previousID == "" || previousID == nextID {
		return "", nil
	}
	if _, err := e.store.GetCategory(ctx, previousID); err != nil {
		if common.CodeOf(err) == common.CodeNotFound {
			return "", nil
		}
		return "", err
	}
	return previousID, nil
}

// RemoveCategory clears the transaction's no-receipt category and
// recomputes completeness. Removing a system-recommended category is a
// correction: it is logged as a false positive and penalizes the category's
// patterns. The transaction is then re-matched for new suggestions.
func (e *Engine) RemoveCategory(ctx context.Context, userID, txID string) error {
	if err := requireID("transactionId", txID); err != nil {
		return err
	}

	var change categoryChange
	err := e.retry(ctx, func() error {
		txn, err := e.loadTransaction(ctx, userID, txID, denyForeign)
		if err != nil {
			return err
		}
		change = categoryChange{txn: txn, previous: txn.CategoryAssignment()}
		if !change.previous.Assigned() {
			return nil
		}
		decrement, err := e.countedCategory(ctx, change.previous.ID, "")
		if err != nil {
			return err
		}

		txn.ClearCategory()
		txn.DeriveComplete()
		txn.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutTransaction(txn)
			if decrement != "" {
				b.IncrementCategoryCount(decrement, -1)
			}
			return nil
		})
	})
	if err != nil || !change.previous.Assigned() {
		return err
	}

	slog.Info("Removed category from transaction",
		"user_id", userID,
		"transaction_id", txID,
		"category_id", change.previous.ID,
		"matched_by", change.previous.MatchedBy)

	e.learn(ctx, "unlearn-category", func(ctx context.Context, l Learner) error {
		var unlearnErr error
		if change.previous.MatchedBy.SystemRecommended() {
			unlearnErr = l.UnlearnCategory(ctx, change.previous.ID, change.txn)
		}
		return errors.Join(unlearnErr, e.rematchCategories(ctx, l, txID))
	})
	return nil
}

// rematchCategories refreshes the category suggestions of a transaction
// without a category.
func (e *Engine) rematchCategories(ctx context.Context, l Learner, txID string) error {
	return e.retry(ctx, func() error {
		txn, err := e.store.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if txn.NoReceiptCategoryID != "" {
			return nil
		}
		suggestions, err := l.SuggestCategories(ctx, txn)
		if err != nil {
			return err
		}
		txn.CategorySuggestions = suggestions
		txn.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutTransaction(txn)
			return nil
		})
	})
}
