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

// AssignPartnerRequest assigns a partner to a transaction or a file.
// PartnerType is optional and must agree with the partner when given.
type AssignPartnerRequest struct {
	Confidence  *int
	PartnerID   string
	PartnerType model.PartnerType
	MatchedBy   model.MatchSource
}

func (r AssignPartnerRequest) validate() error {
	if err := requireID("partnerId", r.PartnerID); err != nil {
		return err
	}
	if !r.MatchedBy.Valid() {
		return common.InvalidArgument("unknown matchedBy %q", r.MatchedBy)
	}
	switch r.PartnerType {
	case "", model.PartnerTypeUser, model.PartnerTypeGlobal:
		return nil
	default:
		return common.InvalidArgument("unknown partner type %q", r.PartnerType)
	}
}

func (r AssignPartnerRequest) assignment() model.Assignment {
	return model.Assignment{
		ID:         r.PartnerID,
		MatchedBy:  r.MatchedBy,
		Confidence: confidenceFor(r.MatchedBy, r.Confidence),
	}
}

func checkPartnerType(req AssignPartnerRequest, partner *model.Partner) error {
	if req.PartnerType != "" && req.PartnerType != partner.Type() {
		return common.InvalidArgument("partner %s is %s, not %s", partner.ID, partner.Type(), req.PartnerType)
	}
	return nil
}

// AssignPartnerToTransaction sets the transaction's partner. A partner the
// user already rejected for this transaction cannot come back through an
// automatic match or suggestion; a manual assignment lifts the rejection.
// Connected files whose extraction finished are reconciled in the same
// batch.
func (e *Engine) AssignPartnerToTransaction(ctx context.Context, userID, txID string, req AssignPartnerRequest) error {
	if err := requireID("transactionId", txID); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	var (
		txn      *model.Transaction
		previous model.Assignment
		rejected bool
	)
	err := e.retry(ctx, func() error {
		var err error
		if txn, err = e.loadTransaction(ctx, userID, txID, denyForeign); err != nil {
			return err
		}
		partner, err := e.loadPartner(ctx, userID, req.PartnerID)
		if err != nil {
			return err
		}
		if err := checkPartnerType(req, partner); err != nil {
			return err
		}

		rejected = pattern.HasRemoval(partner.ManualRemovals, txID)
		if rejected && req.MatchedBy != model.MatchSourceManual {
			return common.FailedPrecondition("partner %s was removed from transaction %s before", partner.ID, txID)
		}

		files, err := e.connectedFiles(ctx, txn)
		if err != nil {
			return err
		}

		now := e.now()
		previous = txn.PartnerAssignment()
		txn.SetPartner(req.assignment(), partner.Type())
		txn.PartnerSuggestions = nil
		txn.UpdatedAt = now

		var synced []*model.File
		for _, f := range files {
			if !f.ExtractionComplete {
				continue
			}
			if res := e.resolver.Resolve(f.PartnerAssignment(), txn.PartnerAssignment()); res.ShouldSync && res.Source == pattern.SideTransaction {
				e.syncPartner(f, txn)
				f.UpdatedAt = now
				synced = append(synced, f)
			}
		}

		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutTransaction(txn)
			for _, f := range synced {
				b.PutFile(f)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	slog.Info("Assigned partner to transaction",
		"user_id", userID,
		"transaction_id", txID,
		"partner_id", req.PartnerID,
		"matched_by", req.MatchedBy)

	if req.MatchedBy == model.MatchSourceAuto {
		return nil
	}

	e.cancelWorkers(ctx, userID, model.EntityTransaction, txID)
	e.learn(ctx, "learn-partner", func(ctx context.Context, l Learner) error {
		var errs []error
		if rejected {
			_, err := l.ClearPartnerRemoval(ctx, req.PartnerID, txID)
			errs = append(errs, err)
		}
		if req.MatchedBy == model.MatchSourceManual && previous.Assigned() &&
			previous.ID != req.PartnerID && previous.MatchedBy.SystemRecommended() {
			errs = append(errs, l.UnlearnPartner(ctx, previous.ID, txn))
		}
		errs = append(errs, l.LearnPartner(ctx, req.PartnerID, txn))
		return errors.Join(errs...)
	})
	return nil
}

// RemovePartnerFromTransaction clears the transaction's partner. Removing a
// system-recommended partner is a correction: it is logged as a false
// positive, the partner's patterns are penalized and new suggestions are
// computed.
func (e *Engine) RemovePartnerFromTransaction(ctx context.Context, userID, txID string) error {
	if err := requireID("transactionId", txID); err != nil {
		return err
	}

	var (
		txn      *model.Transaction
		previous model.Assignment
	)
	err := e.retry(ctx, func() error {
		var err error
		if txn, err = e.loadTransaction(ctx, userID, txID, denyForeign); err != nil {
			return err
		}
		previous = txn.PartnerAssignment()
		if !previous.Assigned() {
			return nil
		}
		txn.ClearPartner()
		txn.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutTransaction(txn)
			return nil
		})
	})
	if err != nil || !previous.Assigned() {
		return err
	}

	slog.Info("Removed partner from transaction",
		"user_id", userID,
		"transaction_id", txID,
		"partner_id", previous.ID,
		"matched_by", previous.MatchedBy)

	e.learn(ctx, "unlearn-partner", func(ctx context.Context, l Learner) error {
		var unlearnErr error
		if previous.MatchedBy.SystemRecommended() {
			unlearnErr = l.UnlearnPartner(ctx, previous.ID, txn)
		}
		return errors.Join(unlearnErr, e.rematchPartners(ctx, l, txID))
	})
	return nil
}

// rematchPartners refreshes the partner suggestions of a transaction that
// has no partner.
func (e *Engine) rematchPartners(ctx context.Context, l Learner, txID string) error {
	return e.retry(ctx, func() error {
		txn, err := e.store.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if txn.PartnerID != "" {
			return nil
		}
		suggestions, err := l.SuggestPartners(ctx, txn)
		if err != nil {
			return err
		}
		txn.PartnerSuggestions = suggestions
		txn.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutTransaction(txn)
			return nil
		})
	})
}

// AssignPartnerToFile sets the file's partner. Manual choices teach the
// partner where its invoices come from.
func (e *Engine) AssignPartnerToFile(ctx context.Context, userID, fileID string, req AssignPartnerRequest) error {
	if err := requireID("fileId", fileID); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	var (
		file        *model.File
		partnerType model.PartnerType
	)
	err := e.retry(ctx, func() error {
		var err error
		if file, err = e.loadFile(ctx, userID, fileID, denyForeign); err != nil {
			return err
		}
		if file.Deleted() {
			return common.FailedPrecondition("file %s is deleted", fileID)
		}
		partner, err := e.loadPartner(ctx, userID, req.PartnerID)
		if err != nil {
			return err
		}
		if err := checkPartnerType(req, partner); err != nil {
			return err
		}
		if pattern.HasRemoval(partner.ManualFileRemovals, fileID) && req.MatchedBy != model.MatchSourceManual {
			return common.FailedPrecondition("partner %s was removed from file %s before", partner.ID, fileID)
		}

		partnerType = partner.Type()
		file.SetPartner(req.assignment(), partnerType)
		file.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutFile(file)
			return nil
		})
	})
	if err != nil {
		return err
	}

	slog.Info("Assigned partner to file",
		"user_id", userID,
		"file_id", fileID,
		"partner_id", req.PartnerID,
		"matched_by", req.MatchedBy)

	if req.MatchedBy != model.MatchSourceAuto {
		e.cancelWorkers(ctx, userID, model.EntityFile, fileID)
		if partnerType == model.PartnerTypeUser {
			e.learn(ctx, "learn-file-source", func(ctx context.Context, l Learner) error {
				return l.LearnFileSource(ctx, req.PartnerID, file)
			})
		}
	}
	return nil
}

// RemovePartnerFromFile clears the file's partner. Removing an automatic
// assignment is logged as a false positive on the partner.
func (e *Engine) RemovePartnerFromFile(ctx context.Context, userID, fileID string) error {
	if err := requireID("fileId", fileID); err != nil {
		return err
	}

	var (
		file     *model.File
		previous model.Assignment
	)
	err := e.retry(ctx, func() error {
		var err error
		if file, err = e.loadFile(ctx, userID, fileID, denyForeign); err != nil {
			return err
		}
		previous = file.PartnerAssignment()
		if !previous.Assigned() {
			return nil
		}
		file.ClearPartner()
		file.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutFile(file)
			return nil
		})
	})
	if err != nil || !previous.Assigned() {
		return err
	}

	slog.Info("Removed partner from file",
		"user_id", userID,
		"file_id", fileID,
		"partner_id", previous.ID)

	if previous.MatchedBy.SystemRecommended() {
		e.learn(ctx, "record-file-removal", func(ctx context.Context, l Learner) error {
			return l.RecordFileRemoval(ctx, previous.ID, file)
		})
	}
	return nil
}

// MarkFileAsNotInvoice flags a file that is not a receipt. Extracted fields
// and suggestions are cleared; a partner chosen by the user survives.
func (e *Engine) MarkFileAsNotInvoice(ctx context.Context, userID, fileID, reason string) error {
	if err := requireID("fileId", fileID); err != nil {
		return err
	}

	return e.retry(ctx, func() error {
		file, err := e.loadFile(ctx, userID, fileID, denyForeign)
		if err != nil {
			return err
		}
		file.IsNotInvoice = true
		file.NotInvoiceReason = strings.TrimSpace(reason)
		file.ClearExtraction()
		if file.PartnerMatchedBy != model.MatchSourceManual {
			file.ClearPartner()
		}
		file.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutFile(file)
			return nil
		})
	})
}

// connectedFiles loads the files linked to txn, skipping dangling ids.
func (e *Engine) connectedFiles(ctx context.Context, txn *model.Transaction) ([]*model.File, error) {
	files := make([]*model.File, 0, len(txn.FileIDs))
	for _, id := range txn.FileIDs {
		f, err := e.store.GetFile(ctx, id)
		if err != nil {
			if common.CodeOf(err) == common.CodeNotFound {
				continue
			}
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}
