package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// ConnectRequest links a file to a transaction. Confidence and Source are
// optional.
type ConnectRequest struct {
	Confidence     *int
	Source         *model.SourceInfo
	FileID         string
	TransactionID  string
	ConnectionType model.ConnectionType
}

// ConnectResult identifies the junction record of a pair.
type ConnectResult struct {
	ConnectionID     string `json:"connectionId"`
	AlreadyConnected bool   `json:"alreadyConnected"`
}

func (r ConnectRequest) validate() error {
	if err := requireID("fileId", r.FileID); err != nil {
		return err
	}
	if err := requireID("transactionId", r.TransactionID); err != nil {
		return err
	}
	if !r.ConnectionType.Valid() {
		return common.InvalidArgument("unknown connection type %q", r.ConnectionType)
	}
	return nil
}

// Connect links a file to a transaction. Connecting an already linked pair
// returns the existing connection untouched. A new connection always makes
// the transaction complete and, once the file's extraction finished,
// reconciles the partner of both sides.
func (e *Engine) Connect(ctx context.Context, userID string, req ConnectRequest) (ConnectResult, error) {
	if err := req.validate(); err != nil {
		return ConnectResult{}, err
	}

	var (
		result ConnectResult
		file   *model.File
		txn    *model.Transaction
		synced pattern.Resolution
	)
	err := e.retry(ctx, func() error {
		var err error
		result, synced = ConnectResult{}, pattern.Resolution{}

		if file, err = e.loadFile(ctx, userID, req.FileID, hideForeign); err != nil {
			return err
		}
		if txn, err = e.loadTransaction(ctx, userID, req.TransactionID, hideForeign); err != nil {
			return err
		}
		if file.Deleted() {
			return common.FailedPrecondition("file %s is deleted", file.ID)
		}

		if existing, ok, err := e.existingConnection(ctx, req.FileID, req.TransactionID); err != nil || ok {
			result = existing
			return err
		}

		now := e.now()
		conn := &model.FileConnection{
			ID:             e.newID(),
			UserID:         userID,
			FileID:         file.ID,
			TransactionID:  txn.ID,
			ConnectionType: req.ConnectionType,
			CreatedAt:      now,
		}
		if req.Confidence != nil {
			conn.MatchConfidence = model.IntPtr(model.ClampConfidence(*req.Confidence))
		}
		if src := req.Source; src != nil {
			conn.SourceType = src.SourceType
			conn.SearchPattern = src.SearchPattern
			conn.IntegrationID = src.IntegrationID
			conn.MessageID = src.MessageID
		}

		file.AddTransaction(txn.ID)
		txn.AddFile(file.ID)
		txn.IsComplete = true
		if req.ConnectionType.UserInitiated() {
			file.RemoveSuggestion(txn.ID)
		}
		if file.ExtractionComplete {
			synced = e.syncPartner(file, txn)
		}
		file.UpdatedAt, txn.UpdatedAt = now, now

		err = e.store.Update(ctx, func(b service.Batch) error {
			b.PutConnection(conn)
			b.PutFile(file)
			b.PutTransaction(txn)
			return nil
		})
		if errors.Is(err, common.ErrDuplicateEntry) {
			// Lost a race against a concurrent connect of the same pair.
			existing, ok, lookupErr := e.existingConnection(ctx, req.FileID, req.TransactionID)
			if lookupErr == nil && ok {
				result = existing
				return nil
			}
		}
		if err != nil {
			return err
		}
		result = ConnectResult{ConnectionID: conn.ID}
		return nil
	})
	if err != nil {
		return ConnectResult{}, err
	}
	if result.AlreadyConnected {
		return result, nil
	}

	slog.Info("Connected file to transaction",
		"user_id", userID,
		"file_id", req.FileID,
		"transaction_id", req.TransactionID,
		"connection_type", req.ConnectionType,
		"partner_synced", synced.ShouldSync)

	if req.ConnectionType.UserInitiated() {
		e.cancelWorkers(ctx, userID, model.EntityTransaction, txn.ID)
		if file.PartnerID != "" && file.PartnerType == model.PartnerTypeUser {
			e.learn(ctx, "learn-file-source", func(ctx context.Context, l Learner) error {
				return l.LearnFileSource(ctx, file.PartnerID, file)
			})
		}
	}
	return result, nil
}

func (e *Engine) existingConnection(ctx context.Context, fileID, txID string) (ConnectResult, bool, error) {
	conn, err := e.store.GetConnection(ctx, fileID, txID)
	switch {
	case err == nil:
		return ConnectResult{ConnectionID: conn.ID, AlreadyConnected: true}, true, nil
	case errors.Is(err, common.ErrNotFound):
		return ConnectResult{}, false, nil
	default:
		return ConnectResult{}, false, err
	}
}

// syncPartner applies the resolver's winner to the losing side in memory.
func (e *Engine) syncPartner(file *model.File, txn *model.Transaction) pattern.Resolution {
	res := e.resolver.Resolve(file.PartnerAssignment(), txn.PartnerAssignment())
	if !res.ShouldSync {
		return res
	}

	winner := res.Winner
	winner.MatchedBy = pattern.SyncedMatchSource(winner.MatchedBy)
	switch res.Source {
	case pattern.SideFile:
		txn.SetPartner(winner, file.PartnerType)
	case pattern.SideTransaction:
		file.SetPartner(winner, txn.PartnerType)
	}
	return res
}

// Disconnect unlinks a file from a transaction and recomputes the
// transaction's completeness. Links without a junction record are cleaned
// up the same way; an unknown pair is a no-op.
func (e *Engine) Disconnect(ctx context.Context, userID, fileID, txID string) error {
	if err := requireID("fileId", fileID); err != nil {
		return err
	}
	if err := requireID("transactionId", txID); err != nil {
		return err
	}

	var changed bool
	err := e.retry(ctx, func() error {
		file, err := e.loadFile(ctx, userID, fileID, hideForeign)
		if err != nil {
			return err
		}
		txn, err := e.loadTransaction(ctx, userID, txID, hideForeign)
		if err != nil {
			return err
		}

		conn, err := e.store.GetConnection(ctx, fileID, txID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if conn == nil && !file.HasTransaction(txID) && !txn.HasFile(fileID) {
			changed = false
			return nil
		}

		now := e.now()
		file.RemoveTransaction(txID)
		txn.RemoveFile(fileID)
		txn.DeriveComplete()
		file.UpdatedAt, txn.UpdatedAt = now, now

		changed = true
		return e.store.Update(ctx, func(b service.Batch) error {
			if conn != nil {
				b.DeleteConnection(conn.ID)
			}
			b.PutFile(file)
			b.PutTransaction(txn)
			return nil
		})
	})
	if err != nil {
		return err
	}

	if changed {
		slog.Info("Disconnected file from transaction",
			"user_id", userID,
			"file_id", fileID,
			"transaction_id", txID)
	}
	return nil
}

// DismissSuggestion rejects a suggested transaction for a file. The pair is
// remembered so automatic matching does not offer it again.
func (e *Engine) DismissSuggestion(ctx context.Context, userID, fileID, txID string) error {
	if err := requireID("fileId", fileID); err != nil {
		return err
	}
	if err := requireID("transactionId", txID); err != nil {
		return err
	}

	return e.retry(ctx, func() error {
		file, err := e.loadFile(ctx, userID, fileID, hideForeign)
		if err != nil {
			return err
		}
		if file.Dismissed(txID) {
			return nil
		}
		now := e.now()
		file.DismissSuggestion(txID)
		file.UpdatedAt = now

		// The file's own partner learns the rejected pairing. Shared
		// global partners do not.
		partner, err := e.dismissalPartner(ctx, userID, file)
		if err != nil {
			return err
		}
		if partner != nil {
			partner.ManualFileRemovals = pattern.AppendDismissal(partner.ManualFileRemovals, txID, file.ID, now, pattern.MaxRemovals)
			partner.UpdatedAt = now
		}
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutFile(file)
			if partner != nil {
				b.PutPartner(partner)
			}
			return nil
		})
	})
}

// dismissalPartner returns the user partner assigned to file, or nil when
// there is none to record a dismissal on.
func (e *Engine) dismissalPartner(ctx context.Context, userID string, file *model.File) (*model.Partner, error) {
	if file.PartnerID == "" || file.PartnerType != model.PartnerTypeUser {
		return nil, nil
	}
	partner, err := e.store.GetPartner(ctx, file.PartnerID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if partner.UserID != userID {
		return nil, nil
	}
	return partner, nil
}

// ListConnections returns the caller's junction records of a file or a
// transaction.
func (e *Engine) ListConnections(ctx context.Context, userID string, filter service.ConnectionFilter) ([]model.FileConnection, error) {
	if filter.FileID == "" && filter.TransactionID == "" {
		return nil, common.InvalidArgument("fileId or transactionId is required")
	}
	filter.UserID = userID
	conns, err := e.store.ListConnections(ctx, filter)
	if err != nil {
		return nil, common.Internal(err, "failed to list connections")
	}
	return conns, nil
}
