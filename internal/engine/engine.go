// Package engine implements the reconciliation operations: file to
// transaction connections, partner and no-receipt category assignment, file
// overrides and bulk edits. Every operation commits its primary mutation in
// one batch and hands learning and worker cancellation to a dispatcher.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// Engine orchestrates reconciliation against a document store.
type Engine struct {
	store      service.Store
	learner    Learner
	canceller  WorkerCanceller
	dispatcher Dispatcher
	resolver   pattern.Resolver
	now        func() time.Time
	newID      func() string
}

// Config holds configuration options for the engine.
type Config struct {
	// TieBreak picks the partner winner when two automatic assignments
	// carry equal confidence.
	TieBreak pattern.Side
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{TieBreak: pattern.DefaultTieBreak}
}

// New creates an engine with the given dependencies. learner, canceller and
// dispatcher may be nil: missing side effects are skipped and a nil
// dispatcher runs tasks inline.
func New(store service.Store, learner Learner, canceller WorkerCanceller, dispatcher Dispatcher) *Engine {
	return NewWithConfig(store, learner, canceller, dispatcher, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(store service.Store, learner Learner, canceller WorkerCanceller, dispatcher Dispatcher, config Config) *Engine {
	if dispatcher == nil {
		dispatcher = InlineDispatcher{}
	}
	return &Engine{
		store:      store,
		learner:    learner,
		canceller:  canceller,
		dispatcher: dispatcher,
		resolver:   pattern.Resolver{TieBreak: config.TieBreak},
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// InlineDispatcher runs tasks synchronously and logs their errors.
type InlineDispatcher struct{}

// Dispatch runs task immediately on a context detached from the caller's
// cancellation.
func (InlineDispatcher) Dispatch(ctx context.Context, name string, task Task) {
	if err := task(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("Background task failed", "task", name, "error", err)
	}
}

// retry runs a read-modify-write operation until it commits without a
// version conflict.
func (e *Engine) retry(ctx context.Context, op func() error) error {
	err := common.WithRetry(ctx, op, common.ConflictRetryOptions())
	if err == nil {
		return nil
	}
	var coded *common.Error
	if errors.As(err, &coded) || errors.Is(err, context.Canceled) {
		return err
	}
	return common.Internal(err, "store operation failed")
}

// ownership decides the code returned for documents of another user. The
// connection manager hides their existence, other operations report it.
type ownership int

const (
	hideForeign ownership = iota
	denyForeign
)

func (o ownership) check(kind, id, owner, userID string) error {
	if owner == userID {
		return nil
	}
	if o == hideForeign {
		return common.NotFound("%s %s not found", kind, id)
	}
	return common.PermissionDenied("%s %s belongs to another user", kind, id)
}

func lookupError(err error, kind, id string) error {
	if errors.Is(err, common.ErrNotFound) {
		return common.NotFound("%s %s not found", kind, id)
	}
	return common.Internal(err, "failed to load %s %s", kind, id)
}

func (e *Engine) loadTransaction(ctx context.Context, userID, id string, own ownership) (*model.Transaction, error) {
	txn, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, lookupError(err, "transaction", id)
	}
	if err := own.check("transaction", id, txn.UserID, userID); err != nil {
		return nil, err
	}
	return txn, nil
}

func (e *Engine) loadFile(ctx context.Context, userID, id string, own ownership) (*model.File, error) {
	file, err := e.store.GetFile(ctx, id)
	if err != nil {
		return nil, lookupError(err, "file", id)
	}
	if err := own.check("file", id, file.UserID, userID); err != nil {
		return nil, err
	}
	return file, nil
}

// loadPartner returns a partner visible to userID: one of their own or a
// global one.
func (e *Engine) loadPartner(ctx context.Context, userID, id string) (*model.Partner, error) {
	partner, err := e.store.GetPartner(ctx, id)
	if err != nil {
		return nil, lookupError(err, "partner", id)
	}
	if !partner.VisibleTo(userID) {
		return nil, common.PermissionDenied("partner %s belongs to another user", id)
	}
	return partner, nil
}

func (e *Engine) loadCategory(ctx context.Context, userID, id string) (*model.Category, error) {
	category, err := e.store.GetCategory(ctx, id)
	if err != nil {
		return nil, lookupError(err, "category", id)
	}
	if err := denyForeign.check("category", id, category.UserID, userID); err != nil {
		return nil, err
	}
	return category, nil
}

// background hands a side effect to the dispatcher. Only call it after the
// primary mutation committed.
func (e *Engine) background(ctx context.Context, name string, task Task) {
	e.dispatcher.Dispatch(ctx, name, task)
}

// cancelWorkers stops automation searching for something the user just
// resolved by hand.
func (e *Engine) cancelWorkers(ctx context.Context, userID string, kind model.EntityKind, id string) {
	if e.canceller == nil {
		return
	}
	e.background(ctx, "cancel-workers", func(ctx context.Context) error {
		n, err := e.canceller.CancelWorkersForEntity(ctx, userID, model.TriggerContext{EntityKind: kind, EntityID: id})
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("Cancelled redundant workers",
				"user_id", userID,
				"entity_kind", kind,
				"entity_id", id,
				"count", n)
		}
		return nil
	})
}

func (e *Engine) learn(ctx context.Context, name string, task func(ctx context.Context, l Learner) error) {
	if e.learner == nil {
		return
	}
	e.background(ctx, name, func(ctx context.Context) error {
		return task(ctx, e.learner)
	})
}

func requireID(field, value string) error {
	if value == "" {
		return common.InvalidArgument("%s is required", field)
	}
	return nil
}

// confidenceFor returns the confidence stored with an assignment: manual
// choices are certain unless the caller says otherwise.
func confidenceFor(by model.MatchSource, confidence *int) int {
	if confidence != nil {
		return model.ClampConfidence(*confidence)
	}
	if by == model.MatchSourceManual {
		return model.MaxConfidence
	}
	return model.MinConfidence
}
