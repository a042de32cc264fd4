// Package automation supervises background work: it cancels worker
// requests and runs made redundant by manual corrections, keeps the durable
// precision search and mail sync queues moving through their state machine
// and dispatches fire-and-forget tasks.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// CancelReason is recorded on workers stopped by a manual correction.
const CancelReason = "superseded by manual action"

// Config holds the tunable values of the supervisor.
type Config struct {
	// StaleAfter is how long a processing item may go without progress
	// before the sweep fails it.
	StaleAfter time.Duration
	// RunStaleAfter is how long a worker run may stay running without an
	// update before it no longer blocks new searches and is failed.
	RunStaleAfter time.Duration
	// MaxRetries bounds retries of new queue items.
	MaxRetries int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		StaleAfter:    10 * time.Minute,
		RunStaleAfter: time.Hour,
		MaxRetries:    model.DefaultMaxRetries,
	}
}

// Supervisor owns worker records and queue items.
type Supervisor struct {
	store   service.Store
	trigger Trigger
	now     func() time.Time
	newID   func() string
	config  Config
}

// New creates a supervisor. trigger may be nil, in which case every search
// request goes to the durable queue.
func New(store service.Store, trigger Trigger, config Config) *Supervisor {
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultConfig().StaleAfter
	}
	if config.RunStaleAfter <= 0 {
		config.RunStaleAfter = DefaultConfig().RunStaleAfter
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = model.DefaultMaxRetries
	}
	return &Supervisor{
		store:   store,
		trigger: trigger,
		now:     time.Now,
		newID:   uuid.NewString,
		config:  config,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Supervisor) SetClock(now func() time.Time) {
	s.now = now
}

// CancelWorkersForEntity marks pending requests and running runs triggered
// for target as cancelled. When workerTypes is non-empty only those types
// are affected. Cancellation is cooperative: workers observe the status and
// stop on their own.
func (s *Supervisor) CancelWorkersForEntity(ctx context.Context, userID string, target model.TriggerContext, workerTypes ...string) (int, error) {
	if userID == "" || target.EntityID == "" {
		return 0, common.InvalidArgument("userId and entityId are required")
	}

	var cancelled int
	err := common.WithRetry(ctx, func() error {
		cancelled = 0
		var writes []func(service.Batch)
		for _, sel := range []struct {
			collection model.WorkerCollection
			status     model.WorkerStatus
		}{
			{model.WorkerRequests, model.WorkerPending},
			{model.WorkerRuns, model.WorkerRunning},
		} {
			records, err := s.store.ListWorkers(ctx, sel.collection, service.WorkerFilter{
				UserID:   userID,
				EntityID: target.EntityID,
				Statuses: []model.WorkerStatus{sel.status},
			})
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", sel.collection, err)
			}
			for _, rec := range records {
				if !matchesTarget(rec, target, workerTypes) {
					continue
				}
				rec.Status = model.WorkerCancelled
				rec.CancelledReason = CancelReason
				rec.UpdatedAt = s.now()
				collection := sel.collection
				writes = append(writes, func(b service.Batch) { b.PutWorker(collection, &rec) })
			}
		}
		if len(writes) == 0 {
			return nil
		}
		if err := writeChunked(ctx, s.store, writes); err != nil {
			return err
		}
		cancelled = len(writes)
		return nil
	}, common.ConflictRetryOptions())
	if err != nil {
		return 0, storeError(err, "failed to cancel workers")
	}

	if cancelled > 0 {
		slog.Info("Cancelled redundant workers",
			"user_id", userID,
			"entity_kind", target.EntityKind,
			"entity_id", target.EntityID,
			"count", cancelled)
	}
	return cancelled, nil
}

func matchesTarget(rec model.WorkerRecord, target model.TriggerContext, workerTypes []string) bool {
	if target.EntityKind != "" && rec.TriggerContext.EntityKind != "" && rec.TriggerContext.EntityKind != target.EntityKind {
		return false
	}
	return len(workerTypes) == 0 || slices.Contains(workerTypes, rec.WorkerType)
}

// writeChunked commits writes in batches the store accepts. A failure
// leaves earlier chunks committed; rerunning converges because every write
// is idempotent per document.
func writeChunked(ctx context.Context, store service.Store, writes []func(service.Batch)) error {
	for chunk := range slices.Chunk(writes, service.MaxBatchOperations) {
		err := store.Update(ctx, func(b service.Batch) error {
			for _, w := range chunk {
				w(b)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func storeError(err error, msg string) error {
	var coded *common.Error
	if errors.As(err, &coded) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, common.ErrNotFound) {
		return common.NewError(common.CodeNotFound, err, "%s", msg)
	}
	return common.Internal(err, "%s", msg)
}
