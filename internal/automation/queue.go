package automation

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// TimedOutError is recorded on processing items failed by the stale sweep.
const TimedOutError = "timed out"

// transitions lists the legal moves of the queue state machine.
var transitions = map[model.QueueStatus][]model.QueueStatus{
	model.QueuePending:    {model.QueueProcessing, model.QueuePaused},
	model.QueueProcessing: {model.QueueCompleted, model.QueueFailed, model.QueuePaused},
	model.QueueFailed:     {model.QueuePending},
	model.QueuePaused:     {model.QueuePending},
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to model.QueueStatus) bool {
	return slices.Contains(transitions[from], to)
}

// EnqueueRequest describes a new durable job.
type EnqueueRequest struct {
	Kind           model.QueueKind
	Query          string
	IntegrationID  string
	TriggeredBy    string
	TransactionIDs []string
}

// Enqueue stores a pending item for userID.
func (s *Supervisor) Enqueue(ctx context.Context, userID string, req EnqueueRequest) (*model.QueueItem, error) {
	if userID == "" {
		return nil, common.InvalidArgument("userId is required")
	}
	if !req.Kind.Valid() {
		return nil, common.InvalidArgument("unknown queue %q", req.Kind)
	}

	now := s.now()
	item := &model.QueueItem{
		ID:             s.newID(),
		UserID:         userID,
		Kind:           req.Kind,
		Status:         model.QueuePending,
		Query:          strings.TrimSpace(req.Query),
		IntegrationID:  req.IntegrationID,
		TriggeredBy:    req.TriggeredBy,
		TransactionIDs: slices.Clone(req.TransactionIDs),
		Total:          len(req.TransactionIDs),
		MaxRetries:     s.config.MaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.store.Update(ctx, func(b service.Batch) error {
		b.PutQueueItem(item)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to enqueue job")
	}

	slog.Debug("Enqueued job", "user_id", userID, "kind", item.Kind, "item_id", item.ID)
	return item, nil
}

// ListQueue returns the user's items of one queue, oldest first. An empty
// kind lists both queues.
func (s *Supervisor) ListQueue(ctx context.Context, userID string, kind model.QueueKind, statuses ...model.QueueStatus) ([]model.QueueItem, error) {
	if kind != "" && !kind.Valid() {
		return nil, common.InvalidArgument("unknown queue %q", kind)
	}
	items, err := s.store.ListQueueItems(ctx, service.QueueFilter{UserID: userID, Kind: kind, Statuses: statuses})
	if err != nil {
		return nil, storeError(err, "failed to list queue")
	}
	return items, nil
}

// transition applies a state change to one item under optimistic
// concurrency. mutate runs after the transition was validated and may
// adjust other fields.
func (s *Supervisor) transition(ctx context.Context, userID, id string, to model.QueueStatus, mutate func(*model.QueueItem) error) (*model.QueueItem, error) {
	if id == "" {
		return nil, common.InvalidArgument("queue item id is required")
	}

	var item *model.QueueItem
	err := common.WithRetry(ctx, func() error {
		var err error
		item, err = s.store.GetQueueItem(ctx, id)
		if err != nil {
			return err
		}
		if userID != "" && item.UserID != userID {
			return common.PermissionDenied("queue item %s belongs to another user", id)
		}
		if !CanTransition(item.Status, to) {
			return common.FailedPrecondition("queue item %s cannot move from %s to %s", id, item.Status, to)
		}
		if mutate != nil {
			if err := mutate(item); err != nil {
				return err
			}
		}
		item.Status = to
		item.UpdatedAt = s.now()
		return s.store.Update(ctx, func(b service.Batch) error {
			b.PutQueueItem(item)
			return nil
		})
	}, common.ConflictRetryOptions())
	if err != nil {
		return nil, storeError(err, "failed to update queue item "+id)
	}
	return item, nil
}

// Claim moves a pending item to processing.
func (s *Supervisor) Claim(ctx context.Context, userID, id string) (*model.QueueItem, error) {
	return s.transition(ctx, userID, id, model.QueueProcessing, func(item *model.QueueItem) error {
		now := s.now()
		item.StartedAt = &now
		item.CompletedAt = nil
		return nil
	})
}

// Complete finishes a processing item.
func (s *Supervisor) Complete(ctx context.Context, userID, id string) (*model.QueueItem, error) {
	return s.transition(ctx, userID, id, model.QueueCompleted, func(item *model.QueueItem) error {
		now := s.now()
		item.CompletedAt = &now
		item.LastError = ""
		return nil
	})
}

// Fail stops a processing item with cause.
func (s *Supervisor) Fail(ctx context.Context, userID, id string, cause error) (*model.QueueItem, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.transition(ctx, userID, id, model.QueueFailed, func(item *model.QueueItem) error {
		item.LastError = msg
		return nil
	})
}

// Retry returns a failed item to pending while it has retries left. The
// last error stays on the item until it completes.
func (s *Supervisor) Retry(ctx context.Context, userID, id string) (*model.QueueItem, error) {
	return s.transition(ctx, userID, id, model.QueuePending, func(item *model.QueueItem) error {
		if !item.CanRetry() {
			return common.FailedPrecondition("queue item %s exhausted %d retries", id, item.MaxRetries)
		}
		item.RetryCount++
		item.TimedOut = false
		item.StartedAt = nil
		return nil
	})
}

// Pause holds a pending or processing item. A processing handler notices
// the pause when it tries to complete.
func (s *Supervisor) Pause(ctx context.Context, userID, id string) (*model.QueueItem, error) {
	return s.transition(ctx, userID, id, model.QueuePaused, nil)
}

// Resume returns a paused item to pending.
func (s *Supervisor) Resume(ctx context.Context, userID, id string) (*model.QueueItem, error) {
	return s.transition(ctx, userID, id, model.QueuePending, func(item *model.QueueItem) error {
		item.StartedAt = nil
		return nil
	})
}

// ReportProgress records counters on a processing item. Progress also
// proves the item is alive to the stale sweep.
func (s *Supervisor) ReportProgress(ctx context.Context, id string, processed, total, matched int) error {
	err := common.WithRetry(ctx, func() error {
		item, err := s.store.GetQueueItem(ctx, id)
		if err != nil {
			return err
		}
		if item.Status != model.QueueProcessing {
			return common.FailedPrecondition("queue item %s is %s", id, item.Status)
		}
		item.Processed, item.Total, item.Matched = processed, max(total, processed), matched
		item.UpdatedAt = s.now()
		return s.store.Update(ctx, func(b service.Batch) error {
			b.PutQueueItem(item)
			return nil
		})
	}, common.ConflictRetryOptions())
	if err != nil {
		return storeError(err, "failed to record progress")
	}
	return nil
}

// SweepStale fails processing items that made no progress for longer than
// the staleness threshold. Swept items are marked timed out and are not
// retried automatically. It returns the number of items swept.
func (s *Supervisor) SweepStale(ctx context.Context) (int, error) {
	items, err := s.store.ListQueueItems(ctx, service.QueueFilter{Statuses: []model.QueueStatus{model.QueueProcessing}})
	if err != nil {
		return 0, storeError(err, "failed to list processing items")
	}

	cutoff := s.now().Add(-s.config.StaleAfter)
	var swept int
	for _, item := range items {
		if !lastActivity(item).Before(cutoff) {
			continue
		}
		_, err := s.transition(ctx, "", item.ID, model.QueueFailed, func(current *model.QueueItem) error {
			if !lastActivity(*current).Before(cutoff) {
				return common.FailedPrecondition("queue item %s made progress", current.ID)
			}
			current.LastError = TimedOutError
			current.TimedOut = true
			return nil
		})
		if err != nil {
			if common.IsCode(err, common.CodeFailedPrecondition) {
				continue
			}
			return swept, err
		}
		swept++
		slog.Warn("Swept stale job",
			"item_id", item.ID,
			"user_id", item.UserID,
			"kind", item.Kind,
			"stale_after", s.config.StaleAfter)
	}
	return swept, nil
}

func lastActivity(item model.QueueItem) time.Time {
	if item.UpdatedAt.IsZero() && item.StartedAt != nil {
		return *item.StartedAt
	}
	return item.UpdatedAt
}
