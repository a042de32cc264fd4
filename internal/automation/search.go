package automation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// DefaultSearchWorker is the worker type started for receipt searches.
const DefaultSearchWorker = "receipt_search"

// SearchRequest asks for a receipt search for one entity.
type SearchRequest struct {
	TriggerContext model.TriggerContext `json:"triggerContext"`
	WorkerType     string               `json:"workerType,omitempty"`
	Query          string               `json:"query,omitempty"`
	InitialPrompt  string               `json:"initialPrompt,omitempty"`
	TriggeredBy    string               `json:"triggeredBy,omitempty"`
	TransactionIDs []string             `json:"transactionIds,omitempty"`
}

// SearchResult tells the caller whether the search started now or waits in
// the precision search queue.
type SearchResult struct {
	RunID       string `json:"runId,omitempty"`
	Status      string `json:"status"`
	QueueItemID string `json:"queueItemId,omitempty"`
	Queued      bool   `json:"queued"`
}

// RequestSearch starts a search worker for the request, unless the user
// already has a running worker, in which case the request is queued. Runs
// idle longer than the run stale window no longer count as running. A
// trigger that fails or answers without a run also falls back to the queue.
func (s *Supervisor) RequestSearch(ctx context.Context, userID string, req SearchRequest) (SearchResult, error) {
	if userID == "" {
		return SearchResult{}, common.InvalidArgument("userId is required")
	}
	if req.TriggerContext.EntityID == "" && len(req.TransactionIDs) == 0 {
		return SearchResult{}, common.InvalidArgument("triggerContext.entityId or transactionIds is required")
	}
	if req.WorkerType == "" {
		req.WorkerType = DefaultSearchWorker
	}
	if req.TriggerContext.EntityKind == model.EntityTransaction && len(req.TransactionIDs) == 0 {
		req.TransactionIDs = []string{req.TriggerContext.EntityID}
	}

	running, err := s.activeRuns(ctx, userID)
	if err != nil {
		return SearchResult{}, storeError(err, "failed to check running workers")
	}
	if len(running) > 0 {
		slog.Debug("Worker already running, queueing search", "user_id", userID, "running", len(running))
		return s.queueSearch(ctx, userID, req)
	}
	if s.trigger == nil {
		return s.queueSearch(ctx, userID, req)
	}

	resp, err := s.trigger.Trigger(ctx, TriggerRequest{
		WorkerType:     req.WorkerType,
		InitialPrompt:  req.InitialPrompt,
		TriggerContext: req.TriggerContext,
		TriggeredBy:    req.TriggeredBy,
	})
	if err != nil || resp.RunID == "" {
		slog.Warn("Worker trigger unavailable, queueing search",
			"user_id", userID,
			"entity_id", req.TriggerContext.EntityID,
			"error", err)
		return s.queueSearch(ctx, userID, req)
	}

	status := model.WorkerStatus(strings.ToLower(resp.Status))
	if status == "" {
		status = model.WorkerRunning
	}
	now := s.now()
	run := &model.WorkerRecord{
		ID:             resp.RunID,
		UserID:         userID,
		WorkerType:     req.WorkerType,
		Status:         status,
		TriggerContext: req.TriggerContext,
		TriggeredBy:    req.TriggeredBy,
		InitialPrompt:  req.InitialPrompt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.store.Update(ctx, func(b service.Batch) error {
		b.PutWorker(model.WorkerRuns, run)
		return nil
	})
	if err != nil {
		// The run exists remotely; losing our record only weakens the
		// running check.
		slog.Warn("Failed to record worker run", "run_id", resp.RunID, "error", err)
	}

	return SearchResult{RunID: resp.RunID, Status: string(status)}, nil
}

func (s *Supervisor) queueSearch(ctx context.Context, userID string, req SearchRequest) (SearchResult, error) {
	item, err := s.Enqueue(ctx, userID, EnqueueRequest{
		Kind:           model.QueuePrecisionSearch,
		Query:          req.Query,
		TriggeredBy:    req.TriggeredBy,
		TransactionIDs: req.TransactionIDs,
	})
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{QueueItemID: item.ID, Status: string(item.Status), Queued: true}, nil
}
