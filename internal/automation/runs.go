package automation

import (
	"context"
	"log/slog"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// FinishRun records the outcome of a worker run reported by the worker
// service. status must be completed or failed. Reporting the status a run
// already has is a no-op, and cancelled runs keep their cancellation.
func (s *Supervisor) FinishRun(ctx context.Context, userID, runID string, status model.WorkerStatus, errMsg string) (*model.WorkerRecord, error) {
	if userID == "" || runID == "" {
		return nil, common.InvalidArgument("userId and runId are required")
	}
	if status != model.WorkerCompleted && status != model.WorkerFailed {
		return nil, common.InvalidArgument("status must be %q or %q", model.WorkerCompleted, model.WorkerFailed)
	}

	var finished model.WorkerRecord
	err := common.WithRetry(ctx, func() error {
		run, err := s.findRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.UserID != userID {
			return common.PermissionDenied("worker run %s belongs to another user", runID)
		}
		switch run.Status {
		case status:
			finished = run
			return nil
		case model.WorkerRunning:
		default:
			return common.FailedPrecondition("worker run %s is %s", runID, run.Status)
		}

		run.Status = status
		run.LastError = ""
		if status == model.WorkerFailed {
			run.LastError = errMsg
		}
		run.UpdatedAt = s.now()
		if err := s.store.Update(ctx, func(b service.Batch) error {
			b.PutWorker(model.WorkerRuns, &run)
			return nil
		}); err != nil {
			return err
		}
		finished = run
		return nil
	}, common.ConflictRetryOptions())
	if err != nil {
		return nil, storeError(err, "failed to finish worker run")
	}

	slog.Info("Worker run finished",
		"run_id", runID,
		"user_id", userID,
		"status", finished.Status)
	return &finished, nil
}

// SweepStaleRuns fails runs that stayed running without an update for
// longer than the run stale window. Their worker never reported back.
func (s *Supervisor) SweepStaleRuns(ctx context.Context) (int, error) {
	runs, err := s.store.ListWorkers(ctx, model.WorkerRuns, service.WorkerFilter{
		Statuses: []model.WorkerStatus{model.WorkerRunning},
	})
	if err != nil {
		return 0, storeError(err, "failed to list running workers")
	}

	var writes []func(service.Batch)
	for _, run := range runs {
		if !s.runIsStale(run) {
			continue
		}
		run.Status = model.WorkerFailed
		run.LastError = TimedOutError
		run.UpdatedAt = s.now()
		writes = append(writes, func(b service.Batch) { b.PutWorker(model.WorkerRuns, &run) })
		slog.Warn("Swept stale worker run",
			"run_id", run.ID,
			"user_id", run.UserID,
			"worker_type", run.WorkerType,
			"stale_after", s.config.RunStaleAfter)
	}
	if len(writes) == 0 {
		return 0, nil
	}
	if err := writeChunked(ctx, s.store, writes); err != nil {
		return 0, storeError(err, "failed to sweep worker runs")
	}
	return len(writes), nil
}

// activeRuns returns the user's running runs that are not stale.
func (s *Supervisor) activeRuns(ctx context.Context, userID string) ([]model.WorkerRecord, error) {
	runs, err := s.store.ListWorkers(ctx, model.WorkerRuns, service.WorkerFilter{
		UserID:   userID,
		Statuses: []model.WorkerStatus{model.WorkerRunning},
	})
	if err != nil {
		return nil, err
	}
	active := runs[:0]
	for _, run := range runs {
		if !s.runIsStale(run) {
			active = append(active, run)
		}
	}
	return active, nil
}

func (s *Supervisor) runIsStale(run model.WorkerRecord) bool {
	last := run.UpdatedAt
	if last.IsZero() {
		last = run.CreatedAt
	}
	return last.Before(s.now().Add(-s.config.RunStaleAfter))
}

func (s *Supervisor) findRun(ctx context.Context, runID string) (model.WorkerRecord, error) {
	runs, err := s.store.ListWorkers(ctx, model.WorkerRuns, service.WorkerFilter{})
	if err != nil {
		return model.WorkerRecord{}, err
	}
	for _, run := range runs {
		if run.ID == runID {
			return run, nil
		}
	}
	return model.WorkerRecord{}, common.NotFound("worker run %s not found", runID)
}
