package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// Reporter records progress of a running job.
type Reporter func(processed, total, matched int)

// JobHandler executes one claimed queue item. Returning an error fails the
// item; the runner retries it later while retries remain.
type JobHandler interface {
	HandleJob(ctx context.Context, item model.QueueItem, report Reporter) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, item model.QueueItem, report Reporter) error

// HandleJob implements JobHandler.
func (f JobHandlerFunc) HandleJob(ctx context.Context, item model.QueueItem, report Reporter) error {
	return f(ctx, item, report)
}

// RunnerConfig tunes the queue runner.
type RunnerConfig struct {
	PollInterval time.Duration
	// LockTTL bounds how long a crashed runner can block a user.
	LockTTL time.Duration
	// Concurrency caps jobs executing at once across users.
	Concurrency int
}

// TickReport summarizes one runner pass.
type TickReport struct {
	Swept     int `json:"swept"`
	SweptRuns int `json:"sweptRuns"`
	Retried   int `json:"retried"`
	Started   int `json:"started"`
}

// Runner drains the durable queues.
type Runner struct {
	supervisor *Supervisor
	locker     Locker
	handlers   map[model.QueueKind]JobHandler
	config     RunnerConfig
}

// NewRunner creates a runner. A nil locker uses an in-process one.
func NewRunner(supervisor *Supervisor, locker Locker, cfg RunnerConfig) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = supervisor.config.StaleAfter
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Runner{
		supervisor: supervisor,
		locker:     locker,
		handlers:   make(map[model.QueueKind]JobHandler),
		config:     cfg,
	}
}

// Register sets the handler for a queue. Items of queues without a handler
// stay pending.
func (r *Runner) Register(kind model.QueueKind, handler JobHandler) {
	r.handlers[kind] = handler
}

// Run ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("Queue runner started", "poll_interval", r.config.PollInterval)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Queue runner pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Queue runner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick makes one pass: sweep stale items and worker runs, retry failed items with retries
// left, then start at most one pending item per user and queue.
func (r *Runner) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	s := r.supervisor

	swept, err := s.SweepStale(ctx)
	report.Swept = swept
	if err != nil {
		return report, err
	}

	sweptRuns, err := s.SweepStaleRuns(ctx)
	report.SweptRuns = sweptRuns
	if err != nil {
		return report, err
	}

	failed, err := s.store.ListQueueItems(ctx, service.QueueFilter{Statuses: []model.QueueStatus{model.QueueFailed}})
	if err != nil {
		return report, storeError(err, "failed to list failed items")
	}
	for _, item := range failed {
		if !item.CanAutoRetry() {
			continue
		}
		if _, err := s.Retry(ctx, "", item.ID); err != nil {
			slog.Debug("Skipped retry", "item_id", item.ID, "error", err)
			continue
		}
		report.Retried++
	}

	next, err := r.nextItems(ctx)
	if err != nil {
		return report, err
	}

	var started atomic.Int32
	p := pool.New().WithMaxGoroutines(r.config.Concurrency)
	for _, item := range next {
		p.Go(func() {
			if r.execute(ctx, item) {
				started.Add(1)
			}
		})
	}
	p.Wait()
	report.Started = int(started.Load())

	if report.Swept+report.Retried+report.Started > 0 {
		slog.Info("Queue runner pass",
			"swept", report.Swept,
			"retried", report.Retried,
			"started", report.Started)
	}
	return report, nil
}

func lockKey(item model.QueueItem) string {
	return fmt.Sprintf("%s:%s", item.UserID, item.Kind)
}

// nextItems picks the oldest pending item of every user and queue that has
// a handler and nothing processing.
func (r *Runner) nextItems(ctx context.Context) ([]model.QueueItem, error) {
	items, err := r.supervisor.store.ListQueueItems(ctx, service.QueueFilter{
		Statuses: []model.QueueStatus{model.QueuePending, model.QueueProcessing},
	})
	if err != nil {
		return nil, storeError(err, "failed to list pending items")
	}

	busy := make(map[string]bool)
	for _, item := range items {
		if item.Status == model.QueueProcessing {
			busy[lockKey(item)] = true
		}
	}

	var next []model.QueueItem
	for _, item := range items {
		key := lockKey(item)
		if item.Status != model.QueuePending || busy[key] || r.handlers[item.Kind] == nil {
			continue
		}
		busy[key] = true
		next = append(next, item)
	}
	return next, nil
}

// execute claims and runs one item, reporting whether it started.
func (r *Runner) execute(ctx context.Context, item model.QueueItem) bool {
	s := r.supervisor
	logger := slog.With("item_id", item.ID, "user_id", item.UserID, "kind", item.Kind)

	unlock, ok, err := r.locker.TryLock(ctx, lockKey(item), r.config.LockTTL)
	if err != nil {
		logger.Warn("Failed to acquire user lock", "error", err)
		return false
	}
	if !ok {
		logger.Debug("User lock held elsewhere")
		return false
	}
	defer unlock()

	claimed, err := s.Claim(ctx, item.UserID, item.ID)
	if err != nil {
		logger.Debug("Item claimed elsewhere", "error", err)
		return false
	}

	report := func(processed, total, matched int) {
		if err := s.ReportProgress(ctx, item.ID, processed, total, matched); err != nil {
			logger.Debug("Failed to record progress", "error", err)
		}
	}

	start := time.Now()
	if err := r.handlers[item.Kind].HandleJob(ctx, *claimed, report); err != nil {
		logger.Warn("Job failed", "error", err, "retry_count", claimed.RetryCount)
		if _, ferr := s.Fail(ctx, item.UserID, item.ID, err); ferr != nil {
			logger.Warn("Failed to record job failure", "error", ferr)
		}
		return true
	}

	if _, err := s.Complete(ctx, item.UserID, item.ID); err != nil {
		// Paused or swept while running.
		logger.Info("Job finished but was not completed", "error", err)
		return true
	}
	logger.Info("Job completed", "duration", time.Since(start))
	return true
}
