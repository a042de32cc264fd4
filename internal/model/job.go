package model

import "time"

// QueueKind names one of the durable background job queues.
type QueueKind string

const (
	// QueuePrecisionSearch holds receipt searches for specific transactions.
	QueuePrecisionSearch QueueKind = "precision_search"
	// QueueMailSync holds mailbox synchronization jobs.
	QueueMailSync QueueKind = "mail_sync"
)

// Valid reports whether k is a known queue.
func (k QueueKind) Valid() bool {
	return k == QueuePrecisionSearch || k == QueueMailSync
}

// QueueStatus is a state in the job state machine.
type QueueStatus string

const (
	// QueuePending items wait to be claimed.
	QueuePending QueueStatus = "pending"
	// QueueProcessing items are being executed.
	QueueProcessing QueueStatus = "processing"
	// QueueCompleted items finished successfully.
	QueueCompleted QueueStatus = "completed"
	// QueueFailed items stopped with an error and may be retried.
	QueueFailed QueueStatus = "failed"
	// QueuePaused items are held until resumed.
	QueuePaused QueueStatus = "paused"
)

// DefaultMaxRetries bounds automatic and manual retries of a failed item.
const DefaultMaxRetries = 3

// QueueItem is a durable job record shared by both queues.
type QueueItem struct {
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	StartedAt      *time.Time  `json:"startedAt,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	ID             string      `json:"id"`
	UserID         string      `json:"userId"`
	Kind           QueueKind   `json:"kind"`
	Status         QueueStatus `json:"status"`
	Query          string      `json:"query,omitempty"`
	IntegrationID  string      `json:"integrationId,omitempty"`
	LastError      string      `json:"lastError,omitempty"`
	TriggeredBy    string      `json:"triggeredBy,omitempty"`
	TransactionIDs []string    `json:"transactionIds,omitempty"`
	Processed      int         `json:"processed"`
	Total          int         `json:"total"`
	Matched        int         `json:"matched"`
	RetryCount     int         `json:"retryCount"`
	MaxRetries     int         `json:"maxRetries"`
	Version        int64       `json:"version"`
	// TimedOut marks items failed by the stale sweep. They are only
	// retried on request.
	TimedOut bool `json:"timedOut,omitempty"`
}

// CanRetry reports whether a failed item has retries left.
func (q *QueueItem) CanRetry() bool {
	return q.Status == QueueFailed && q.RetryCount < q.MaxRetries
}

// CanAutoRetry reports whether the runner may retry the item on its own.
func (q *QueueItem) CanAutoRetry() bool {
	return q.CanRetry() && !q.TimedOut
}

// WorkerStatus is the lifecycle state of an automation worker request or run.
type WorkerStatus string

const (
	// WorkerPending requests have not started.
	WorkerPending WorkerStatus = "pending"
	// WorkerRunning runs are executing.
	WorkerRunning WorkerStatus = "running"
	// WorkerCompleted runs finished.
	WorkerCompleted WorkerStatus = "completed"
	// WorkerFailed runs stopped with an error.
	WorkerFailed WorkerStatus = "failed"
	// WorkerCancelled requests and runs were superseded.
	WorkerCancelled WorkerStatus = "cancelled"
)

// EntityKind names the kind of entity a worker was triggered for.
type EntityKind string

const (
	// EntityTransaction is a bank transaction.
	EntityTransaction EntityKind = "transaction"
	// EntityFile is a receipt file.
	EntityFile EntityKind = "file"
	// EntityPartner is a partner.
	EntityPartner EntityKind = "partner"
)

// TriggerContext identifies the entity a worker acts on.
type TriggerContext struct {
	EntityKind EntityKind `json:"entityKind"`
	EntityID   string     `json:"entityId"`
}

// WorkerRecord is a pending worker request or a running worker run. Both
// collections share this shape.
type WorkerRecord struct {
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	TriggerContext  TriggerContext `json:"triggerContext"`
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	WorkerType      string         `json:"workerType"`
	Status          WorkerStatus   `json:"status"`
	TriggeredBy     string         `json:"triggeredBy,omitempty"`
	InitialPrompt   string         `json:"initialPrompt,omitempty"`
	CancelledReason string         `json:"cancelledReason,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
	Version         int64          `json:"version"`
}

// WorkerCollection names where a worker record lives.
type WorkerCollection string

const (
	// WorkerRequests holds pending trigger requests.
	WorkerRequests WorkerCollection = "worker_requests"
	// WorkerRuns holds started runs.
	WorkerRuns WorkerCollection = "worker_runs"
)
