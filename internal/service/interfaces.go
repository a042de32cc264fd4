// Package service defines the interfaces shared by the reconciliation engines.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/model"
)

// MaxBatchOperations bounds a single atomic batch.
const MaxBatchOperations = 500

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	UserID     string
	CategoryID string
	PartnerID  string
	Limit      int
}

// ConnectionFilter selects junction records. Empty fields match everything.
type ConnectionFilter struct {
	UserID        string
	FileID        string
	TransactionID string
}

// QueueFilter selects queue items.
type QueueFilter struct {
	UserID   string
	Kind     model.QueueKind
	Statuses []model.QueueStatus
}

// WorkerFilter selects worker requests or runs.
type WorkerFilter struct {
	UserID   string
	EntityID string
	Statuses []model.WorkerStatus
}

// Reader is the read side of the document store. Lookups of missing
// documents return an error wrapping common.ErrNotFound.
type Reader interface {
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)

	GetFile(ctx context.Context, id string) (*model.File, error)
	ListFiles(ctx context.Context, userID string) ([]model.File, error)

	GetConnection(ctx context.Context, fileID, transactionID string) (*model.FileConnection, error)
	ListConnections(ctx context.Context, filter ConnectionFilter) ([]model.FileConnection, error)

	GetPartner(ctx context.Context, id string) (*model.Partner, error)
	ListPartners(ctx context.Context, userID string) ([]model.Partner, error)

	GetCategory(ctx context.Context, id string) (*model.Category, error)
	ListCategories(ctx context.Context, userID string) ([]model.Category, error)

	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)
	ListQueueItems(ctx context.Context, filter QueueFilter) ([]model.QueueItem, error)

	ListWorkers(ctx context.Context, collection model.WorkerCollection, filter WorkerFilter) ([]model.WorkerRecord, error)
}

// Batch collects writes that commit atomically. Documents with Version 0
// are inserted; others are updated only if the stored version still
// matches, otherwise the whole batch fails with common.ErrConflict. On
// commit the Version of every written document is advanced in place.
type Batch interface {
	PutTransaction(txn *model.Transaction)
	PutFile(file *model.File)
	DeleteFile(id string)
	PutConnection(conn *model.FileConnection)
	DeleteConnection(id string)
	PutPartner(partner *model.Partner)
	PutCategory(category *model.Category)
	// IncrementCategoryCount adjusts TransactionCount without a version check.
	IncrementCategoryCount(id string, delta int)
	PutQueueItem(item *model.QueueItem)
	PutWorker(collection model.WorkerCollection, record *model.WorkerRecord)
	Len() int
}

// Store defines the contract for our persistence layer.
type Store interface {
	Reader
	// Update runs fn and commits the collected writes as one batch of at
	// most MaxBatchOperations. Nothing is written if fn returns an error.
	Update(ctx context.Context, fn func(Batch) error) error
	Migrate(ctx context.Context) error
	Close() error
}
