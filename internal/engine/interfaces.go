package engine

import (
	"context"

	"github.com/Veraticus/receipt-reconciler/internal/model"
)

// Learner adjusts learned patterns and false-positive logs from user
// corrections. Implemented by learning.Engine.
type Learner interface {
	LearnPartner(ctx context.Context, partnerID string, txn *model.Transaction) error
	UnlearnPartner(ctx context.Context, partnerID string, txn *model.Transaction) error
	LearnCategory(ctx context.Context, categoryID string, txn *model.Transaction) error
	UnlearnCategory(ctx context.Context, categoryID string, txn *model.Transaction) error
	LearnFileSource(ctx context.Context, partnerID string, file *model.File) error
	RecordFileRemoval(ctx context.Context, partnerID string, file *model.File) error
	ClearPartnerRemoval(ctx context.Context, partnerID, transactionID string) (bool, error)
	ClearCategoryRemoval(ctx context.Context, categoryID, transactionID string) (bool, error)
	SuggestPartners(ctx context.Context, txn *model.Transaction) ([]model.EntitySuggestion, error)
	SuggestCategories(ctx context.Context, txn *model.Transaction) ([]model.EntitySuggestion, error)
}

// WorkerCanceller stops background automation made redundant by a manual
// action. Implemented by automation.Supervisor.
type WorkerCanceller interface {
	CancelWorkersForEntity(ctx context.Context, userID string, target model.TriggerContext, workerTypes ...string) (int, error)
}

// Task is a unit of fire-and-forget work. It is an alias so dispatchers in
// other packages need not import this one.
type Task = func(ctx context.Context) error

// Dispatcher runs side effects after the primary mutation committed. Task
// errors are logged by the dispatcher and never reach the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, task Task)
}
