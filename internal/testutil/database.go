// Package testutil provides store fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
	"github.com/Veraticus/receipt-reconciler/internal/storage"
)

// TestStore wraps a store with fail-fast helpers for tests.
type TestStore struct {
	service.Store
	t *testing.T
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(t *testing.T) *TestStore {
	t.Helper()
	return &TestStore{Store: storage.NewMemoryStore(), t: t}
}

// NewSQLiteStore creates a migrated SQLite store in a temporary directory.
// It automatically handles cleanup.
func NewSQLiteStore(t *testing.T) *TestStore {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &TestStore{Store: store, t: t}
}

// Seed writes documents in one batch. Accepted types are pointers to
// Transaction, File, FileConnection, Partner, Category and QueueItem, and
// WorkerSeed values.
func (s *TestStore) Seed(docs ...any) {
	s.t.Helper()

	err := s.Update(context.Background(), func(b service.Batch) error {
		for _, doc := range docs {
			switch d := doc.(type) {
			case *model.Transaction:
				b.PutTransaction(d)
			case *model.File:
				b.PutFile(d)
			case *model.FileConnection:
				b.PutConnection(d)
			case *model.Partner:
				b.PutPartner(d)
			case *model.Category:
				b.PutCategory(d)
			case *model.QueueItem:
				b.PutQueueItem(d)
			case WorkerSeed:
				b.PutWorker(d.Collection, d.Record)
			default:
				return fmt.Errorf("cannot seed %T", doc)
			}
		}
		return nil
	})
	if err != nil {
		s.t.Fatalf("failed to seed store: %v", err)
	}
}

// WorkerSeed places a worker record in a collection.
type WorkerSeed struct {
	Record     *model.WorkerRecord
	Collection model.WorkerCollection
}

// Transaction reloads a transaction or fails the test.
func (s *TestStore) Transaction(id string) *model.Transaction {
	s.t.Helper()
	txn, err := s.GetTransaction(context.Background(), id)
	if err != nil {
		s.t.Fatalf("failed to load transaction %s: %v", id, err)
	}
	return txn
}

// File reloads a file or fails the test.
func (s *TestStore) File(id string) *model.File {
	s.t.Helper()
	file, err := s.GetFile(context.Background(), id)
	if err != nil {
		s.t.Fatalf("failed to load file %s: %v", id, err)
	}
	return file
}

// Partner reloads a partner or fails the test.
func (s *TestStore) Partner(id string) *model.Partner {
	s.t.Helper()
	partner, err := s.GetPartner(context.Background(), id)
	if err != nil {
		s.t.Fatalf("failed to load partner %s: %v", id, err)
	}
	return partner
}

// Category reloads a category or fails the test.
func (s *TestStore) Category(id string) *model.Category {
	s.t.Helper()
	category, err := s.GetCategory(context.Background(), id)
	if err != nil {
		s.t.Fatalf("failed to load category %s: %v", id, err)
	}
	return category
}

// QueueItem reloads a queue item or fails the test.
func (s *TestStore) QueueItem(id string) *model.QueueItem {
	s.t.Helper()
	item, err := s.GetQueueItem(context.Background(), id)
	if err != nil {
		s.t.Fatalf("failed to load queue item %s: %v", id, err)
	}
	return item
}

// Connections lists the junction records of a transaction.
func (s *TestStore) Connections(transactionID string) []model.FileConnection {
	s.t.Helper()
	conns, err := s.ListConnections(context.Background(), service.ConnectionFilter{TransactionID: transactionID})
	if err != nil {
		s.t.Fatalf("failed to list connections: %v", err)
	}
	return conns
}

// Workers lists a user's records in one worker collection.
func (s *TestStore) Workers(collection model.WorkerCollection, userID string) []model.WorkerRecord {
	s.t.Helper()
	records, err := s.ListWorkers(context.Background(), collection, service.WorkerFilter{UserID: userID})
	if err != nil {
		s.t.Fatalf("failed to list %s: %v", collection, err)
	}
	return records
}

// BaseTime is a fixed instant used by fixtures.
var BaseTime = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
