package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestSQLiteStore_MigrateIsIdempotent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)

	for _, table := range []string{colTransactions, colFiles, colConnections, colPartners, colCategories, colQueueItems, colWorkerRequests, colWorkerRuns} {
		var n int
		err := store.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Migrate(context.Background()))

	txn := &model.Transaction{ID: "T1", UserID: "u1"}
	require.NoError(t, store.Update(context.Background(), func(b service.Batch) error {
		b.PutTransaction(txn)
		return nil
	}))
	got, err := store.GetTransaction(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestSQLiteStore_ProjectionColumnsFollowDocument(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	txn := &model.Transaction{ID: "T1", UserID: "u1", PartnerID: "P1"}
	require.NoError(t, store.Update(ctx, func(b service.Batch) error {
		b.PutTransaction(txn)
		return nil
	}))
	txn.PartnerID = "P2"
	require.NoError(t, store.Update(ctx, func(b service.Batch) error {
		b.PutTransaction(txn)
		return nil
	}))

	var partnerID string
	var version int64
	require.NoError(t, store.db.QueryRow(`SELECT partner_id, version FROM transactions WHERE id = 'T1'`).Scan(&partnerID, &version))
	assert.Equal(t, "P2", partnerID)
	assert.Equal(t, int64(2), version)
}

func TestNewSQLiteStore_RejectsEmptyPath(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	assert.True(t, errors.Is(err, ErrEmptyString))
}
