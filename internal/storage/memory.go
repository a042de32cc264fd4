package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// MemoryStore is an in-memory service.Store with the same batch and
// versioning semantics as SQLiteStore. Documents are kept encoded so that
// callers never share memory with the store.
type MemoryStore struct {
	docs map[string]map[string][]byte
	mu   sync.RWMutex
}

var _ service.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string][]byte)}
}

// Migrate is a no-op for the in-memory store.
func (m *MemoryStore) Migrate(_ context.Context) error {
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// memoryTx stages writes on top of the committed documents.
type memoryTx struct {
	store  *MemoryStore
	staged map[string]map[string][]byte // nil value marks a delete
}

func (t *memoryTx) get(collection, id string) ([]byte, bool) {
	if c, ok := t.staged[collection]; ok {
		if data, ok := c[id]; ok {
			return data, data != nil
		}
	}
	data, ok := t.store.docs[collection][id]
	return data, ok
}

func (t *memoryTx) set(collection, id string, data []byte) {
	if t.staged[collection] == nil {
		t.staged[collection] = make(map[string][]byte)
	}
	t.staged[collection][id] = data
}

// Update implements service.Store.
func (m *MemoryStore) Update(ctx context.Context, fn func(service.Batch) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	b := &opBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if len(b.ops) == 0 {
		return nil
	}
	if len(b.ops) > service.MaxBatchOperations {
		return fmt.Errorf("%w: %d operations", common.ErrBatchTooLarge, len(b.ops))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m, staged: make(map[string]map[string][]byte)}
	for _, o := range b.ops {
		if err := tx.apply(o); err != nil {
			return err
		}
	}

	for collection, docs := range tx.staged {
		if m.docs[collection] == nil {
			m.docs[collection] = make(map[string][]byte)
		}
		for id, data := range docs {
			if data == nil {
				delete(m.docs[collection], id)
				continue
			}
			m.docs[collection][id] = data
		}
	}
	b.advanceVersions()
	return nil
}

func (t *memoryTx) apply(o op) error {
	switch o.kind {
	case opDelete:
		t.set(o.collection, o.id, nil)
		return nil
	case opIncrement:
		data, ok := t.get(o.collection, o.id)
		if !ok {
			return fmt.Errorf("category %s: %w", o.id, common.ErrNotFound)
		}
		var cat model.Category
		if err := json.Unmarshal(data, &cat); err != nil {
			return fmt.Errorf("failed to decode category %s: %w", o.id, err)
		}
		cat.TransactionCount = max(0, cat.TransactionCount+o.delta)
		cat.Version++
		encoded, err := json.Marshal(&cat)
		if err != nil {
			return fmt.Errorf("failed to encode category %s: %w", o.id, err)
		}
		t.set(o.collection, o.id, encoded)
		return nil
	}

	if err := validateString(o.id, "id"); err != nil {
		return err
	}

	expected := *o.version
	existing, exists := t.get(o.collection, o.id)
	switch {
	case expected == 0 && exists:
		return fmt.Errorf("%w: %s %s", common.ErrDuplicateEntry, o.collection, o.id)
	case expected != 0 && !exists:
		return fmt.Errorf("%w: %s %s was deleted", common.ErrConflict, o.collection, o.id)
	case expected != 0:
		var head struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(existing, &head); err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", o.collection, o.id, err)
		}
		if head.Version != expected {
			return fmt.Errorf("%w: %s %s at version %d", common.ErrConflict, o.collection, o.id, expected)
		}
	}

	if conn, ok := o.doc.(*model.FileConnection); ok {
		if err := t.checkUniquePair(conn); err != nil {
			return err
		}
	}

	data, err := marshalVersioned(o, expected+1)
	if err != nil {
		return err
	}
	t.set(o.collection, o.id, data)
	return nil
}

// checkUniquePair mirrors the (file_id, transaction_id) unique index.
func (t *memoryTx) checkUniquePair(conn *model.FileConnection) error {
	ids := make(map[string]struct{})
	for id := range t.store.docs[colConnections] {
		ids[id] = struct{}{}
	}
	for id := range t.staged[colConnections] {
		ids[id] = struct{}{}
	}
	for id := range ids {
		if id == conn.ID {
			continue
		}
		data, ok := t.get(colConnections, id)
		if !ok {
			continue
		}
		var other model.FileConnection
		if err := json.Unmarshal(data, &other); err != nil {
			return fmt.Errorf("failed to decode connection %s: %w", id, err)
		}
		if other.FileID == conn.FileID && other.TransactionID == conn.TransactionID {
			return fmt.Errorf("%w: connection %s/%s", common.ErrDuplicateEntry, conn.FileID, conn.TransactionID)
		}
	}
	return nil
}

func memGet[T any](m *MemoryStore, collection, id string) (*T, error) {
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.docs[collection][id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", collection, id, common.ErrNotFound)
	}

	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", collection, id, err)
	}
	return &doc, nil
}

func memList[T any](m *MemoryStore, collection string, keep func(*T) bool) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.docs[collection]))
	for id := range m.docs[collection] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var docs []T
	for _, id := range ids {
		var doc T
		if err := json.Unmarshal(m.docs[collection][id], &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s %s: %w", collection, id, err)
		}
		if keep(&doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func matches(filter, value string) bool {
	return filter == "" || filter == value
}

// GetTransaction implements service.Reader.
func (m *MemoryStore) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	return memGet[model.Transaction](m, colTransactions, id)
}

// ListTransactions implements service.Reader.
func (m *MemoryStore) ListTransactions(_ context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	txns, err := memList(m, colTransactions, func(t *model.Transaction) bool {
		if !matches(filter.UserID, t.UserID) ||
			!matches(filter.CategoryID, t.NoReceiptCategoryID) ||
			!matches(filter.PartnerID, t.PartnerID) {
			return false
		}
		if filter.StartDate != nil && t.Date.Before(*filter.StartDate) {
			return false
		}
		if filter.EndDate != nil && t.Date.After(*filter.EndDate) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(txns, func(a, b model.Transaction) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(txns) > filter.Limit {
		txns = txns[:filter.Limit]
	}
	return txns, nil
}

// GetFile implements service.Reader.
func (m *MemoryStore) GetFile(_ context.Context, id string) (*model.File, error) {
	return memGet[model.File](m, colFiles, id)
}

// ListFiles implements service.Reader.
func (m *MemoryStore) ListFiles(_ context.Context, userID string) ([]model.File, error) {
	return memList(m, colFiles, func(f *model.File) bool { return f.UserID == userID })
}

// GetConnection implements service.Reader.
func (m *MemoryStore) GetConnection(ctx context.Context, fileID, transactionID string) (*model.FileConnection, error) {
	conns, err := m.ListConnections(ctx, service.ConnectionFilter{FileID: fileID, TransactionID: transactionID})
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("connection %s/%s: %w", fileID, transactionID, common.ErrNotFound)
	}
	return &conns[0], nil
}

// ListConnections implements service.Reader.
func (m *MemoryStore) ListConnections(_ context.Context, filter service.ConnectionFilter) ([]model.FileConnection, error) {
	return memList(m, colConnections, func(c *model.FileConnection) bool {
		return matches(filter.UserID, c.UserID) &&
			matches(filter.FileID, c.FileID) &&
			matches(filter.TransactionID, c.TransactionID)
	})
}

// GetPartner implements service.Reader.
func (m *MemoryStore) GetPartner(_ context.Context, id string) (*model.Partner, error) {
	return memGet[model.Partner](m, colPartners, id)
}

// ListPartners implements service.Reader.
func (m *MemoryStore) ListPartners(_ context.Context, userID string) ([]model.Partner, error) {
	return memList(m, colPartners, func(p *model.Partner) bool { return p.VisibleTo(userID) })
}

// GetCategory implements service.Reader.
func (m *MemoryStore) GetCategory(_ context.Context, id string) (*model.Category, error) {
	return memGet[model.Category](m, colCategories, id)
}

// ListCategories implements service.Reader.
func (m *MemoryStore) ListCategories(_ context.Context, userID string) ([]model.Category, error) {
	return memList(m, colCategories, func(c *model.Category) bool { return c.UserID == userID })
}

// GetQueueItem implements service.Reader.
func (m *MemoryStore) GetQueueItem(_ context.Context, id string) (*model.QueueItem, error) {
	return memGet[model.QueueItem](m, colQueueItems, id)
}

// ListQueueItems implements service.Reader.
func (m *MemoryStore) ListQueueItems(_ context.Context, filter service.QueueFilter) ([]model.QueueItem, error) {
	items, err := memList(m, colQueueItems, func(q *model.QueueItem) bool {
		return matches(filter.UserID, q.UserID) &&
			matches(string(filter.Kind), string(q.Kind)) &&
			(len(filter.Statuses) == 0 || slices.Contains(filter.Statuses, q.Status))
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b model.QueueItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return items, nil
}

// ListWorkers implements service.Reader.
func (m *MemoryStore) ListWorkers(_ context.Context, collection model.WorkerCollection, filter service.WorkerFilter) ([]model.WorkerRecord, error) {
	if collection != model.WorkerRequests && collection != model.WorkerRuns {
		return nil, fmt.Errorf("%w: worker collection %q", ErrInvalidCollection, collection)
	}
	return memList(m, string(collection), func(w *model.WorkerRecord) bool {
		return matches(filter.UserID, w.UserID) &&
			matches(filter.EntityID, w.TriggerContext.EntityID) &&
			(len(filter.Statuses) == 0 || slices.Contains(filter.Statuses, w.Status))
	})
}
