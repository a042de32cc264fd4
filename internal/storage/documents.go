package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// projection returns the indexed columns stored next to a document.
func projection(collection string, doc any) ([]string, []any) {
	switch d := doc.(type) {
	case *model.Transaction:
		return []string{"user_id", "partner_id", "category_id", "date"},
			[]any{d.UserID, d.PartnerID, d.NoReceiptCategoryID, d.Date.UTC()}
	case *model.File:
		return []string{"user_id"}, []any{d.UserID}
	case *model.FileConnection:
		return []string{"user_id", "file_id", "transaction_id"},
			[]any{d.UserID, d.FileID, d.TransactionID}
	case *model.Partner:
		return []string{"user_id"}, []any{d.UserID}
	case *model.Category:
		return []string{"user_id"}, []any{d.UserID}
	case *model.QueueItem:
		return []string{"user_id", "kind", "status", "created_at"},
			[]any{d.UserID, string(d.Kind), string(d.Status), d.CreatedAt.UTC()}
	case *model.WorkerRecord:
		return []string{"user_id", "entity_id", "status"},
			[]any{d.UserID, d.TriggerContext.EntityID, string(d.Status)}
	}
	panic(fmt.Sprintf("storage: no projection for %s document %T", collection, doc))
}

func getDoc[T any](ctx context.Context, db *sql.DB, collection, id string) (*T, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var data []byte
	err := db.QueryRowContext(ctx, "SELECT data FROM "+collection+" WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", collection, id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", collection, id, err)
	}

	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", collection, id, err)
	}
	return &doc, nil
}

func listDocs[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// where assembles an AND-joined clause from non-empty conditions.
type where struct {
	clauses []string
	args    []any
}

func (w *where) eq(col, value string) {
	if value == "" {
		return
	}
	w.clauses = append(w.clauses, col+" = ?")
	w.args = append(w.args, value)
}

func (w *where) in(col string, values []string) {
	if len(values) == 0 {
		return
	}
	w.clauses = append(w.clauses, col+" IN ("+strings.TrimPrefix(placeholders(len(values)), ", ")+")")
	for _, v := range values {
		w.args = append(w.args, v)
	}
}

func (w *where) cond(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// GetTransaction retrieves a transaction by ID.
func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return getDoc[model.Transaction](ctx, s.db, colTransactions, id)
}

// ListTransactions retrieves transactions matching filter, newest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	var w where
	w.eq("user_id", filter.UserID)
	w.eq("category_id", filter.CategoryID)
	w.eq("partner_id", filter.PartnerID)
	if filter.StartDate != nil {
		w.cond("date >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		w.cond("date <= ?", filter.EndDate.UTC())
	}

	query := "SELECT data FROM transactions" + w.String() + " ORDER BY date DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return listDocs[model.Transaction](ctx, s.db, query, w.args...)
}

// GetFile retrieves a file by ID, including soft-deleted files.
func (s *SQLiteStore) GetFile(ctx context.Context, id string) (*model.File, error) {
	return getDoc[model.File](ctx, s.db, colFiles, id)
}

// ListFiles retrieves all files of a user.
func (s *SQLiteStore) ListFiles(ctx context.Context, userID string) ([]model.File, error) {
	return listDocs[model.File](ctx, s.db, "SELECT data FROM files WHERE user_id = ? ORDER BY id", userID)
}

// GetConnection retrieves the junction record for a file and transaction.
func (s *SQLiteStore) GetConnection(ctx context.Context, fileID, transactionID string) (*model.FileConnection, error) {
	conns, err := listDocs[model.FileConnection](ctx, s.db,
		"SELECT data FROM file_connections WHERE file_id = ? AND transaction_id = ?", fileID, transactionID)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("connection %s/%s: %w", fileID, transactionID, common.ErrNotFound)
	}
	return &conns[0], nil
}

// ListConnections retrieves junction records matching filter.
func (s *SQLiteStore) ListConnections(ctx context.Context, filter service.ConnectionFilter) ([]model.FileConnection, error) {
	var w where
	w.eq("user_id", filter.UserID)
	w.eq("file_id", filter.FileID)
	w.eq("transaction_id", filter.TransactionID)
	return listDocs[model.FileConnection](ctx, s.db,
		"SELECT data FROM file_connections"+w.String()+" ORDER BY id", w.args...)
}

// GetPartner retrieves a partner by ID.
func (s *SQLiteStore) GetPartner(ctx context.Context, id string) (*model.Partner, error) {
	return getDoc[model.Partner](ctx, s.db, colPartners, id)
}

// ListPartners retrieves the user's partners plus all global partners.
func (s *SQLiteStore) ListPartners(ctx context.Context, userID string) ([]model.Partner, error) {
	return listDocs[model.Partner](ctx, s.db,
		"SELECT data FROM partners WHERE user_id = ? OR user_id = '' ORDER BY id", userID)
}

// GetCategory retrieves a category by ID.
func (s *SQLiteStore) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	return getDoc[model.Category](ctx, s.db, colCategories, id)
}

// ListCategories retrieves all categories of a user.
func (s *SQLiteStore) ListCategories(ctx context.Context, userID string) ([]model.Category, error) {
	return listDocs[model.Category](ctx, s.db, "SELECT data FROM categories WHERE user_id = ? ORDER BY id", userID)
}

// GetQueueItem retrieves a queue item by ID.
func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	return getDoc[model.QueueItem](ctx, s.db, colQueueItems, id)
}

// ListQueueItems retrieves queue items oldest first.
func (s *SQLiteStore) ListQueueItems(ctx context.Context, filter service.QueueFilter) ([]model.QueueItem, error) {
	var w where
	w.eq("user_id", filter.UserID)
	w.eq("kind", string(filter.Kind))
	statuses := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		statuses[i] = string(st)
	}
	w.in("status", statuses)
	return listDocs[model.QueueItem](ctx, s.db,
		"SELECT data FROM queue_items"+w.String()+" ORDER BY created_at ASC, id ASC", w.args...)
}

// ListWorkers retrieves worker requests or runs.
func (s *SQLiteStore) ListWorkers(ctx context.Context, collection model.WorkerCollection, filter service.WorkerFilter) ([]model.WorkerRecord, error) {
	if collection != model.WorkerRequests && collection != model.WorkerRuns {
		return nil, fmt.Errorf("%w: worker collection %q", ErrInvalidCollection, collection)
	}
	var w where
	w.eq("user_id", filter.UserID)
	w.eq("entity_id", filter.EntityID)
	statuses := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		statuses[i] = string(st)
	}
	w.in("status", statuses)
	return listDocs[model.WorkerRecord](ctx, s.db,
		"SELECT data FROM "+string(collection)+w.String()+" ORDER BY id", w.args...)
}
