// Package storage provides the document store behind the reconciliation engines.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// SQLiteStore implements service.Store with one SQLite table per
// collection. Each row holds the JSON document plus a few projection
// columns used for lookups.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

var _ service.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections, and :memory:
	// databases are per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Update implements service.Store.
func (s *SQLiteStore) Update(ctx context.Context, fn func(service.Batch) error) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range b.ops {
		if err := s.apply(ctx, tx, o); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	b.advanceVersions()
	return nil
}

func (s *SQLiteStore) apply(ctx context.Context, tx *sql.Tx, o op) error {
	switch o.kind {
	case opDelete:
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+o.collection+" WHERE id = ?", o.id); err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", o.collection, o.id, err)
		}
		return nil
	case opIncrement:
		return s.applyIncrement(ctx, tx, o)
	default:
		return s.applyPut(ctx, tx, o)
	}
}

func (s *SQLiteStore) applyPut(ctx context.Context, tx *sql.Tx, o op) error {
	if err := validateString(o.id, "id"); err != nil {
		return err
	}

	expected := *o.version
	data, err := marshalVersioned(o, expected+1)
	if err != nil {
		return err
	}

	cols, vals := projection(o.collection, o.doc)

	if expected == 0 {
		query := fmt.Sprintf("INSERT INTO %s (id, version, data%s) VALUES (?, 1, ?%s)",
			o.collection, prefixJoin(cols, ", "), placeholders(len(cols)))
		args := append([]any{o.id, data}, vals...)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: %s %s", common.ErrDuplicateEntry, o.collection, o.id)
			}
			return fmt.Errorf("failed to insert %s %s: %w", o.collection, o.id, err)
		}
		return nil
	}

	set := ""
	for _, c := range cols {
		set += ", " + c + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET version = version + 1, data = ?%s WHERE id = ? AND version = ?",
		o.collection, set)
	args := append([]any{data}, vals...)
	args = append(args, o.id, expected)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s %s", common.ErrDuplicateEntry, o.collection, o.id)
		}
		return fmt.Errorf("failed to update %s %s: %w", o.collection, o.id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s at version %d", common.ErrConflict, o.collection, o.id, expected)
	}
	return nil
}

func (s *SQLiteStore) applyIncrement(ctx context.Context, tx *sql.Tx, o op) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE categories SET
			data = json_set(data,
				'$.transactionCount', MAX(0, COALESCE(json_extract(data, '$.transactionCount'), 0) + ?),
				'$.version', version + 1),
			version = version + 1
		WHERE id = ?`, o.delta, o.id)
	if err != nil {
		return fmt.Errorf("failed to adjust category count: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("category %s: %w", o.id, common.ErrNotFound)
	}
	return nil
}

// marshalVersioned encodes the document as it will look after the write.
func marshalVersioned(o op, next int64) ([]byte, error) {
	prev := *o.version
	*o.version = next
	data, err := json.Marshal(o.doc)
	*o.version = prev
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", o.collection, o.id, err)
	}
	return data, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func prefixJoin(cols []string, sep string) string {
	out := ""
	for _, c := range cols {
		out += sep + c
	}
	return out
}

func placeholders(n int) string {
	out := ""
	for range n {
		out += ", ?"
	}
	return out
}
