package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial document collections",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					version INTEGER NOT NULL,
					user_id TEXT NOT NULL,
					partner_id TEXT NOT NULL DEFAULT '',
					category_id TEXT NOT NULL DEFAULT '',
					date DATETIME NOT NULL,
					data TEXT NOT NULL
				)`,
				`CREATE INDEX idx_transactions_user_date ON transactions(user_id, date)`,
				`CREATE INDEX idx_transactions_category ON transactions(category_id)`,
				`CREATE INDEX idx_transactions_partner ON transactions(partner_id)`,

				`CREATE TABLE IF NOT EXISTS files (
					id TEXT PRIMARY KEY,
					version INTEGER NOT NULL,
					user_id TEXT NOT NULL,
					data TEXT NOT NULL
				)`,
				`CREATE INDEX idx_files_user ON files(user_id)`,

				`CREATE TABLE IF NOT EXISTS partners (
					id TEXT PRIMARY KEY,
					version INTEGER NOT NULL,
					user_id TEXT NOT NULL DEFAULT '',
					data TEXT NOT NULL
				)`,
				`CREATE INDEX idx_partners_user ON partners(user_id)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id TEXT PRIMARY KEY,
					version INTEGER NOT NULL,
					user_id TEXT NOT NULL,
					data TEXT NOT NULL
				)`,
				`CREATE INDEX idx_categories_user ON categories(user_id)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add file connection junction",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS file_connections (
					id TEXT PRIMARY KEY,
					version INTEGER NOT NULL,
					user_id TEXT NOT NULL,
					file_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					data TEXT NOT NULL,
					UNIQUE (file_id, transaction_id)
				)`,
				`CREATE INDEX idx_file_connections_transaction ON file_connections(transaction_id)`,
				`CREATE INDEX idx_file_connections_user ON file_connections(user_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add durable job queues",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS queue_items (
					id TEXT PRIMARY KEY,
					version INTEGER NOT NULL,
					user_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					status TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					data TEXT NOT NULL
				)`,
				`CREATE INDEX idx_queue_items_kind_status ON queue_items(kind, status, created_at)`,
				`CREATE INDEX idx_queue_items_user ON queue_items(user_id)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add automation worker requests and runs",
		Up: func(tx *sql.Tx) error {
			queries := []string{}
			for _, table := range []string{colWorkerRequests, colWorkerRuns} {
				queries = append(queries,
					fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
						id TEXT PRIMARY KEY,
						version INTEGER NOT NULL,
						user_id TEXT NOT NULL,
						entity_id TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL,
						data TEXT NOT NULL
					)`, table),
					fmt.Sprintf(`CREATE INDEX idx_%s_user_entity ON %s(user_id, entity_id, status)`, table, table),
				)
			}
			return execAll(tx, queries)
		},
	},
}

// Migrate applies pending migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the current schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
