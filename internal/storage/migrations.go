package storage

import (
	"database/sql"
	"fmt"

	"bill-reconciliation-service/pkg/logger"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_match_distances",
		Up:      migration002AddMatchDistances,
	},
}

// runMigrations executes all pending migrations, each in its own transaction
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		log := s.logger.WithFields(logger.Fields{
			"version": migration.Version,
			"name":    migration.Name,
		})
		log.Debug("Running migration")

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			migration.Version, migration.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Debug("Migration complete")
	}

	return nil
}

func (s *Storage) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

func migration001InitialSchema(tx *sql.Tx) error {
	return execAll(tx, []string{
		`CREATE TABLE IF NOT EXISTS reconciliation_runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL,
			bills_source TEXT,
			operation_sources TEXT,
			total_bills INTEGER NOT NULL DEFAULT 0,
			total_operations INTEGER NOT NULL DEFAULT 0,
			debits_matched INTEGER NOT NULL DEFAULT 0,
			credits_matched INTEGER NOT NULL DEFAULT 0,
			unmatched_bills INTEGER NOT NULL DEFAULT 0,
			unused_operations INTEGER NOT NULL DEFAULT 0,
			conflicts INTEGER NOT NULL DEFAULT 0,
			total_debit TEXT NOT NULL DEFAULT '0',
			total_credit TEXT NOT NULL DEFAULT '0',
			config_json TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started_at
		 ON reconciliation_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS bill_matches (
			run_id TEXT NOT NULL REFERENCES reconciliation_runs(id) ON DELETE CASCADE,
			bill_id TEXT NOT NULL,
			debit_operation_id TEXT,
			credit_operation_id TEXT,
			PRIMARY KEY (run_id, bill_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bill_matches_debit
		 ON bill_matches(debit_operation_id)`,

		`CREATE INDEX IF NOT EXISTS idx_bill_matches_credit
		 ON bill_matches(credit_operation_id)`,
	})
}

func migration002AddMatchDistances(tx *sql.Tx) error {
	return execAll(tx, []string{
		`ALTER TABLE bill_matches ADD COLUMN debit_distance REAL NOT NULL DEFAULT 0`,
		`ALTER TABLE bill_matches ADD COLUMN credit_distance REAL NOT NULL DEFAULT 0`,
	})
}
