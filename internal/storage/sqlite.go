package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
)

const defaultListLimit = 20

// Storage provides SQLite access to reconciliation history.
// It implements the Repository interface.
type Storage struct {
	db     *sql.DB
	logger logger.Logger
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage opens (creating if needed) the SQLite database at dbPath and
// applies pending migrations. ":memory:" gives a throwaway database.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "open", err).
			WithContext("path", dbPath)
	}

	// every connection to :memory: is a distinct database
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "open", err).
			WithContext("path", dbPath)
	}

	s := &Storage{
		db:     db,
		logger: logger.GetGlobalLogger().WithComponent("storage"),
	}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeQueryFailed, "migrate", err).
			WithContext("path", dbPath)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and replaces any previous run with the same ID
func (s *Storage) SaveRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.ValidationError(errors.CodeMissingField, "run.id", "", nil)
	}

	sources, err := json.Marshal(run.OperationSources)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save_run", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "save_run", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reconciliation_runs WHERE id = ?`, run.ID); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save_run", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO reconciliation_runs
	(id, started_at, completed_at, bills_source, operation_sources,
	 total_bills, total_operations, debits_matched, credits_matched,
	 unmatched_bills, unused_operations, conflicts, total_debit, total_credit, config_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC(),
		run.CompletedAt.UTC(),
		run.BillsSource,
		string(sources),
		run.TotalBills,
		run.TotalOperations,
		run.DebitsMatched,
		run.CreditsMatched,
		run.UnmatchedBills,
		run.UnusedOperations,
		run.Conflicts,
		run.TotalDebit.String(),
		run.TotalCredit.String(),
		run.ConfigJSON,
	)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save_run", err).WithContext("run_id", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO bill_matches
	(run_id, bill_id, debit_operation_id, credit_operation_id, debit_distance, credit_distance)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save_run", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range run.Matches {
		if _, err := stmt.ExecContext(ctx, run.ID, m.BillID,
			nullString(m.DebitOperationID), nullString(m.CreditOperationID),
			m.DebitDistance, m.CreditDistance); err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "save_run", err).
				WithContext("run_id", run.ID).
				WithContext("bill_id", m.BillID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save_run", err)
	}

	s.logger.WithFields(logger.Fields{
		"run_id":  run.ID,
		"matches": len(run.Matches),
	}).Debug("Saved reconciliation run")

	return nil
}

const runColumns = `id, started_at, completed_at, bills_source, operation_sources,
	total_bills, total_operations, debits_matched, credits_matched,
	unmatched_bills, unused_operations, conflicts, total_debit, total_credit, config_json`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var billsSource, sources, configJSON sql.NullString
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.CompletedAt,
		&billsSource,
		&sources,
		&run.TotalBills,
		&run.TotalOperations,
		&run.DebitsMatched,
		&run.CreditsMatched,
		&run.UnmatchedBills,
		&run.UnusedOperations,
		&run.Conflicts,
		&run.TotalDebit,
		&run.TotalCredit,
		&configJSON,
	)
	if err != nil {
		return nil, err
	}

	run.BillsSource = billsSource.String
	run.ConfigJSON = configJSON.String
	if sources.Valid && sources.String != "" {
		if err := json.Unmarshal([]byte(sources.String), &run.OperationSources); err != nil {
			return nil, fmt.Errorf("invalid operation_sources for run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// GetRun retrieves a run and its matches
func (s *Storage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM reconciliation_runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.StorageError(errors.CodeRecordNotFound, "get_run", err).WithContext("run_id", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get_run", err).WithContext("run_id", id)
	}

	if run.Matches, err = s.GetMatches(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first
func (s *Storage) ListRuns(ctx context.Context, filters RunFilters) ([]*Run, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM reconciliation_runs ORDER BY started_at DESC, id ASC LIMIT ? OFFSET ?`,
		limit, filters.Offset)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list_runs", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "list_runs", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list_runs", err)
	}
	return runs, nil
}

// GetMatches returns the matches of a run ordered by bill ID
func (s *Storage) GetMatches(ctx context.Context, runID string) ([]*BillMatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT run_id, bill_id, debit_operation_id, credit_operation_id, debit_distance, credit_distance
	FROM bill_matches WHERE run_id = ? ORDER BY bill_id
	`, runID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get_matches", err).WithContext("run_id", runID)
	}
	defer func() { _ = rows.Close() }()

	var matches []*BillMatchRecord
	for rows.Next() {
		m := &BillMatchRecord{}
		var debit, credit sql.NullString
		if err := rows.Scan(&m.RunID, &m.BillID, &debit, &credit, &m.DebitDistance, &m.CreditDistance); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "get_matches", err).WithContext("run_id", runID)
		}
		m.DebitOperationID = debit.String
		m.CreditOperationID = credit.String
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get_matches", err).WithContext("run_id", runID)
	}
	return matches, nil
}

// DeleteRun removes a run; its matches follow through the foreign key
func (s *Storage) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reconciliation_runs WHERE id = ?`, id)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "delete_run", err).WithContext("run_id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.StorageError(errors.CodeRecordNotFound, "delete_run", sql.ErrNoRows).WithContext("run_id", id)
	}
	return nil
}

// dsn enables foreign keys on every pooled connection
func dsn(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&_foreign_keys=on"
	}
	return dbPath + "?_foreign_keys=on"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
