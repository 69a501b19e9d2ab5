// Package ledger provides the durable per-URL state store that makes
// import runs idempotent. Every public operation is a short independent
// transaction; there is no multi-statement transaction spanning a source
// or a run.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// URL statuses recorded in the ledger.
const (
	StatusDiscovered       = "discovered"
	StatusImported         = "imported"
	StatusImportedFallback = "imported_via_fallback"
	StatusQueued           = "queued"
	StatusFailed           = "failed"
)

// Run modes.
const (
	ModeBackfill = "backfill"
	ModeDelta    = "delta"
)

// urlSelectColumns lists columns for SELECT queries on urls.
const urlSelectColumns = `url, domain, source_key, discovered_at, imported_at,
	status, last_error, recipe_ref, content_hash, needs_reimport`

// URLRecord is one ledger row, keyed by normalized URL.
type URLRecord struct {
	URL           string         `db:"url"`
	Domain        string         `db:"domain"`
	SourceKey     sql.NullString `db:"source_key"`
	DiscoveredAt  time.Time      `db:"discovered_at"`
	ImportedAt    *time.Time     `db:"imported_at"`
	Status        string         `db:"status"`
	LastError     sql.NullString `db:"last_error"`
	RecipeRef     sql.NullString `db:"recipe_ref"`
	ContentHash   sql.NullString `db:"content_hash"`
	NeedsReimport bool           `db:"needs_reimport"`
}

// RunRecord is one row of the run log.
type RunRecord struct {
	ID              int64          `db:"id"`
	Mode            string         `db:"mode"`
	StartedAt       time.Time      `db:"started_at"`
	CompletedAt     *time.Time     `db:"completed_at"`
	DiscoveredCount int            `db:"discovered_count"`
	ImportedCount   int            `db:"imported_count"`
	FailedCount     int            `db:"failed_count"`
	SkippedCount    int            `db:"skipped_count"`
	ErrorMessage    sql.NullString `db:"error_message"`
}

// RunCounts are the counters recorded when a run completes.
type RunCounts struct {
	Discovered int
	Imported   int
	Failed     int
	Skipped    int
}

// Store is the SQLite-backed ledger. It owns a single connection pool;
// callers must Close it when done.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the ledger database at path and
// applies the schema. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// SQLite allows one writer; the importer is sequential by design.
	db.SetMaxOpenConns(1)

	if _, execErr := db.Exec(schema); execErr != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", execErr)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsImported reports whether a URL is done: status imported or
// imported_via_fallback with the reimport flag clear.
func (s *Store) IsImported(ctx context.Context, url string) (bool, error) {
	query := `
		SELECT 1 FROM urls
		WHERE url = ?
		  AND status IN (?, ?)
		  AND needs_reimport = 0
	`

	var one int
	err := s.db.GetContext(ctx, &one, query, url, StatusImported, StatusImportedFallback)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check imported: %w", err)
	}

	return true, nil
}

// MarkDiscovered inserts a discovered record for a URL if none exists.
// Existing records are left untouched.
func (s *Store) MarkDiscovered(ctx context.Context, url, domain, sourceKey string) error {
	query := `
		INSERT OR IGNORE INTO urls (url, domain, source_key, discovered_at, status)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, url, domain, sourceKey, time.Now().UTC(), StatusDiscovered)
	if err != nil {
		return fmt.Errorf("mark discovered: %w", err)
	}

	return nil
}

// ImportParams are the inputs to RecordImport. Nil optional fields are
// never allowed to overwrite previously recorded values.
type ImportParams struct {
	URL         string
	Domain      string
	SourceKey   string
	Status      string
	RecipeRef   *string
	ContentHash *string
	LastError   *string
}

// RecordImport upserts the import outcome for a URL. A fresh record is
// inserted if none exists; otherwise status, timestamps and error are
// updated, recipe_ref and content_hash are merged only when newly
// provided, and the reimport flag is cleared on any write.
func (s *Store) RecordImport(ctx context.Context, params ImportParams) error {
	var importedAt *time.Time
	if params.Status == StatusImported || params.Status == StatusImportedFallback {
		now := time.Now().UTC()
		importedAt = &now
	}

	query := `
		INSERT INTO urls
			(url, domain, source_key, discovered_at, imported_at, status,
			 recipe_ref, content_hash, last_error, needs_reimport)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(url) DO UPDATE SET
			source_key = excluded.source_key,
			imported_at = excluded.imported_at,
			status = excluded.status,
			recipe_ref = COALESCE(excluded.recipe_ref, recipe_ref),
			content_hash = COALESCE(excluded.content_hash, content_hash),
			last_error = excluded.last_error,
			needs_reimport = 0
	`

	_, err := s.db.ExecContext(ctx, query,
		params.URL, params.Domain, params.SourceKey, time.Now().UTC(), importedAt,
		params.Status, params.RecipeRef, params.ContentHash, params.LastError,
	)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}

	return nil
}

// MarkDomainForReimport flags all records whose domain contains the
// given substring for reimport, preserving their history. Returns the
// number of records flagged.
func (s *Store) MarkDomainForReimport(ctx context.Context, domain string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE urls SET needs_reimport = 1 WHERE domain LIKE ?`,
		likePattern(domain),
	)
	if err != nil {
		return 0, fmt.Errorf("mark domain for reimport: %w", err)
	}

	return result.RowsAffected()
}

// ResetDomain deletes all records whose domain contains the given
// substring. Returns the number of records deleted.
func (s *Store) ResetDomain(ctx context.Context, domain string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM urls WHERE domain LIKE ?`,
		likePattern(domain),
	)
	if err != nil {
		return 0, fmt.Errorf("reset domain: %w", err)
	}

	return result.RowsAffected()
}

// URLsForDomain returns all records whose domain contains the given
// substring, newest first.
func (s *Store) URLsForDomain(ctx context.Context, domain string) ([]URLRecord, error) {
	query := `
		SELECT ` + urlSelectColumns + ` FROM urls
		WHERE domain LIKE ?
		ORDER BY discovered_at DESC
	`

	var records []URLRecord
	if err := s.db.SelectContext(ctx, &records, query, likePattern(domain)); err != nil {
		return nil, fmt.Errorf("urls for domain: %w", err)
	}

	return records, nil
}

// QueuedURLs returns URLs accepted by the destination but never
// confirmed imported.
func (s *Store) QueuedURLs(ctx context.Context) ([]string, error) {
	var urls []string
	err := s.db.SelectContext(ctx, &urls, `SELECT url FROM urls WHERE status = ?`, StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("queued urls: %w", err)
	}

	return urls, nil
}

// StartRun inserts a run log row and returns its id.
func (s *Store) StartRun(ctx context.Context, mode string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (mode, started_at) VALUES (?, ?)`,
		mode, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}

	return result.LastInsertId()
}

// CompleteRun finalizes a run log row. Must be called exactly once per
// run, including on early termination, with whatever partial counts
// were accumulated.
func (s *Store) CompleteRun(ctx context.Context, runID int64, counts RunCounts, errMsg *string) error {
	query := `
		UPDATE runs
		SET completed_at = ?,
			discovered_count = ?,
			imported_count = ?,
			failed_count = ?,
			skipped_count = ?,
			error_message = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		time.Now().UTC(), counts.Discovered, counts.Imported,
		counts.Failed, counts.Skipped, errMsg, runID,
	)

	return execRequireRows(result, err, fmt.Errorf("run not found: %d", runID))
}

// likePattern wraps a domain fragment for substring LIKE matching,
// consistent with how record domains are written.
func likePattern(domain string) string {
	return "%" + domain + "%"
}

// execRequireRows validates that an ExecContext result affected at least
// one row. Returns err if non-nil, or notFoundErr if no rows changed.
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}

	if n == 0 {
		return notFoundErr
	}

	return nil
}
