package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const topDomainLimit = 20

// DomainCount is a per-domain imported-record tally.
type DomainCount struct {
	Domain string `db:"domain"`
	Count  int    `db:"count"`
}

// StatusCount is a per-status record tally.
type StatusCount struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}

// Stats is a snapshot of ledger contents for reporting.
type Stats struct {
	TotalURLs  int
	ByStatus   []StatusCount
	TopDomains []DomainCount
	LastRun    *RunRecord
}

// Stats summarizes the ledger: total records, per-status counts, the
// most-imported domains and the most recent run.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.GetContext(ctx, &stats.TotalURLs, `SELECT COUNT(*) FROM urls`); err != nil {
		return nil, fmt.Errorf("count urls: %w", err)
	}

	statusQuery := `
		SELECT status, COUNT(*) AS count FROM urls
		GROUP BY status
		ORDER BY count DESC
	`
	if err := s.db.SelectContext(ctx, &stats.ByStatus, statusQuery); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	domainQuery := `
		SELECT domain, COUNT(*) AS count FROM urls
		WHERE status IN (?, ?)
		GROUP BY domain
		ORDER BY count DESC
		LIMIT ?
	`
	err := s.db.SelectContext(ctx, &stats.TopDomains, domainQuery,
		StatusImported, StatusImportedFallback, topDomainLimit)
	if err != nil {
		return nil, fmt.Errorf("count by domain: %w", err)
	}

	lastRun, err := s.LastRun(ctx)
	if err != nil {
		return nil, err
	}
	stats.LastRun = lastRun

	return stats, nil
}

// LastRun returns the most recently started run, or nil if none exists.
func (s *Store) LastRun(ctx context.Context) (*RunRecord, error) {
	query := `
		SELECT id, mode, started_at, completed_at, discovered_count,
			imported_count, failed_count, skipped_count, error_message
		FROM runs
		ORDER BY id DESC
		LIMIT 1
	`

	var run RunRecord
	err := s.db.GetContext(ctx, &run, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}

	return &run, nil
}

// RecentFailures returns the most recent failed records, newest first.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]URLRecord, error) {
	query := `
		SELECT ` + urlSelectColumns + ` FROM urls
		WHERE status = ?
		ORDER BY discovered_at DESC
		LIMIT ?
	`

	var records []URLRecord
	if err := s.db.SelectContext(ctx, &records, query, StatusFailed, limit); err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}

	return records, nil
}
