package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonesrussell/recipeharvest/internal/ledger"
	"github.com/jonesrussell/recipeharvest/internal/sources"
	"github.com/jonesrussell/recipeharvest/internal/urlutil"
)

// Options select what a run does beyond the default pipeline.
type Options struct {
	Mode        string
	DryRun      bool
	ForceURL    string
	ForceDomain string
	ResetDomain string
}

// Summary reports a completed (or aborted) run. One JSON line per run
// is appended to the run log.
type Summary struct {
	RunID       int64     `json:"run_id"`
	Mode        string    `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
	DurationSec float64   `json:"duration_sec"`
	DryRun      bool      `json:"dry_run,omitempty"`
	Discovered  int       `json:"discovered"`
	Filtered    int       `json:"filtered"`
	Skipped     int       `json:"skipped"`
	Imported    int       `json:"imported"`
	Queued      int       `json:"queued"`
	Failed      int       `json:"failed"`
}

// Succeeded reports whether the run completed with zero failures.
func (s *Summary) Succeeded() bool {
	return s.Failed == 0
}

// accepted counts URLs the destination took in. Only these consume the
// per-run cap: failures are free retries, not budget.
func (s *Summary) accepted() int {
	return s.Imported + s.Queued
}

func (s *Summary) runCounts() ledger.RunCounts {
	return ledger.RunCounts{
		Discovered: s.Discovered,
		Imported:   s.Imported,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
	}
}

// Run executes one import run. The run log row is always completed,
// with partial counters, even when the run aborts early. The returned
// summary is valid whenever the error is nil.
func (imp *Importer) Run(ctx context.Context, opts Options) (*Summary, error) {
	runID, err := imp.store.StartRun(ctx, opts.Mode)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:     runID,
		Mode:      opts.Mode,
		StartedAt: time.Now().UTC(),
		DryRun:    opts.DryRun,
	}

	runErr := imp.execute(ctx, opts, summary)
	summary.DurationSec = time.Since(summary.StartedAt).Seconds()

	var errMsg *string
	if runErr != nil {
		errMsg = strOrNil(runErr.Error())
	}

	// Completing the run log must not be short-circuited by a
	// cancelled context.
	if completeErr := imp.store.CompleteRun(context.WithoutCancel(ctx), runID, summary.runCounts(), errMsg); completeErr != nil {
		imp.log.Error("Failed to complete run record", "run_id", runID, "error", completeErr)
	}

	if runErr != nil {
		return summary, runErr
	}

	imp.log.Info("Run complete",
		"run_id", runID,
		"mode", opts.Mode,
		"discovered", summary.Discovered,
		"imported", summary.Imported,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	return summary, nil
}

func (imp *Importer) execute(ctx context.Context, opts Options, summary *Summary) error {
	if opts.ResetDomain != "" {
		deleted, err := imp.store.ResetDomain(ctx, opts.ResetDomain)
		if err != nil {
			return err
		}
		imp.log.Info("Reset domain history", "domain", opts.ResetDomain, "deleted", deleted)
	}

	// Forcing a domain flags its existing records so the reimport
	// survives an interrupted run; the in-loop bypass handles the rest.
	if opts.ForceDomain != "" {
		flagged, err := imp.store.MarkDomainForReimport(ctx, opts.ForceDomain)
		if err != nil {
			return err
		}
		imp.log.Info("Marked domain for reimport", "domain", opts.ForceDomain, "flagged", flagged)
	}

	if !opts.DryRun {
		if err := imp.dest.TestConnection(ctx); err != nil {
			return err
		}
		if err := imp.ensureOrganizers(ctx); err != nil {
			return err
		}
	}

	if opts.ForceURL != "" {
		return imp.runForcedURL(ctx, opts, summary)
	}

	return imp.runSources(ctx, opts, summary)
}

// runForcedURL ingests exactly one URL, bypassing discovery and the
// already-imported check.
func (imp *Importer) runForcedURL(ctx context.Context, opts Options, summary *Summary) error {
	normalized, err := urlutil.Normalize(opts.ForceURL)
	if err != nil {
		return fmt.Errorf("invalid forced URL: %w", err)
	}

	source := imp.sourceForURL(normalized)
	summary.Discovered++

	if opts.DryRun {
		imp.log.Info("Dry run: would import", "url", normalized, "source", source.Key)
		summary.Skipped++
		return nil
	}

	imp.ingest(ctx, normalized, source, summary)

	return nil
}

func (imp *Importer) runSources(ctx context.Context, opts Options, summary *Summary) error {
	enabled := sources.Enabled(imp.sources)
	if len(enabled) == 0 {
		return fmt.Errorf("no enabled sources")
	}

	for i := range enabled {
		if err := ctx.Err(); err != nil {
			return err
		}
		if summary.accepted() >= imp.caps.Total {
			imp.log.Info("Run cap reached", "total", imp.caps.Total)
			break
		}

		imp.runSource(ctx, &enabled[i], opts, summary)
	}

	return ctx.Err()
}

func (imp *Importer) runSource(ctx context.Context, source *sources.Source, opts Options, summary *Summary) {
	log := imp.log.With("source", source.Key)

	candidates := imp.discoverer.Discover(ctx, source, imp.caps.PerSite*discoveryFactor)
	log.Info("Discovery complete", "candidates", len(candidates))

	forced := opts.ForceDomain != "" && sourceMatchesDomain(source, opts.ForceDomain)
	ingested := 0

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		if ingested >= imp.caps.PerSite {
			log.Info("Site cap reached", "cap", imp.caps.PerSite)
			return
		}
		if summary.accepted() >= imp.caps.Total {
			return
		}

		normalized, err := urlutil.Normalize(candidate)
		if err != nil {
			continue
		}
		summary.Discovered++

		if !imp.filter.IsValid(normalized, source.Key) {
			summary.Filtered++
			continue
		}

		// A forced domain retries everything, including URLs the
		// ledger already considers done.
		if !forced {
			done, checkErr := imp.store.IsImported(ctx, normalized)
			if checkErr != nil {
				log.Error("Ledger lookup failed", "url", normalized, "error", checkErr)
				continue
			}
			if done {
				summary.Skipped++
				continue
			}
		}

		if opts.DryRun {
			log.Info("Dry run: would import", "url", normalized)
			summary.Skipped++
			ingested++
			continue
		}

		imp.ingest(ctx, normalized, source, summary)
		ingested++
	}
}

func sourceMatchesDomain(source *sources.Source, domain string) bool {
	for _, d := range source.Domains {
		if urlutil.MatchesDomain(d, domain) || urlutil.MatchesDomain(domain, d) {
			return true
		}
	}

	return false
}

// WriteRunLog appends the summary as one JSON line to the run log file,
// creating parent directories as needed.
func WriteRunLog(path string, summary *Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create run log dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}

	return nil
}
