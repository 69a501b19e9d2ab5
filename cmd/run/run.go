// Package run implements the run command, which executes one import
// run end to end.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/recipeharvest/cmd/common"
	"github.com/jonesrussell/recipeharvest/internal/discovery"
	"github.com/jonesrussell/recipeharvest/internal/fetchclient"
	"github.com/jonesrussell/recipeharvest/internal/filter"
	"github.com/jonesrussell/recipeharvest/internal/importer"
	"github.com/jonesrussell/recipeharvest/internal/ledger"
	"github.com/jonesrussell/recipeharvest/internal/mealie"
	"github.com/jonesrussell/recipeharvest/internal/politeness"
	"github.com/jonesrussell/recipeharvest/internal/sources"
)

// Command returns the run command.
func Command(cfgFile *string) *cobra.Command {
	var (
		mode        string
		dryRun      bool
		forceURL    string
		forceDomain string
		resetDomain string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an import: discover, filter and import recipe URLs",
		Long: `Run one import. Backfill mode digs deep into each source; delta mode
takes a smaller, newest-first pass. The command exits non-zero when any
URL fails, so schedulers can alert on partial runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps(*cfgFile)
			if err != nil {
				return err
			}

			opts := importer.Options{
				Mode:        mode,
				DryRun:      dryRun,
				ForceURL:    forceURL,
				ForceDomain: forceDomain,
				ResetDomain: resetDomain,
			}

			return execute(cmd, deps, opts)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", ledger.ModeDelta, "run mode: backfill or delta")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"report what would be imported without calling the destination (credentials are not checked; run without it to verify them)")
	cmd.Flags().StringVar(&forceURL, "force-url", "", "import exactly this URL, even if already imported")
	cmd.Flags().StringVar(&forceDomain, "force-domain", "", "retry already-imported URLs for this domain")
	cmd.Flags().StringVar(&resetDomain, "reset-domain", "", "delete all history for this domain before running")

	return cmd
}

func execute(cmd *cobra.Command, deps *common.CommandDeps, opts importer.Options) error {
	cfg := deps.Config
	log := deps.Logger

	caps, err := cfg.CapsForMode(opts.Mode)
	if err != nil {
		return err
	}

	if !opts.DryRun {
		if err := cfg.ValidateDestination(); err != nil {
			return err
		}
	}

	siteList, err := sources.Load(cfg.SourcesPath)
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}

	filters := filter.NewManager(log)
	if err := filters.Load(cfg.AllowlistPath); err != nil {
		return err
	}
	for i := range siteList {
		filters.RegisterSiteDomains(siteList[i].Key, siteList[i].Domains)
	}

	store, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: cfg.HTTP.RequestTimeout}
	limiter := politeness.NewRateLimiter(cfg.HTTP.BaseDelay)
	robots := politeness.NewRobotsCache(httpClient, cfg.HTTP.UserAgent)
	fetcher := fetchclient.New(httpClient, limiter, robots, cfg.HTTP.UserAgent, log)

	imp := importer.New(importer.Params{
		Sources:     siteList,
		Filter:      filters,
		Discoverer:  discovery.NewEngine(fetcher, log),
		Fetcher:     fetcher,
		Store:       store,
		Destination: mealie.New(cfg.Mealie.BaseURL, cfg.Mealie.Token, log),
		Caps:        caps,
		Logger:      log,
	})

	summary, err := imp.Run(cmd.Context(), opts)

	if summary != nil {
		if logErr := importer.WriteRunLog(cfg.RunLogPath, summary); logErr != nil {
			log.Error("Failed to write run log", "error", logErr)
		}
	}

	return runOutcome(summary, err)
}

// runOutcome maps a run's summary and error to the command result. An
// interrupt is a clean exit: the run record is completed and partial
// progress is persisted, so only real failures should alert schedulers.
func runOutcome(summary *importer.Summary, err error) error {
	if err != nil {
		// An interrupt alone is clean, but failures recorded before
		// the interrupt still count.
		if errors.Is(err, context.Canceled) {
			if summary != nil && !summary.Succeeded() {
				return fmt.Errorf("run interrupted with %d failed URL(s)", summary.Failed)
			}
			return nil
		}
		return err
	}

	if !summary.Succeeded() {
		return fmt.Errorf("run completed with %d failed URL(s)", summary.Failed)
	}

	return nil
}
