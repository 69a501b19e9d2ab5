// Package importer orchestrates a full import run: discover candidate
// URLs per source, filter them, skip what the ledger already covers,
// hand the rest to the destination and record every outcome.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jonesrussell/recipeharvest/internal/config"
	"github.com/jonesrussell/recipeharvest/internal/filter"
	"github.com/jonesrussell/recipeharvest/internal/ledger"
	"github.com/jonesrussell/recipeharvest/internal/logger"
	"github.com/jonesrussell/recipeharvest/internal/mealie"
	"github.com/jonesrussell/recipeharvest/internal/sources"
)

// discoveryFactor oversamples discovery relative to the per-site cap so
// filtering and skips still leave enough fresh URLs to fill it.
const discoveryFactor = 2

// contentHashLen is the number of hex characters kept from the SHA-256
// of fallback page content.
const contentHashLen = 16

// Destination is the recipe-manager side of the pipeline.
type Destination interface {
	TestConnection(ctx context.Context) error
	CreateFromURL(ctx context.Context, recipeURL string) (*mealie.Result, error)
	CreateFromHTML(ctx context.Context, html string) (*mealie.Result, error)
	EnsureTag(ctx context.Context, name string) (string, error)
	EnsureCategory(ctx context.Context, name string) (string, error)
	AttachOrganizers(ctx context.Context, slug string, tags, categories []mealie.OrganizerRef) error
}

// Discoverer produces candidate URLs for one source.
type Discoverer interface {
	Discover(ctx context.Context, source *sources.Source, limit int) []string
}

// PageFetcher retrieves page content for the raw-HTML fallback.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (string, error)
}

// Store is the ledger surface the orchestrator needs.
type Store interface {
	StartRun(ctx context.Context, mode string) (int64, error)
	CompleteRun(ctx context.Context, runID int64, counts ledger.RunCounts, errMsg *string) error
	IsImported(ctx context.Context, url string) (bool, error)
	MarkDiscovered(ctx context.Context, url, domain, sourceKey string) error
	RecordImport(ctx context.Context, params ledger.ImportParams) error
	MarkDomainForReimport(ctx context.Context, domain string) (int64, error)
	ResetDomain(ctx context.Context, domain string) (int64, error)
}

// Importer wires discovery, filtering, the ledger and the destination
// into one sequential pipeline.
type Importer struct {
	sources    []sources.Source
	filter     *filter.Manager
	discoverer Discoverer
	fetcher    PageFetcher
	store      Store
	dest       Destination
	caps       config.ModeCaps
	log        logger.Interface

	tagRefs       map[string]mealie.OrganizerRef
	categoryRefs  map[string]mealie.OrganizerRef
	sourceTagRefs map[string]mealie.OrganizerRef
}

// Params collects the dependencies for New.
type Params struct {
	Sources     []sources.Source
	Filter      *filter.Manager
	Discoverer  Discoverer
	Fetcher     PageFetcher
	Store       Store
	Destination Destination
	Caps        config.ModeCaps
	Logger      logger.Interface
}

// New creates an Importer.
func New(p Params) *Importer {
	return &Importer{
		sources:    p.Sources,
		filter:     p.Filter,
		discoverer: p.Discoverer,
		fetcher:    p.Fetcher,
		store:      p.Store,
		dest:       p.Destination,
		caps:       p.Caps,
		log:        p.Logger,
	}
}

// contentHash returns the truncated hex SHA-256 of page content, used
// to detect changed pages across reimports.
func contentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])[:contentHashLen]
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sourceForURL finds the configured source whose domains cover the
// given already-normalized URL. URLs outside all configured sources get
// a synthetic "unknown" source so a forced import can still be
// recorded.
func (imp *Importer) sourceForURL(rawURL string) *sources.Source {
	key := imp.filter.SiteKeyForURL(rawURL)

	for i := range imp.sources {
		if imp.sources[i].Key == key {
			return &imp.sources[i]
		}
	}

	return &sources.Source{Key: "unknown"}
}
