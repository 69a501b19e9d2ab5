// Package discovery finds candidate recipe URLs for a source using three
// strategies applied in strict order: syndication feeds, sitemaps, and
// listing pages. Earlier strategies take priority; later ones only run
// while the requested limit is under-filled.
package discovery

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/jonesrussell/recipeharvest/internal/fetchclient"
	"github.com/jonesrussell/recipeharvest/internal/logger"
	"github.com/jonesrussell/recipeharvest/internal/sources"
	"github.com/jonesrussell/recipeharvest/internal/urlutil"
)

// Candidate is a discovered URL with an optional publish or modification
// timestamp. The timestamp is used only for ordering, never for identity.
type Candidate struct {
	URL         string
	PublishedAt *time.Time
}

// strategy identifies one of the closed set of discovery strategies.
type strategy int

const (
	strategyFeed strategy = iota
	strategySitemap
	strategyListing
)

// orderedStrategies is the strict application order.
var orderedStrategies = []strategy{strategyFeed, strategySitemap, strategyListing}

// Engine discovers candidate URLs for configured sources.
type Engine struct {
	client *fetchclient.Client
	log    logger.Interface
}

// NewEngine creates a discovery engine backed by the polite fetch client.
func NewEngine(client *fetchclient.Client, log logger.Interface) *Engine {
	return &Engine{client: client, log: log}
}

// Discover returns up to limit normalized URLs for a source, newest
// first, deduplicated. Strategies run in order and each is capped so the
// running total never exceeds limit.
func (e *Engine) Discover(ctx context.Context, source *sources.Source, limit int) []string {
	e.log.Info("discovering URLs", "source", source.Name)

	var all []Candidate

	for _, s := range orderedStrategies {
		remaining := limit - len(all)
		if remaining <= 0 {
			break
		}

		all = append(all, e.runStrategy(ctx, s, source, remaining)...)
	}

	unique := dedupeNewestFirst(all, limit)

	e.log.Info("discovery complete",
		"source", source.Name,
		"unique_urls", len(unique),
	)

	return unique
}

// runStrategy dispatches a single discovery strategy.
func (e *Engine) runStrategy(
	ctx context.Context,
	s strategy,
	source *sources.Source,
	remaining int,
) []Candidate {
	switch s {
	case strategyFeed:
		return e.discoverFromFeeds(ctx, source, remaining)
	case strategySitemap:
		return e.discoverFromSitemaps(ctx, source, remaining)
	case strategyListing:
		return e.discoverFromListings(ctx, source, remaining)
	default:
		return nil
	}
}

// dedupeNewestFirst sorts candidates newest first (missing timestamps
// last), deduplicates by normalized form preserving the sorted order,
// and truncates to limit.
func dedupeNewestFirst(candidates []Candidate, limit int) []string {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].PublishedAt, candidates[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	seen := make(map[string]struct{}, len(candidates))
	unique := make([]string, 0, len(candidates))

	for _, c := range candidates {
		normalized, err := urlutil.Normalize(c.URL)
		if err != nil {
			continue
		}

		if _, dup := seen[normalized]; dup {
			continue
		}

		seen[normalized] = struct{}{}
		unique = append(unique, normalized)

		if len(unique) >= limit {
			break
		}
	}

	return unique
}

// resolveURL resolves a potentially relative href against a base URL.
func resolveURL(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	ref, refErr := url.Parse(href)
	if refErr != nil {
		return ""
	}

	return base.ResolveReference(ref).String()
}
