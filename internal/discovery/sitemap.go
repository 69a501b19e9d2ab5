package discovery

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"github.com/jonesrussell/recipeharvest/internal/sources"
)

// commonSitemapPaths are conventional paths probed when neither the
// source nor robots.txt declares a sitemap.
var commonSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/post-sitemap.xml",
}

// maxChildSitemaps bounds recursion into a sitemap index.
const maxChildSitemaps = 5

// entryScanFactor caps how many sitemap entries are scanned relative to
// the requested limit.
const entryScanFactor = 2

// dateOnlyFormat is the date-only layout for sitemap lastmod values.
const dateOnlyFormat = "2006-01-02"

// xmlURLSet is the root element of a standard sitemap XML file.
type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

// xmlURL is a single <url> entry inside a <urlset>.
type xmlURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// xmlSitemapIndex is the root element of a sitemap index XML file.
type xmlSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}

// xmlSitemap is a single <sitemap> entry inside a <sitemapindex>.
type xmlSitemap struct {
	Loc string `xml:"loc"`
}

// discoverFromSitemaps runs the sitemap strategy. Sitemap URLs are taken
// from the source declaration, then robots.txt, then conventional paths.
func (e *Engine) discoverFromSitemaps(
	ctx context.Context,
	source *sources.Source,
	remaining int,
) []Candidate {
	sitemapURLs := source.Discovery.SitemapURLs

	if len(sitemapURLs) == 0 {
		sitemapURLs = e.client.Robots().Sitemaps(ctx, source.BaseURL)
	}

	if len(sitemapURLs) == 0 {
		sitemapURLs = e.probeSitemapPaths(ctx, source.BaseURL)
	}

	var all []Candidate

	for _, sitemapURL := range sitemapURLs {
		all = append(all, e.parseSitemap(ctx, sitemapURL, remaining-len(all))...)
		if len(all) >= remaining {
			break
		}
	}

	return all
}

// probeSitemapPaths returns every conventional sitemap path that exists
// under the base URL.
func (e *Engine) probeSitemapPaths(ctx context.Context, baseURL string) []string {
	var found []string

	for _, path := range commonSitemapPaths {
		candidate := resolveURL(baseURL, path)
		if candidate == "" {
			continue
		}

		if e.client.Exists(ctx, candidate) {
			found = append(found, candidate)
		}
	}

	return found
}

// parseSitemap fetches a sitemap and extracts up to limit URL entries.
// A sitemap index recurses into at most the first maxChildSitemaps
// children, carrying forward the remaining quota.
func (e *Engine) parseSitemap(ctx context.Context, sitemapURL string, limit int) []Candidate {
	if limit <= 0 {
		return nil
	}

	e.log.Debug("parsing sitemap", "url", sitemapURL)

	resp, err := e.client.Get(ctx, sitemapURL)
	if err != nil {
		e.log.Warn("failed to fetch sitemap", "url", sitemapURL, "error", err.Error())
		return nil
	}

	if children, isIndex := parseSitemapIndex(resp.Body); isIndex {
		return e.parseChildSitemaps(ctx, children, limit)
	}

	candidates, parseErr := parseURLSet(resp.Body, limit)
	if parseErr != nil {
		e.log.Warn("failed to parse sitemap", "url", sitemapURL, "error", parseErr.Error())
		return nil
	}

	e.log.Debug("sitemap URLs found", "url", sitemapURL, "count", len(candidates))

	return candidates
}

// parseChildSitemaps recurses into the first maxChildSitemaps children
// of a sitemap index.
func (e *Engine) parseChildSitemaps(ctx context.Context, children []string, limit int) []Candidate {
	if len(children) > maxChildSitemaps {
		children = children[:maxChildSitemaps]
	}

	var all []Candidate

	for _, child := range children {
		all = append(all, e.parseSitemap(ctx, child, limit-len(all))...)
		if len(all) >= limit {
			break
		}
	}

	return all
}

// parseSitemapIndex attempts to parse a body as a sitemap index. The
// second return value reports whether the body was an index.
func parseSitemapIndex(body string) ([]string, bool) {
	var index xmlSitemapIndex
	if err := xml.Unmarshal([]byte(body), &index); err != nil {
		return nil, false
	}

	if len(index.Sitemaps) == 0 {
		return nil, false
	}

	children := make([]string, 0, len(index.Sitemaps))
	for _, s := range index.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}

	return children, true
}

// parseURLSet parses a standard sitemap, scanning at most
// entryScanFactor*limit entries and returning at most limit candidates.
func parseURLSet(body string, limit int) ([]Candidate, error) {
	var urlset xmlURLSet
	if err := xml.Unmarshal([]byte(body), &urlset); err != nil {
		return nil, err
	}

	entries := urlset.URLs
	if scanCap := entryScanFactor * limit; len(entries) > scanCap {
		entries = entries[:scanCap]
	}

	candidates := make([]Candidate, 0, min(len(entries), limit))

	for i := range entries {
		entry := &entries[i]
		if entry.Loc == "" {
			continue
		}

		candidates = append(candidates, Candidate{
			URL:         entry.Loc,
			PublishedAt: parseLastMod(entry.LastMod),
		})

		if len(candidates) >= limit {
			break
		}
	}

	return candidates, nil
}

// parseLastMod parses a sitemap lastmod value, accepting RFC 3339 and
// date-only forms. Unparseable values yield nil, which sorts last.
func parseLastMod(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &t
	}

	if t, err := time.Parse(dateOnlyFormat, trimmed); err == nil {
		return &t
	}

	return nil
}
