package discovery

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/recipeharvest/internal/sources"
	"github.com/jonesrussell/recipeharvest/internal/urlutil"
)

// discoverFromListings runs the listing-page fallback: fetch configured
// listing pages and collect in-domain anchor targets. No publish dates
// are available from this strategy.
func (e *Engine) discoverFromListings(
	ctx context.Context,
	source *sources.Source,
	remaining int,
) []Candidate {
	var all []Candidate

	for _, listingURL := range source.Discovery.ListingURLs {
		all = append(all, e.crawlListing(ctx, listingURL, source.Domains, remaining-len(all))...)
		if len(all) >= remaining {
			break
		}
	}

	return all
}

// crawlListing extracts anchor hrefs from one listing page, resolving
// relative links and keeping only http(s) URLs whose host matches one of
// the source's domains.
func (e *Engine) crawlListing(
	ctx context.Context,
	listingURL string,
	domains []string,
	limit int,
) []Candidate {
	if limit <= 0 {
		return nil
	}

	e.log.Debug("crawling listing page", "url", listingURL)

	body, err := e.client.FetchPage(ctx, listingURL)
	if err != nil {
		e.log.Warn("failed to fetch listing page", "url", listingURL, "error", err.Error())
		return nil
	}

	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(body))
	if parseErr != nil {
		e.log.Warn("failed to parse listing page", "url", listingURL, "error", parseErr.Error())
		return nil
	}

	var candidates []Candidate

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")

		resolved := resolveURL(listingURL, href)
		if !isInDomain(resolved, domains) {
			return true
		}

		candidates = append(candidates, Candidate{URL: resolved})

		return len(candidates) < limit
	})

	e.log.Debug("listing links found", "url", listingURL, "count", len(candidates))

	return candidates
}

// isInDomain reports whether a URL is http(s) and its host matches one
// of the allowed domains exactly or as a subdomain.
func isInDomain(rawURL string, domains []string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())

	for _, domain := range domains {
		if urlutil.MatchesDomain(host, domain) {
			return true
		}
	}

	return false
}
