package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024 // 512 KB

// sitemapDirective is the robots.txt directive listing sitemap URLs.
const sitemapDirective = "sitemap:"

// RobotsCache fetches and caches robots.txt policy per site. The cache
// key is scheme://host. A missing or unreadable robots.txt results in
// allow-all (standard practice).
type RobotsCache struct {
	httpClient *http.Client
	userAgent  string
	mu         sync.RWMutex
	cache      map[string]*robotsEntry
}

// robotsEntry stores the parsed robots.txt data and sitemap URLs for a site.
type robotsEntry struct {
	data     *robotstxt.RobotsData
	sitemaps []string
	allowAll bool
}

// NewRobotsCache creates a RobotsCache using the given HTTP client.
func NewRobotsCache(httpClient *http.Client, userAgent string) *RobotsCache {
	return &RobotsCache{
		httpClient: httpClient,
		userAgent:  userAgent,
		cache:      make(map[string]*robotsEntry),
	}
}

// IsAllowed reports whether the configured user agent may fetch the URL
// according to the site's robots.txt. Fails open: an unparseable URL or
// unretrievable robots.txt permits the fetch.
func (r *RobotsCache) IsAllowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}

	entry := r.getOrFetch(ctx, siteKey(parsed))
	if entry.allowAll {
		return true
	}

	return entry.data.TestAgent(parsed.Path, r.userAgent)
}

// Sitemaps returns the sitemap URLs advertised by the site's robots.txt.
func (r *RobotsCache) Sitemaps(ctx context.Context, baseURL string) []string {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil
	}

	return r.getOrFetch(ctx, siteKey(parsed)).sitemaps
}

// siteKey builds the scheme://host cache key for a parsed URL.
func siteKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}

	return scheme + "://" + strings.ToLower(u.Host)
}

// getOrFetch returns the cached entry for a site, fetching robots.txt on
// first access.
func (r *RobotsCache) getOrFetch(ctx context.Context, site string) *robotsEntry {
	r.mu.RLock()
	entry, ok := r.cache[site]
	r.mu.RUnlock()

	if ok {
		return entry
	}

	entry = r.fetch(ctx, site)

	r.mu.Lock()
	r.cache[site] = entry
	r.mu.Unlock()

	return entry
}

// fetch retrieves and parses robots.txt for a site. Any failure yields
// an allow-all entry.
func (r *RobotsCache) fetch(ctx context.Context, site string) *robotsEntry {
	body, statusCode, err := r.doFetch(ctx, site+robotsTxtPath)
	if err != nil || statusCode != http.StatusOK {
		return &robotsEntry{allowAll: true}
	}

	data, parseErr := robotstxt.FromBytes(body)
	if parseErr != nil {
		return &robotsEntry{allowAll: true}
	}

	return &robotsEntry{
		data:     data,
		sitemaps: extractSitemaps(body),
	}
}

// doFetch performs the HTTP GET request for a robots.txt URL.
func (r *RobotsCache) doFetch(ctx context.Context, robotsURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("robots: create request: %w", err)
	}

	req.Header.Set("User-Agent", r.userAgent)

	resp, doErr := r.httpClient.Do(req)
	if doErr != nil {
		return nil, 0, fmt.Errorf("robots: fetch: %w", doErr)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("robots: read body: %w", readErr)
	}

	return body, resp.StatusCode, nil
}

// extractSitemaps collects Sitemap: directive values from a robots.txt body.
func extractSitemaps(body []byte) []string {
	var sitemaps []string

	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < len(sitemapDirective) {
			continue
		}

		if !strings.EqualFold(trimmed[:len(sitemapDirective)], sitemapDirective) {
			continue
		}

		if value := strings.TrimSpace(trimmed[len(sitemapDirective):]); value != "" {
			sitemaps = append(sitemaps, value)
		}
	}

	return sitemaps
}
