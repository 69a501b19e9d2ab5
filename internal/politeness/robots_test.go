package politeness_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonesrussell/recipeharvest/internal/politeness"
)

// newTestCache creates a RobotsCache for testing.
func newTestCache(t *testing.T) *politeness.RobotsCache {
	t.Helper()

	return politeness.NewRobotsCache(
		&http.Client{Timeout: 5 * time.Second},
		"TestBot/1.0",
	)
}

func TestIsAllowed_URLAllowed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer server.Close()

	cache := newTestCache(t)

	if !cache.IsAllowed(context.Background(), server.URL+"/recipes/page") {
		t.Error("expected /recipes/page to be allowed, got disallowed")
	}
}

func TestIsAllowed_URLDisallowed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer server.Close()

	cache := newTestCache(t)

	if cache.IsAllowed(context.Background(), server.URL+"/private/secret") {
		t.Error("expected /private/secret to be disallowed, got allowed")
	}
}

func TestIsAllowed_Missing404FailsOpen(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cache := newTestCache(t)

	if !cache.IsAllowed(context.Background(), server.URL+"/any/path") {
		t.Error("expected allow-all when robots.txt is missing")
	}
}

func TestIsAllowed_CachesPerSite(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	}))
	defer server.Close()

	cache := newTestCache(t)
	ctx := context.Background()

	cache.IsAllowed(ctx, server.URL+"/a")
	cache.IsAllowed(ctx, server.URL+"/b")
	cache.Sitemaps(ctx, server.URL)

	if got := fetches.Load(); got != 1 {
		t.Errorf("expected 1 robots.txt fetch, got %d", got)
	}
}

func TestSitemaps_ExtractedFromRobots(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(
			"User-agent: *\nDisallow:\n\nSitemap: https://example.com/sitemap.xml\nsitemap: https://example.com/post-sitemap.xml\n",
		))
	}))
	defer server.Close()

	cache := newTestCache(t)

	sitemaps := cache.Sitemaps(context.Background(), server.URL)
	if len(sitemaps) != 2 {
		t.Fatalf("expected 2 sitemaps, got %d", len(sitemaps))
	}

	if sitemaps[0] != "https://example.com/sitemap.xml" {
		t.Errorf("unexpected first sitemap: %q", sitemaps[0])
	}
	if sitemaps[1] != "https://example.com/post-sitemap.xml" {
		t.Errorf("unexpected second sitemap: %q", sitemaps[1])
	}
}
