package fetchclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonesrussell/recipeharvest/internal/fetchclient"
	"github.com/jonesrussell/recipeharvest/internal/logger"
	"github.com/jonesrussell/recipeharvest/internal/politeness"
)

func newTestClient(t *testing.T) (*fetchclient.Client, *politeness.RateLimiter) {
	t.Helper()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	limiter := politeness.NewRateLimiter(0)
	robots := politeness.NewRobotsCache(httpClient, "TestBot/1.0")

	return fetchclient.New(httpClient, limiter, robots, "TestBot/1.0", logger.NewNoOp()), limiter
}

func TestGet_SetsStandardHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotLang string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, _ := newTestClient(t)

	resp, err := client.Get(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusOK || resp.Body != "ok" {
		t.Errorf("unexpected response: %d %q", resp.StatusCode, resp.Body)
	}
	if gotUA != "TestBot/1.0" {
		t.Errorf("User-Agent = %q, want TestBot/1.0", gotUA)
	}
	if gotLang != "en-US,en;q=0.9" {
		t.Errorf("Accept-Language = %q", gotLang)
	}
}

func TestGet_RateLimitedEscalatesBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, limiter := newTestClient(t)

	_, err := client.Get(context.Background(), server.URL+"/page")
	if !errors.Is(err, fetchclient.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	host := server.Listener.Addr().String()
	if got := limiter.Multiplier(host); got != 2.0 {
		t.Errorf("multiplier after 429 = %v, want 2.0", got)
	}
}

func TestFetchPage_RobotsDisallowed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		_, _ = w.Write([]byte("page"))
	}))
	defer server.Close()

	client, _ := newTestClient(t)

	_, err := client.FetchPage(context.Background(), server.URL+"/private/x")
	if !errors.Is(err, fetchclient.ErrRobotsDisallowed) {
		t.Fatalf("expected ErrRobotsDisallowed, got %v", err)
	}

	body, err := client.FetchPage(context.Background(), server.URL+"/public/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "page" {
		t.Errorf("body = %q, want %q", body, "page")
	}
}

func TestExists_HeadProbe(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed" {
			return // 200
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, _ := newTestClient(t)
	ctx := context.Background()

	if !client.Exists(ctx, server.URL+"/feed") {
		t.Error("expected /feed to exist")
	}
	if client.Exists(ctx, server.URL+"/nope") {
		t.Error("expected /nope to not exist")
	}
}
