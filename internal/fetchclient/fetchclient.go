// Package fetchclient provides the polite HTTP client used by discovery.
// Every request is paced through the per-domain rate limiter, and page
// fetches are checked against robots.txt first. Throttling responses
// (429/503) escalate the domain's backoff instead of surfacing an error.
package fetchclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonesrussell/recipeharvest/internal/logger"
	"github.com/jonesrussell/recipeharvest/internal/politeness"
)

// maxBodyBytes limits the size of page bodies we will read.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// headProbeTimeout bounds existence probes, which should be cheap.
const headProbeTimeout = 5 * time.Second

// ErrRateLimited indicates the remote site signalled throttling; the
// request yielded no result but is not a failure of the URL.
var ErrRateLimited = errors.New("rate limited by remote site")

// ErrRobotsDisallowed indicates the URL is blocked by robots.txt.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// Response is the body and status of a completed fetch.
type Response struct {
	StatusCode int
	Body       string
}

// Client is a polite HTTP client: rate limited per domain, robots aware,
// with a fixed User-Agent and Accept-Language.
type Client struct {
	httpClient *http.Client
	limiter    *politeness.RateLimiter
	robots     *politeness.RobotsCache
	userAgent  string
	log        logger.Interface
}

// New creates a polite fetch client.
func New(
	httpClient *http.Client,
	limiter *politeness.RateLimiter,
	robots *politeness.RobotsCache,
	userAgent string,
	log logger.Interface,
) *Client {
	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		robots:     robots,
		userAgent:  userAgent,
		log:        log,
	}
}

// Robots exposes the robots cache for sitemap discovery.
func (c *Client) Robots() *politeness.RobotsCache {
	return c.robots
}

// Get fetches a URL after waiting out the domain's politeness delay.
// A 429 or 503 response escalates backoff and returns ErrRateLimited.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	domain := hostOf(rawURL)

	if err := c.limiter.Wait(ctx, domain); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		c.limiter.OnRateLimited(domain)
		c.log.Warn("rate limited", "domain", domain, "status", resp.StatusCode)
		return nil, ErrRateLimited
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr != nil {
		return nil, fmt.Errorf("read body %s: %w", rawURL, readErr)
	}

	c.limiter.OnSuccess(domain)

	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

// FetchPage fetches a page body, honoring robots.txt. Returns
// ErrRobotsDisallowed for blocked URLs and an error for any non-200 status.
func (c *Client) FetchPage(ctx context.Context, rawURL string) (string, error) {
	if !c.robots.IsAllowed(ctx, rawURL) {
		c.log.Debug("blocked by robots.txt", "url", rawURL)
		return "", ErrRobotsDisallowed
	}

	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	return resp.Body, nil
}

// Exists probes a URL with a HEAD request. Only a 200 counts as existing.
func (c *Client) Exists(ctx context.Context, rawURL string) bool {
	if err := c.limiter.Wait(ctx, hostOf(rawURL)); err != nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, headProbeTimeout)
	defer cancel()

	resp, err := c.do(probeCtx, http.MethodHead, rawURL)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// do performs a single HTTP request with the client's standard headers.
func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", rawURL, err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, doErr)
	}

	return resp, nil
}

// hostOf returns the lowercased host of a URL for rate limiter keying.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(parsed.Host)
}
