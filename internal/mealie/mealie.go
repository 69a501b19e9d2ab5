// Package mealie is a minimal client for the Mealie recipe manager API,
// covering URL-based recipe creation, raw-HTML fallback creation and
// organizer (tag/category) management.
package mealie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonesrussell/recipeharvest/internal/logger"
)

const (
	defaultTimeout   = 60 * time.Second
	maxErrorExcerpt  = 300
	maxResponseBytes = 1 << 20 // 1MB
)

// Outcome classifies the destination's response to a creation request.
type Outcome int

const (
	// OutcomeCreated means the recipe was created synchronously.
	OutcomeCreated Outcome = iota
	// OutcomeAlreadyExists means the destination already has this recipe.
	OutcomeAlreadyExists
	// OutcomeQueued means the request was accepted for later processing.
	OutcomeQueued
	// OutcomeRejected means the destination could not parse the recipe.
	OutcomeRejected
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeQueued:
		return "queued"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is the outcome of a creation request. Slug is set only when the
// destination created the recipe synchronously.
type Result struct {
	Outcome Outcome
	Slug    string
	Detail  string
}

// Client talks to a single Mealie instance using a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        logger.Interface

	tagCache      map[string]string
	categoryCache map[string]string
}

// New creates a client for the Mealie instance at baseURL.
func New(baseURL, token string, log logger.Interface) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		log:           log,
		tagCache:      make(map[string]string),
		categoryCache: make(map[string]string),
	}
}

// TestConnection verifies the instance is reachable and the token is
// accepted.
func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.doJSON(ctx, http.MethodGet, "/api/app/about", nil)
	if err != nil {
		return fmt.Errorf("connect to destination: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("destination returned status %d", resp.StatusCode)
	}

	return nil
}

// CreateFromURL asks the destination to scrape and import the recipe at
// recipeURL. Non-2xx statuses other than conflict are reported as a
// rejected Result, not an error; errors cover transport failures only.
func (c *Client) CreateFromURL(ctx context.Context, recipeURL string) (*Result, error) {
	payload := map[string]string{"url": recipeURL}

	resp, err := c.doJSON(ctx, http.MethodPost, "/api/recipes/create/url", payload)
	if err != nil {
		return nil, fmt.Errorf("create from url: %w", err)
	}
	defer resp.Body.Close()

	return c.classifyCreation(resp)
}

// CreateFromHTML submits pre-fetched page HTML for recipes the
// destination cannot scrape itself.
func (c *Client) CreateFromHTML(ctx context.Context, html string) (*Result, error) {
	payload := map[string]any{"data": html, "includeTags": true}

	resp, err := c.doJSON(ctx, http.MethodPost, "/api/recipes/create/html-or-json", payload)
	if err != nil {
		return nil, fmt.Errorf("create from html: %w", err)
	}
	defer resp.Body.Close()

	return c.classifyCreation(resp)
}

func (c *Client) classifyCreation(resp *http.Response) (*Result, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var slug string
		if err := json.Unmarshal(body, &slug); err != nil {
			// Some endpoints wrap the slug in an object.
			var wrapped struct {
				Slug string `json:"slug"`
			}
			if err := json.Unmarshal(body, &wrapped); err == nil {
				slug = wrapped.Slug
			}
		}
		return &Result{Outcome: OutcomeCreated, Slug: slug}, nil
	case http.StatusAccepted:
		return &Result{Outcome: OutcomeQueued}, nil
	case http.StatusConflict:
		return &Result{Outcome: OutcomeAlreadyExists}, nil
	default:
		return &Result{Outcome: OutcomeRejected, Detail: errorExcerpt(resp.StatusCode, body)}, nil
	}
}

// GetRecipe fetches a recipe by slug.
func (c *Client) GetRecipe(ctx context.Context, slug string) (map[string]any, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/api/recipes/"+slug, nil)
	if err != nil {
		return nil, fmt.Errorf("get recipe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get recipe %q: status %d", slug, resp.StatusCode)
	}

	var recipe map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&recipe); err != nil {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}

	return recipe, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func errorExcerpt(status int, body []byte) string {
	excerpt := strings.TrimSpace(string(body))
	if len(excerpt) > maxErrorExcerpt {
		excerpt = excerpt[:maxErrorExcerpt]
	}

	return fmt.Sprintf("status %d: %s", status, excerpt)
}
