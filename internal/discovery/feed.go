package discovery

import (
	"context"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/jonesrussell/recipeharvest/internal/sources"
)

// commonFeedPaths are conventional paths probed when a source declares
// no feed URLs. Probing stops at the first existing path.
var commonFeedPaths = []string{
	"/feed",
	"/rss",
	"/feed.xml",
	"/rss.xml",
	"/atom.xml",
	"/feed/atom",
	"/index.xml",
}

// discoverFromFeeds runs the feed strategy: parse declared feed URLs, or
// probe conventional paths when none are declared.
func (e *Engine) discoverFromFeeds(
	ctx context.Context,
	source *sources.Source,
	remaining int,
) []Candidate {
	feedURLs := source.Discovery.FeedURLs
	if len(feedURLs) == 0 {
		if probed := e.probeFeedPath(ctx, source.BaseURL); probed != "" {
			feedURLs = []string{probed}
		}
	}

	var all []Candidate

	for _, feedURL := range feedURLs {
		all = append(all, e.parseFeed(ctx, feedURL, remaining-len(all))...)
		if len(all) >= remaining {
			break
		}
	}

	return all
}

// probeFeedPath returns the first conventional feed path that exists
// under the base URL, or an empty string.
func (e *Engine) probeFeedPath(ctx context.Context, baseURL string) string {
	for _, path := range commonFeedPaths {
		candidate := resolveURL(baseURL, path)
		if candidate == "" {
			continue
		}

		if e.client.Exists(ctx, candidate) {
			return candidate
		}
	}

	return ""
}

// parseFeed fetches and parses an RSS or Atom feed, returning up to
// limit entries with their best-available timestamps. Parse failures
// yield zero results.
func (e *Engine) parseFeed(ctx context.Context, feedURL string, limit int) []Candidate {
	e.log.Debug("parsing feed", "url", feedURL)

	resp, err := e.client.Get(ctx, feedURL)
	if err != nil {
		e.log.Warn("failed to fetch feed", "url", feedURL, "error", err.Error())
		return nil
	}

	parsed, parseErr := gofeed.NewParser().ParseString(resp.Body)
	if parseErr != nil {
		e.log.Warn("failed to parse feed", "url", feedURL, "error", parseErr.Error())
		return nil
	}

	candidates := make([]Candidate, 0, len(parsed.Items))

	for _, entry := range parsed.Items {
		if entry.Link == "" {
			continue
		}

		candidates = append(candidates, Candidate{
			URL:         entry.Link,
			PublishedAt: entryTimestamp(entry),
		})

		if len(candidates) >= limit {
			break
		}
	}

	e.log.Debug("feed entries found", "url", feedURL, "count", len(candidates))

	return candidates
}

// entryTimestamp returns the best-available timestamp for a feed entry:
// published, else updated, else nil.
func entryTimestamp(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed
	}

	return entry.UpdatedParsed
}
