// Package sources loads and validates recipe source configurations from
// sources.yaml. A source is immutable for the duration of a run.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoSources indicates no sources were found in the configuration.
	ErrNoSources = errors.New("no sources found in configuration")
	// ErrMissingKey indicates a source entry has no key.
	ErrMissingKey = errors.New("source missing required 'key' field")
)

// Source is a single configured recipe site.
type Source struct {
	Key         string    `mapstructure:"key"`
	Name        string    `mapstructure:"name"`
	BaseURL     string    `mapstructure:"base"`
	Tags        []string  `mapstructure:"tags"`
	Categories  []string  `mapstructure:"categories"`
	Discovery   Discovery `mapstructure:"discovery"`
	Enabled     bool      `mapstructure:"enabled"`
	// Domains is derived from BaseURL during validation.
	Domains []string `mapstructure:"-"`
}

// Discovery holds the explicit discovery endpoints a source may declare.
// All lists are optional; conventional paths are probed when empty.
type Discovery struct {
	FeedURLs    []string `mapstructure:"rss_candidates"`
	SitemapURLs []string `mapstructure:"sitemap_candidates"`
	ListingURLs []string `mapstructure:"listing_pages"`
}

// sourcesFile represents the structure of a sources YAML file.
type sourcesFile struct {
	Sites []map[string]any `yaml:"sites"`
}

// Load reads sources.yaml and returns the validated sources, enabled and
// disabled alike. The file is required; discovery of a missing file is a
// configuration failure.
func Load(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources config: %w", err)
	}

	var file sourcesFile
	if unmarshalErr := yaml.Unmarshal(data, &file); unmarshalErr != nil {
		return nil, fmt.Errorf("parse sources config: %w", unmarshalErr)
	}

	if len(file.Sites) == 0 {
		return nil, ErrNoSources
	}

	sources := make([]Source, 0, len(file.Sites))

	for i, raw := range file.Sites {
		source, convertErr := convert(raw)
		if convertErr != nil {
			return nil, fmt.Errorf("source %d: %w", i, convertErr)
		}

		sources = append(sources, source)
	}

	return sources, nil
}

// Enabled filters a source list down to the enabled entries.
func Enabled(all []Source) []Source {
	enabled := make([]Source, 0, len(all))

	for _, s := range all {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	return enabled
}

// convert decodes and validates one raw source entry.
func convert(raw map[string]any) (Source, error) {
	// Sources are enabled unless the file says otherwise.
	source := Source{Enabled: true}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &source})
	if err != nil {
		return Source{}, fmt.Errorf("create decoder: %w", err)
	}

	if decodeErr := decoder.Decode(raw); decodeErr != nil {
		return Source{}, fmt.Errorf("decode source: %w", decodeErr)
	}

	if validateErr := validate(&source); validateErr != nil {
		return Source{}, validateErr
	}

	return source, nil
}

// validate checks required fields and derives the source's domains.
func validate(s *Source) error {
	if s.Key == "" {
		return ErrMissingKey
	}

	if s.Name == "" {
		s.Name = s.Key
	}

	if s.BaseURL == "" {
		return fmt.Errorf("source %q: missing base URL", s.Key)
	}

	parsed, err := url.Parse(s.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("source %q: invalid base URL %q", s.Key, s.BaseURL)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("source %q: base URL must be http(s)", s.Key)
	}

	domain := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	s.Domains = []string{domain}

	return nil
}
