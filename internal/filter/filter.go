// Package filter applies per-site allow/deny URL policy loaded from
// allowlist.yaml. The policy is default-deny: a URL passes only when its
// site declares an allow pattern matching it, and no deny pattern does.
package filter

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/recipeharvest/internal/logger"
	"github.com/jonesrussell/recipeharvest/internal/urlutil"
)

// allowlistFile mirrors the structure of allowlist.yaml.
type allowlistFile struct {
	Common struct {
		DenyRegex      []string `yaml:"deny_regex"`
		DenyQueryRegex []string `yaml:"deny_query_regex"`
	} `yaml:"common"`
	Sites map[string]siteRulesFile `yaml:"sites"`
}

// siteRulesFile holds the raw per-site pattern lists.
type siteRulesFile struct {
	AllowRegex []string `yaml:"allow_regex"`
	DenyRegex  []string `yaml:"deny_regex"`
}

// siteRules holds compiled per-site patterns.
type siteRules struct {
	allow []*regexp.Regexp
	deny  []*regexp.Regexp
}

// Manager evaluates URL filter policy.
type Manager struct {
	commonDeny      []*regexp.Regexp
	commonDenyQuery []*regexp.Regexp
	sites           map[string]*siteRules
	domainToSiteKey map[string]string
	log             logger.Interface
}

// NewManager creates a Manager with no rules loaded. Until rules are
// loaded every URL is rejected (default deny).
func NewManager(log logger.Interface) *Manager {
	return &Manager{
		sites:           make(map[string]*siteRules),
		domainToSiteKey: make(map[string]string),
		log:             log,
	}
}

// Load reads and compiles allowlist.yaml. Invalid patterns are logged
// and skipped rather than failing the load.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read allowlist: %w", err)
	}

	var file allowlistFile
	if unmarshalErr := yaml.Unmarshal(data, &file); unmarshalErr != nil {
		return fmt.Errorf("parse allowlist: %w", unmarshalErr)
	}

	m.commonDeny = m.compileAll("common deny", file.Common.DenyRegex)
	m.commonDenyQuery = m.compileAll("common deny query", file.Common.DenyQueryRegex)

	for siteKey, rules := range file.Sites {
		m.sites[siteKey] = &siteRules{
			allow: m.compileAll(siteKey+" allow", rules.AllowRegex),
			deny:  m.compileAll(siteKey+" deny", rules.DenyRegex),
		}
	}

	m.log.Info("loaded allowlist",
		"site_rules", len(m.sites),
		"common_deny", len(m.commonDeny),
	)

	return nil
}

// RegisterSiteDomains maps a site's domains to its key so that
// SiteKeyForURL can resolve URLs back to filter rules.
func (m *Manager) RegisterSiteDomains(siteKey string, domains []string) {
	for _, domain := range domains {
		m.domainToSiteKey[domain] = siteKey
	}
}

// SiteKeyForURL resolves the site key for a URL by its domain. Returns
// an empty string for unknown domains.
func (m *Manager) SiteKeyForURL(rawURL string) string {
	return m.domainToSiteKey[urlutil.Domain(rawURL)]
}

// IsValid reports whether a URL passes filter policy for the given site.
// Deny patterns are evaluated before allow patterns; a site without any
// matching allow pattern, a site with no rules, and an unknown site all
// reject. This default-deny policy is deliberate.
func (m *Manager) IsValid(rawURL, siteKey string) bool {
	if siteKey == "" {
		siteKey = m.SiteKeyForURL(rawURL)
	}

	for _, pattern := range m.commonDeny {
		if pattern.MatchString(rawURL) {
			m.log.Debug("denied by common pattern", "url", rawURL)
			return false
		}
	}

	for _, pattern := range m.commonDenyQuery {
		if pattern.MatchString(rawURL) {
			m.log.Debug("denied by common query pattern", "url", rawURL)
			return false
		}
	}

	rules, known := m.sites[siteKey]
	if siteKey == "" || !known {
		m.log.Debug("unknown site, denying", "url", rawURL)
		return false
	}

	for _, pattern := range rules.deny {
		if pattern.MatchString(rawURL) {
			m.log.Debug("denied by site pattern", "site", siteKey, "url", rawURL)
			return false
		}
	}

	for _, pattern := range rules.allow {
		if pattern.MatchString(rawURL) {
			return true
		}
	}

	m.log.Debug("no allow pattern matched", "site", siteKey, "url", rawURL)

	return false
}

// compileAll compiles patterns case-insensitively, logging and skipping
// any that fail.
func (m *Manager) compileAll(label string, patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))

	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			m.log.Warn("invalid regex, skipping",
				"rules", label,
				"pattern", pattern,
				"error", err.Error(),
			)
			continue
		}

		compiled = append(compiled, re)
	}

	return compiled
}
