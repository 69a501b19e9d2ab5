package filter_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/recipeharvest/internal/filter"
	"github.com/jonesrussell/recipeharvest/internal/logger"
)

const testAllowlist = `
common:
  deny_regex:
    - "/wp-admin/"
    - "/tag/"
    - "/category/"
  deny_query_regex:
    - "[?&]replytocom="
sites:
  goodsite:
    allow_regex:
      - "/recipes?/"
    deny_regex:
      - "/recipes/collections/"
  denyonly:
    deny_regex:
      - "/about/"
`

func newTestManager(t *testing.T) *filter.Manager {
	t.Helper()

	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testAllowlist), 0o600))

	m := filter.NewManager(logger.NewNoOp())
	require.NoError(t, m.Load(path))

	m.RegisterSiteDomains("goodsite", []string{"goodsite.com"})

	return m
}

func TestIsValid_AllowPattern(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	require.True(t, m.IsValid("https://goodsite.com/recipe/pasta", "goodsite"))
	require.True(t, m.IsValid("https://goodsite.com/recipes/soup", "goodsite"))
	require.False(t, m.IsValid("https://goodsite.com/blog/pasta", "goodsite"))
}

func TestIsValid_DenyBeatsAllow(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	// Matches both the site allow and the site deny pattern; deny wins.
	require.False(t, m.IsValid("https://goodsite.com/recipes/collections/summer", "goodsite"))
}

func TestIsValid_CommonDenyBeatsSiteAllow(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	require.False(t, m.IsValid("https://goodsite.com/wp-admin/", "goodsite"))
	require.False(t, m.IsValid("https://goodsite.com/recipe/tag/easy", "goodsite"))
}

func TestIsValid_CommonDenyQuery(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	require.False(t, m.IsValid("https://goodsite.com/recipe/pasta?replytocom=42", "goodsite"))
}

func TestIsValid_UnknownSiteDefaultDeny(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	require.False(t, m.IsValid("https://unknownsite.com/recipe/pasta", "nosuchsite"))
	require.False(t, m.IsValid("https://unknownsite.com/recipe/pasta", ""))
}

func TestIsValid_SiteWithoutAllowPatternsDenies(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	require.False(t, m.IsValid("https://denyonly.com/recipe/pasta", "denyonly"))
}

func TestIsValid_ResolvesSiteKeyByDomain(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	require.True(t, m.IsValid("https://www.goodsite.com/recipe/pasta", ""))
	require.Equal(t, "goodsite", m.SiteKeyForURL("https://www.goodsite.com/recipe/x"))
}

func TestIsValid_NothingLoadedDeniesEverything(t *testing.T) {
	t.Parallel()

	m := filter.NewManager(logger.NewNoOp())

	require.False(t, m.IsValid("https://anything.com/recipe/pasta", "goodsite"))
}
