package importer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/recipeharvest/internal/config"
	"github.com/jonesrussell/recipeharvest/internal/filter"
	"github.com/jonesrussell/recipeharvest/internal/importer"
	"github.com/jonesrussell/recipeharvest/internal/ledger"
	"github.com/jonesrussell/recipeharvest/internal/logger"
	"github.com/jonesrussell/recipeharvest/internal/mealie"
	"github.com/jonesrussell/recipeharvest/internal/sources"
)

// fakeDestination scripts per-URL outcomes and records every call.
type fakeDestination struct {
	outcomes     map[string]mealie.Outcome
	createErrs   map[string]error
	htmlOutcome  mealie.Outcome
	connectErr   error
	createCalls  []string
	htmlCalls    int
	ensureCalls  int
	attachedTags map[string][]mealie.OrganizerRef
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		outcomes:     make(map[string]mealie.Outcome),
		createErrs:   make(map[string]error),
		htmlOutcome:  mealie.OutcomeCreated,
		attachedTags: make(map[string][]mealie.OrganizerRef),
	}
}

func (d *fakeDestination) TestConnection(context.Context) error { return d.connectErr }

func (d *fakeDestination) CreateFromURL(_ context.Context, recipeURL string) (*mealie.Result, error) {
	d.createCalls = append(d.createCalls, recipeURL)

	if err := d.createErrs[recipeURL]; err != nil {
		return nil, err
	}

	outcome, ok := d.outcomes[recipeURL]
	if !ok {
		outcome = mealie.OutcomeCreated
	}
	if outcome == mealie.OutcomeCreated {
		return &mealie.Result{Outcome: outcome, Slug: "slug-" + filepath.Base(recipeURL)}, nil
	}

	return &mealie.Result{Outcome: outcome, Detail: "scrape failed"}, nil
}

func (d *fakeDestination) CreateFromHTML(context.Context, string) (*mealie.Result, error) {
	d.htmlCalls++
	if d.htmlOutcome == mealie.OutcomeCreated {
		return &mealie.Result{Outcome: mealie.OutcomeCreated, Slug: "fallback-slug"}, nil
	}

	return &mealie.Result{Outcome: d.htmlOutcome, Detail: "still no recipe"}, nil
}

func (d *fakeDestination) EnsureTag(_ context.Context, name string) (string, error) {
	d.ensureCalls++
	return "tag-" + name, nil
}

func (d *fakeDestination) EnsureCategory(_ context.Context, name string) (string, error) {
	d.ensureCalls++
	return "cat-" + name, nil
}

func (d *fakeDestination) AttachOrganizers(_ context.Context, slug string, tags, _ []mealie.OrganizerRef) error {
	d.attachedTags[slug] = tags
	return nil
}

// fakeDiscoverer returns a fixed candidate list per source key.
type fakeDiscoverer struct {
	candidates map[string][]string
}

func (f *fakeDiscoverer) Discover(_ context.Context, source *sources.Source, _ int) []string {
	return f.candidates[source.Key]
}

// fakeFetcher serves fixed page content.
type fakeFetcher struct {
	body string
	err  error
}

func (f *fakeFetcher) FetchPage(context.Context, string) (string, error) {
	return f.body, f.err
}

const testAllowlist = `
common:
  deny_regex:
    - "/wp-admin/"
sites:
  example:
    allow_regex:
      - "/recipes/"
    deny_regex:
      - "/recipes/roundup"
`

type fixture struct {
	imp     *importer.Importer
	dest    *fakeDestination
	store   *ledger.Store
	disc    *fakeDiscoverer
	fetcher *fakeFetcher
}

func newFixture(t *testing.T, caps config.ModeCaps) *fixture {
	t.Helper()

	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	allowlistPath := filepath.Join(t.TempDir(), "allowlist.yaml")
	require.NoError(t, os.WriteFile(allowlistPath, []byte(testAllowlist), 0o600))

	log := logger.NewNoOp()
	filters := filter.NewManager(log)
	require.NoError(t, filters.Load(allowlistPath))
	filters.RegisterSiteDomains("example", []string{"example.com"})

	dest := newFakeDestination()
	disc := &fakeDiscoverer{candidates: make(map[string][]string)}
	fetcher := &fakeFetcher{body: "<html>Ingredients: beans. Instructions: simmer.</html>"}

	src := []sources.Source{{
		Key:     "example",
		Name:    "Example Recipes",
		BaseURL: "https://example.com",
		Tags:    []string{"imported"},
		Enabled: true,
		Domains: []string{"example.com"},
	}}

	imp := importer.New(importer.Params{
		Sources:     src,
		Filter:      filters,
		Discoverer:  disc,
		Fetcher:     fetcher,
		Store:       store,
		Destination: dest,
		Caps:        caps,
		Logger:      log,
	})

	return &fixture{imp: imp, dest: dest, store: store, disc: disc, fetcher: fetcher}
}

func defaultCaps() config.ModeCaps { return config.ModeCaps{PerSite: 40, Total: 800} }

func TestRun_ImportsAndRecords(t *testing.T) {
	f := newFixture(t, defaultCaps())
	f.disc.candidates["example"] = []string{
		"https://example.com/recipes/soup",
		"https://example.com/recipes/stew",
	}

	summary, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 2, summary.Imported)
	assert.Zero(t, summary.Failed)
	assert.True(t, summary.Succeeded())

	done, err := f.store.IsImported(context.Background(), "https://example.com/recipes/soup")
	require.NoError(t, err)
	assert.True(t, done)

	run, err := f.store.LastRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 2, run.ImportedCount)
	assert.NotNil(t, run.CompletedAt)
}

func TestRun_SecondRunSkipsImported(t *testing.T) {
	f := newFixture(t, defaultCaps())
	f.disc.candidates["example"] = []string{"https://example.com/recipes/soup"}

	ctx := context.Background()

	_, err := f.imp.Run(ctx, importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)
	require.Len(t, f.dest.createCalls, 1)

	summary, err := f.imp.Run(ctx, importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Len(t, f.dest.createCalls, 1, "no new destination calls on second run")
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Imported)
}

func TestRun_ForceDomainRetriesImported(t *testing.T) {
	f := newFixture(t, defaultCaps())
	f.disc.candidates["example"] = []string{"https://example.com/recipes/soup"}

	ctx := context.Background()

	_, err := f.imp.Run(ctx, importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	summary, err := f.imp.Run(ctx, importer.Options{
		Mode:        ledger.ModeDelta,
		ForceDomain: "example.com",
	})
	require.NoError(t, err)

	assert.Len(t, f.dest.createCalls, 2, "forced domain bypasses the seen check")
	assert.Equal(t, 1, summary.Imported)

	records, recErr := f.store.URLsForDomain(ctx, "example.com")
	require.NoError(t, recErr)
	require.Len(t, records, 1)
	assert.False(t, records[0].NeedsReimport, "successful reattempt clears the flag")
}

func TestRun_ForceDomainStillFilters(t *testing.T) {
	f := newFixture(t, defaultCaps())
	f.disc.candidates["example"] = []string{"https://example.com/about"}

	summary, err := f.imp.Run(context.Background(), importer.Options{
		Mode:        ledger.ModeDelta,
		ForceDomain: "example.com",
	})
	require.NoError(t, err)

	assert.Empty(t, f.dest.createCalls, "filter policy applies even when forced")
	assert.Equal(t, 1, summary.Filtered)
}

func TestRun_ForcedURLSkipsSeenCheck(t *testing.T) {
	f := newFixture(t, defaultCaps())
	ctx := context.Background()

	require.NoError(t, f.store.RecordImport(ctx, ledger.ImportParams{
		URL: "https://example.com/recipes/soup", Domain: "example.com",
		SourceKey: "example", Status: ledger.StatusImported,
	}))

	summary, err := f.imp.Run(ctx, importer.Options{
		Mode:     ledger.ModeDelta,
		ForceURL: "https://example.com/recipes/soup",
	})
	require.NoError(t, err)

	assert.Len(t, f.dest.createCalls, 1, "forced URL ingests despite ledger state")
	assert.Equal(t, 1, summary.Imported)
}

func TestRun_FallbackOnRejection(t *testing.T) {
	f := newFixture(t, defaultCaps())
	url := "https://example.com/recipes/tricky"
	f.disc.candidates["example"] = []string{url}
	f.dest.outcomes[url] = mealie.OutcomeRejected

	summary, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Equal(t, 1, f.dest.htmlCalls)
	assert.Equal(t, 1, summary.Imported)

	records, err := f.store.URLsForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.StatusImportedFallback, records[0].Status)
	assert.Len(t, records[0].ContentHash.String, 16)
}

func TestRun_FallbackRejectionIsFailure(t *testing.T) {
	f := newFixture(t, defaultCaps())
	url := "https://example.com/recipes/hopeless"
	f.disc.candidates["example"] = []string{url}
	f.dest.outcomes[url] = mealie.OutcomeRejected
	f.dest.htmlOutcome = mealie.OutcomeRejected

	summary, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Succeeded())

	failures, err := f.store.RecentFailures(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].LastError.String, "fallback")
}

func TestRun_FallbackOnTransportError(t *testing.T) {
	f := newFixture(t, defaultCaps())
	url := "https://example.com/recipes/flaky"
	f.disc.candidates["example"] = []string{url}
	f.dest.createErrs[url] = errors.New("connection reset")

	summary, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Equal(t, 1, f.dest.htmlCalls, "transport errors still get the raw-content attempt")
	assert.Equal(t, 1, summary.Imported)
	assert.Zero(t, summary.Failed)

	records, recErr := f.store.URLsForDomain(context.Background(), "example.com")
	require.NoError(t, recErr)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.StatusImportedFallback, records[0].Status)
}

func TestRun_FailuresDoNotConsumeRunCap(t *testing.T) {
	f := newFixture(t, config.ModeCaps{PerSite: 40, Total: 1})
	bad := "https://example.com/recipes/broken"
	good := "https://example.com/recipes/works"
	f.disc.candidates["example"] = []string{bad, good}
	f.dest.outcomes[bad] = mealie.OutcomeRejected
	f.dest.htmlOutcome = mealie.OutcomeRejected
	f.dest.outcomes[good] = mealie.OutcomeCreated

	summary, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Len(t, f.dest.createCalls, 2, "a failed URL must not starve the rest of the run")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Imported)
}

func TestRun_FallbackSkipsPagesWithoutRecipeData(t *testing.T) {
	f := newFixture(t, defaultCaps())
	url := "https://example.com/recipes/empty"
	f.disc.candidates["example"] = []string{url}
	f.dest.outcomes[url] = mealie.OutcomeRejected
	f.fetcher.body = "<html>Nothing edible here.</html>"

	summary, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Zero(t, f.dest.htmlCalls, "pages without recipe data are not submitted")
	assert.Equal(t, 1, summary.Failed)
}

func TestRun_PerSiteCap(t *testing.T) {
	f := newFixture(t, config.ModeCaps{PerSite: 2, Total: 800})
	f.disc.candidates["example"] = []string{
		"https://example.com/recipes/a",
		"https://example.com/recipes/b",
		"https://example.com/recipes/c",
	}

	summary, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Len(t, f.dest.createCalls, 2)
	assert.Equal(t, 2, summary.Imported)
}

func TestRun_TotalCap(t *testing.T) {
	f := newFixture(t, config.ModeCaps{PerSite: 40, Total: 1})
	f.disc.candidates["example"] = []string{
		"https://example.com/recipes/a",
		"https://example.com/recipes/b",
	}

	summary, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	assert.Len(t, f.dest.createCalls, 1)
	assert.Equal(t, 1, summary.Imported)
}

func TestRun_DryRunCallsNothing(t *testing.T) {
	f := newFixture(t, defaultCaps())
	f.disc.candidates["example"] = []string{"https://example.com/recipes/soup"}

	summary, err := f.imp.Run(context.Background(), importer.Options{
		Mode:   ledger.ModeDelta,
		DryRun: true,
	})
	require.NoError(t, err)

	assert.Empty(t, f.dest.createCalls)
	assert.Zero(t, f.dest.ensureCalls)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Imported)

	done, err := f.store.IsImported(context.Background(), "https://example.com/recipes/soup")
	require.NoError(t, err)
	assert.False(t, done, "dry run leaves the ledger untouched")
}

func TestRun_ResetDomainClearsHistory(t *testing.T) {
	f := newFixture(t, defaultCaps())
	f.disc.candidates["example"] = []string{"https://example.com/recipes/soup"}

	ctx := context.Background()

	_, err := f.imp.Run(ctx, importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	summary, err := f.imp.Run(ctx, importer.Options{
		Mode:        ledger.ModeDelta,
		ResetDomain: "example.com",
	})
	require.NoError(t, err)

	assert.Len(t, f.dest.createCalls, 2, "reset history makes the URL fresh again")
	assert.Equal(t, 1, summary.Imported)
}

func TestRun_ConnectionFailureCompletesRunRecord(t *testing.T) {
	f := newFixture(t, defaultCaps())
	f.dest.connectErr = errors.New("destination unreachable")

	_, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.Error(t, err)

	run, lastErr := f.store.LastRun(context.Background())
	require.NoError(t, lastErr)
	require.NotNil(t, run)
	assert.NotNil(t, run.CompletedAt, "aborted run still finalizes its record")
	assert.Contains(t, run.ErrorMessage.String, "unreachable")
}

func TestRun_AttachesOrganizers(t *testing.T) {
	f := newFixture(t, defaultCaps())
	f.disc.candidates["example"] = []string{"https://example.com/recipes/soup"}

	_, err := f.imp.Run(context.Background(), importer.Options{Mode: ledger.ModeDelta})
	require.NoError(t, err)

	tags, ok := f.dest.attachedTags["slug-soup"]
	require.True(t, ok)
	require.Len(t, tags, 2)
	assert.Equal(t, "tag-source:example", tags[0].ID, "source tag attached first")
	assert.Equal(t, "tag-imported", tags[1].ID)
}

func TestRun_ForcedURLOutsideSourcesUsesUnknownKey(t *testing.T) {
	f := newFixture(t, defaultCaps())

	summary, err := f.imp.Run(context.Background(), importer.Options{
		Mode:     ledger.ModeDelta,
		ForceURL: "https://stranger.net/recipes/pie",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)

	records, recErr := f.store.URLsForDomain(context.Background(), "stranger.net")
	require.NoError(t, recErr)
	require.Len(t, records, 1)
	assert.Equal(t, "unknown", records[0].SourceKey.String)
}

func TestWriteRunLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "import.log")

	require.NoError(t, importer.WriteRunLog(path, &importer.Summary{RunID: 1, Mode: "delta", Imported: 3}))
	require.NoError(t, importer.WriteRunLog(path, &importer.Summary{RunID: 2, Mode: "delta", Imported: 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(string(data)))
	assert.Contains(t, string(data), `"run_id":1`)
}

func countLines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
