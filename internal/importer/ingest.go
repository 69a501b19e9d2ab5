package importer

import (
	"context"

	"github.com/jonesrussell/recipeharvest/internal/discovery"
	"github.com/jonesrussell/recipeharvest/internal/ledger"
	"github.com/jonesrussell/recipeharvest/internal/mealie"
	"github.com/jonesrussell/recipeharvest/internal/sources"
	"github.com/jonesrussell/recipeharvest/internal/urlutil"
)

// ensureOrganizers provisions every tag and category named by any
// source before ingestion starts, so per-recipe attachment never has to
// create organizers mid-run.
func (imp *Importer) ensureOrganizers(ctx context.Context) error {
	imp.tagRefs = make(map[string]mealie.OrganizerRef)
	imp.categoryRefs = make(map[string]mealie.OrganizerRef)
	imp.sourceTagRefs = make(map[string]mealie.OrganizerRef)

	for i := range imp.sources {
		source := &imp.sources[i]

		// Every recipe is tagged with its source for traceability.
		sourceTag := "source:" + source.Key
		id, err := imp.dest.EnsureTag(ctx, sourceTag)
		if err != nil {
			return err
		}
		imp.sourceTagRefs[source.Key] = mealie.OrganizerRef{ID: id, Name: sourceTag}

		for _, name := range source.Tags {
			if _, ok := imp.tagRefs[name]; ok {
				continue
			}
			id, err := imp.dest.EnsureTag(ctx, name)
			if err != nil {
				return err
			}
			imp.tagRefs[name] = mealie.OrganizerRef{ID: id, Name: name}
		}

		for _, name := range source.Categories {
			if _, ok := imp.categoryRefs[name]; ok {
				continue
			}
			id, err := imp.dest.EnsureCategory(ctx, name)
			if err != nil {
				return err
			}
			imp.categoryRefs[name] = mealie.OrganizerRef{ID: id, Name: name}
		}
	}

	return nil
}

// ingest runs the two-phase ingestion for one URL: URL-based creation
// first, raw-HTML fallback on rejection. Every outcome is recorded in
// the ledger; failures update counters rather than aborting the run.
func (imp *Importer) ingest(ctx context.Context, url string, source *sources.Source, summary *Summary) {
	log := imp.log.With("source", source.Key, "url", url)
	domain := urlutil.Domain(url)

	if err := imp.store.MarkDiscovered(ctx, url, domain, source.Key); err != nil {
		log.Error("Failed to record discovery", "error", err)
	}

	result, err := imp.dest.CreateFromURL(ctx, url)
	if err != nil {
		// The raw-content path gets a chance on any URL-import
		// failure, transport errors included.
		log.Error("Destination request failed, trying raw content", "error", err)
		imp.ingestFallback(ctx, url, domain, source, err.Error(), summary)
		return
	}

	switch result.Outcome {
	case mealie.OutcomeCreated:
		imp.recordCreated(ctx, url, domain, source, result.Slug, ledger.StatusImported, summary)
		log.Info("Imported recipe", "slug", result.Slug)
	case mealie.OutcomeAlreadyExists:
		imp.recordExisting(ctx, url, domain, source.Key, summary)
		log.Info("Recipe already exists")
	case mealie.OutcomeQueued:
		imp.recordQueued(ctx, url, domain, source.Key, summary)
		log.Info("Import queued by destination")
	case mealie.OutcomeRejected:
		log.Info("URL import rejected, trying raw content", "detail", result.Detail)
		imp.ingestFallback(ctx, url, domain, source, result.Detail, summary)
	}
}

// ingestFallback fetches the page ourselves and submits its raw content
// when the destination could not scrape the URL.
func (imp *Importer) ingestFallback(ctx context.Context, url, domain string, source *sources.Source, rejectDetail string, summary *Summary) {
	log := imp.log.With("source", source.Key, "url", url)

	body, err := imp.fetcher.FetchPage(ctx, url)
	if err != nil {
		imp.recordFailure(ctx, url, domain, source.Key, rejectDetail+"; fetch failed: "+err.Error(), summary)
		log.Error("Fallback fetch failed", "error", err)
		return
	}

	// Pages with no recipe data at all are not worth submitting; the
	// destination would just reject them again.
	if !discovery.ContainsRecipeData(body) {
		imp.recordFailure(ctx, url, domain, source.Key, rejectDetail+"; page has no recipe data", summary)
		log.Info("Fallback skipped, no recipe data on page")
		return
	}

	hash := contentHash(body)

	result, err := imp.dest.CreateFromHTML(ctx, body)
	if err != nil {
		imp.recordFailure(ctx, url, domain, source.Key, "fallback: "+err.Error(), summary)
		log.Error("Fallback request failed", "error", err)
		return
	}

	switch result.Outcome {
	case mealie.OutcomeCreated:
		summary.Imported++
		params := ledger.ImportParams{
			URL:         url,
			Domain:      domain,
			SourceKey:   source.Key,
			Status:      ledger.StatusImportedFallback,
			RecipeRef:   strOrNil(result.Slug),
			ContentHash: strOrNil(hash),
		}
		if err := imp.store.RecordImport(ctx, params); err != nil {
			log.Error("Failed to record import", "error", err)
		}
		imp.attachOrganizers(ctx, result.Slug, source)
		log.Info("Imported recipe from raw content", "slug", result.Slug)
	case mealie.OutcomeAlreadyExists:
		imp.recordExisting(ctx, url, domain, source.Key, summary)
	case mealie.OutcomeQueued:
		imp.recordQueued(ctx, url, domain, source.Key, summary)
	case mealie.OutcomeRejected:
		imp.recordFailure(ctx, url, domain, source.Key, "fallback: "+result.Detail, summary)
		log.Info("Raw content rejected", "detail", result.Detail)
	}
}

func (imp *Importer) recordCreated(ctx context.Context, url, domain string, source *sources.Source, slug, status string, summary *Summary) {
	summary.Imported++

	params := ledger.ImportParams{
		URL:       url,
		Domain:    domain,
		SourceKey: source.Key,
		Status:    status,
		RecipeRef: strOrNil(slug),
	}
	if err := imp.store.RecordImport(ctx, params); err != nil {
		imp.log.Error("Failed to record import", "url", url, "error", err)
	}

	imp.attachOrganizers(ctx, slug, source)
}

func (imp *Importer) recordExisting(ctx context.Context, url, domain, sourceKey string, summary *Summary) {
	summary.Skipped++

	params := ledger.ImportParams{
		URL:       url,
		Domain:    domain,
		SourceKey: sourceKey,
		Status:    ledger.StatusImported,
	}
	if err := imp.store.RecordImport(ctx, params); err != nil {
		imp.log.Error("Failed to record import", "url", url, "error", err)
	}
}

func (imp *Importer) recordQueued(ctx context.Context, url, domain, sourceKey string, summary *Summary) {
	summary.Queued++

	params := ledger.ImportParams{
		URL:       url,
		Domain:    domain,
		SourceKey: sourceKey,
		Status:    ledger.StatusQueued,
	}
	if err := imp.store.RecordImport(ctx, params); err != nil {
		imp.log.Error("Failed to record import", "url", url, "error", err)
	}
}

func (imp *Importer) recordFailure(ctx context.Context, url, domain, sourceKey, detail string, summary *Summary) {
	summary.Failed++

	params := ledger.ImportParams{
		URL:       url,
		Domain:    domain,
		SourceKey: sourceKey,
		Status:    ledger.StatusFailed,
		LastError: strOrNil(detail),
	}
	if err := imp.store.RecordImport(ctx, params); err != nil {
		imp.log.Error("Failed to record failure", "url", url, "error", err)
	}
}

// attachOrganizers tags the freshly created recipe with the source's
// configured organizers. Attachment failures are logged, not fatal: the
// recipe itself is already imported.
func (imp *Importer) attachOrganizers(ctx context.Context, slug string, source *sources.Source) {
	if slug == "" {
		return
	}

	tags := make([]mealie.OrganizerRef, 0, len(source.Tags)+1)
	if ref, ok := imp.sourceTagRefs[source.Key]; ok {
		tags = append(tags, ref)
	}
	for _, name := range source.Tags {
		if ref, ok := imp.tagRefs[name]; ok {
			tags = append(tags, ref)
		}
	}

	categories := make([]mealie.OrganizerRef, 0, len(source.Categories))
	for _, name := range source.Categories {
		if ref, ok := imp.categoryRefs[name]; ok {
			categories = append(categories, ref)
		}
	}

	if err := imp.dest.AttachOrganizers(ctx, slug, tags, categories); err != nil {
		imp.log.Error("Failed to attach organizers", "slug", slug, "error", err)
	}
}
