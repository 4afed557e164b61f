// Package enumerate turns a site's catalog into the ordered work list a
// job will process. Enumeration does no work itself; the same logic
// backs the preview operation, so a preview count always matches what a
// subsequent run would enumerate while the catalog is unchanged.
package enumerate

import (
	"context"
	"fmt"
	"strings"

	"github.com/pagegrove/siteops/internal/siteops"
)

// StaticRoutes is the fixed set of routes every full or incremental
// rebuild pre-renders in addition to the catalog entities.
var StaticRoutes = []string{"/", "/books", "/authors", "/genres", "/about"}

// CrawlEnumerator emits one absolute URL per catalog entity eligible for
// indexing, in book/author/genre order.
type CrawlEnumerator struct {
	catalog siteops.Catalog
}

// NewCrawl constructs a CrawlEnumerator over the given catalog.
func NewCrawl(catalog siteops.Catalog) *CrawlEnumerator {
	return &CrawlEnumerator{catalog: catalog}
}

// Enumerate lists the crawlable URLs for a site, deduplicated by URL and
// truncated to the job's max item budget.
func (e *CrawlEnumerator) Enumerate(ctx context.Context, siteID string, cfg siteops.JobConfig) ([]siteops.WorkItem, error) {
	if cfg.Crawl == nil {
		return nil, fmt.Errorf("crawl enumerator requires a crawl config")
	}
	site, err := e.catalog.Site(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	base := strings.TrimRight(site.BaseURL, "/")

	var items []siteops.WorkItem
	appendEntities := func(entries []siteops.CatalogEntry, category siteops.Category, prefix string) {
		for _, entry := range entries {
			if !entry.Indexable {
				continue
			}
			items = append(items, siteops.WorkItem{
				Key:      fmt.Sprintf("%s/%s/%s", base, prefix, entry.Slug),
				Category: category,
				Lang:     entryLanguage(entry, site),
			})
		}
	}

	books, err := e.catalog.Books(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	appendEntities(books, siteops.CategoryBook, "books")

	authors, err := e.catalog.Authors(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	appendEntities(authors, siteops.CategoryAuthor, "authors")

	genres, err := e.catalog.Genres(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	appendEntities(genres, siteops.CategoryGenre, "genres")

	items = dedupe(items)
	if maxItems := cfg.Crawl.MaxItems; maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// RebuildEnumerator emits the routes a rebuild job pre-renders: the
// static routes plus one route per eligible entity, scoped by mode.
type RebuildEnumerator struct {
	catalog siteops.Catalog
}

// NewRebuild constructs a RebuildEnumerator over the given catalog.
func NewRebuild(catalog siteops.Catalog) *RebuildEnumerator {
	return &RebuildEnumerator{catalog: catalog}
}

// Enumerate lists the routes for a rebuild. Specific mode restricts to
// the explicitly supplied slug lists and skips the static routes.
// Incremental mode restricts entities to those updated since the site's
// last recorded rebuild, falling back to a full sweep when none is
// recorded.
func (e *RebuildEnumerator) Enumerate(ctx context.Context, siteID string, cfg siteops.JobConfig) ([]siteops.WorkItem, error) {
	if cfg.Rebuild == nil {
		return nil, fmt.Errorf("rebuild enumerator requires a rebuild config")
	}
	site, err := e.catalog.Site(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}

	if cfg.Rebuild.Mode == siteops.RebuildSpecific {
		return dedupe(e.specificRoutes(site, *cfg.Rebuild)), nil
	}

	items := make([]siteops.WorkItem, 0, len(StaticRoutes))
	for _, route := range StaticRoutes {
		items = append(items, siteops.WorkItem{
			Key:      route,
			Category: siteops.CategoryStatic,
			Lang:     site.DefaultLanguage,
		})
	}

	incremental := cfg.Rebuild.Mode == siteops.RebuildIncremental && site.LastRebuiltAt != nil

	appendEntities := func(entries []siteops.CatalogEntry, category siteops.Category, prefix string) {
		for _, entry := range entries {
			if !entry.Indexable {
				continue
			}
			if incremental && !entry.UpdatedAt.After(*site.LastRebuiltAt) {
				continue
			}
			items = append(items, siteops.WorkItem{
				Key:      fmt.Sprintf("/%s/%s", prefix, entry.Slug),
				Category: category,
				Lang:     entryLanguage(entry, site),
			})
		}
	}

	books, err := e.catalog.Books(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	appendEntities(books, siteops.CategoryBook, "books")

	authors, err := e.catalog.Authors(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	appendEntities(authors, siteops.CategoryAuthor, "authors")

	genres, err := e.catalog.Genres(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	appendEntities(genres, siteops.CategoryGenre, "genres")

	return dedupe(items), nil
}

func (e *RebuildEnumerator) specificRoutes(site siteops.Site, cfg siteops.RebuildConfig) []siteops.WorkItem {
	items := make([]siteops.WorkItem, 0, len(cfg.BookSlugs)+len(cfg.AuthorSlugs)+len(cfg.GenreSlugs))
	appendSlugs := func(slugs []string, category siteops.Category, prefix string) {
		for _, slug := range slugs {
			items = append(items, siteops.WorkItem{
				Key:      fmt.Sprintf("/%s/%s", prefix, slug),
				Category: category,
				Lang:     site.DefaultLanguage,
			})
		}
	}
	appendSlugs(cfg.BookSlugs, siteops.CategoryBook, "books")
	appendSlugs(cfg.AuthorSlugs, siteops.CategoryAuthor, "authors")
	appendSlugs(cfg.GenreSlugs, siteops.CategoryGenre, "genres")
	return items
}

// Preview runs the enumeration and reduces it to counts. It shares the
// exact enumeration path with a run, so the numbers line up as long as
// the catalog does not change in between.
func Preview(ctx context.Context, enum siteops.Enumerator, siteID string, cfg siteops.JobConfig) (siteops.Preview, error) {
	items, err := enum.Enumerate(ctx, siteID, cfg)
	if err != nil {
		return siteops.Preview{}, err
	}
	preview := siteops.Preview{
		Total:      len(items),
		ByCategory: make(map[siteops.Category]int),
	}
	for _, item := range items {
		preview.ByCategory[item.Category]++
	}
	return preview, nil
}

// dedupe keeps the first occurrence of each key, preserving order.
func dedupe(items []siteops.WorkItem) []siteops.WorkItem {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item.Key]; ok {
			continue
		}
		seen[item.Key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func entryLanguage(entry siteops.CatalogEntry, site siteops.Site) string {
	if entry.Language != "" {
		return entry.Language
	}
	return site.DefaultLanguage
}
