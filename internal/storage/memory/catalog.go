package memory

import (
	"context"
	"sync"

	"github.com/pagegrove/siteops/internal/siteops"
)

// Catalog is an in-memory catalog source, used in development and as the
// fixture for enumerator tests.
type Catalog struct {
	mu      sync.RWMutex
	sites   map[string]siteops.Site
	books   map[string][]siteops.CatalogEntry
	authors map[string][]siteops.CatalogEntry
	genres  map[string][]siteops.CatalogEntry
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		sites:   make(map[string]siteops.Site),
		books:   make(map[string][]siteops.CatalogEntry),
		authors: make(map[string][]siteops.CatalogEntry),
		genres:  make(map[string][]siteops.CatalogEntry),
	}
}

// PutSite registers or replaces a site.
func (c *Catalog) PutSite(site siteops.Site) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sites[site.ID] = site
}

// PutBooks replaces the book entries for a site.
func (c *Catalog) PutBooks(siteID string, entries []siteops.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[siteID] = append([]siteops.CatalogEntry(nil), entries...)
}

// PutAuthors replaces the author entries for a site.
func (c *Catalog) PutAuthors(siteID string, entries []siteops.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authors[siteID] = append([]siteops.CatalogEntry(nil), entries...)
}

// PutGenres replaces the genre entries for a site.
func (c *Catalog) PutGenres(siteID string, entries []siteops.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genres[siteID] = append([]siteops.CatalogEntry(nil), entries...)
}

// Site returns the site record.
func (c *Catalog) Site(_ context.Context, siteID string) (siteops.Site, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	site, ok := c.sites[siteID]
	if !ok {
		return siteops.Site{}, siteops.ErrNotFound
	}
	return site, nil
}

// Books returns the site's book entries.
func (c *Catalog) Books(_ context.Context, siteID string) ([]siteops.CatalogEntry, error) {
	return c.entries(c.books, siteID), nil
}

// Authors returns the site's author entries.
func (c *Catalog) Authors(_ context.Context, siteID string) ([]siteops.CatalogEntry, error) {
	return c.entries(c.authors, siteID), nil
}

// Genres returns the site's genre entries.
func (c *Catalog) Genres(_ context.Context, siteID string) ([]siteops.CatalogEntry, error) {
	return c.entries(c.genres, siteID), nil
}

func (c *Catalog) entries(m map[string][]siteops.CatalogEntry, siteID string) []siteops.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := m[siteID]
	out := make([]siteops.CatalogEntry, len(src))
	copy(out, src)
	return out
}
