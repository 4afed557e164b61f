package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pagegrove/siteops/internal/siteops"
)

// Catalog reads the site and its indexable entities from the platform's
// catalog tables.
type Catalog struct {
	pool dbPool
}

// NewCatalog constructs a Catalog over an existing pool.
func NewCatalog(pool dbPool) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Catalog{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (c *Catalog) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

// Site loads the catalog-level site row.
func (c *Catalog) Site(ctx context.Context, siteID string) (siteops.Site, error) {
	query := `SELECT id, base_url, default_language, last_rebuilt_at FROM sites WHERE id = $1`
	var site siteops.Site
	err := c.pool.QueryRow(ctx, query, siteID).Scan(
		&site.ID,
		&site.BaseURL,
		&site.DefaultLanguage,
		&site.LastRebuiltAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return siteops.Site{}, siteops.ErrNotFound
	}
	if err != nil {
		return siteops.Site{}, fmt.Errorf("select site: %w", err)
	}
	return site, nil
}

// Books returns the site's book entries ordered by slug.
func (c *Catalog) Books(ctx context.Context, siteID string) ([]siteops.CatalogEntry, error) {
	return c.entries(ctx, "books", siteID)
}

// Authors returns the site's author entries ordered by slug.
func (c *Catalog) Authors(ctx context.Context, siteID string) ([]siteops.CatalogEntry, error) {
	return c.entries(ctx, "authors", siteID)
}

// Genres returns the site's genre entries ordered by slug.
func (c *Catalog) Genres(ctx context.Context, siteID string) ([]siteops.CatalogEntry, error) {
	return c.entries(ctx, "genres", siteID)
}

// entries runs the shared entity query. The table name is one of the
// three fixed catalog tables, never caller input.
func (c *Catalog) entries(ctx context.Context, table, siteID string) ([]siteops.CatalogEntry, error) {
	query := fmt.Sprintf(
		`SELECT slug, indexable, language, updated_at FROM %s WHERE site_id = $1 ORDER BY slug`,
		table,
	)
	rows, err := c.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var entries []siteops.CatalogEntry
	for rows.Next() {
		var entry siteops.CatalogEntry
		if err := rows.Scan(&entry.Slug, &entry.Indexable, &entry.Language, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return entries, nil
}
