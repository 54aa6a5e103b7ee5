package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository"
)

const catalogColumns = `id, name, description, image, version, is_active, created_at, updated_at`

func scanCatalogEntry(row pgx.Row) (*domain.CatalogEntry, error) {
	var e domain.CatalogEntry
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Image, &e.Version, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// CreateCatalogEntry inserts a catalog entry.
func (r *Repository) CreateCatalogEntry(ctx context.Context, entry *domain.CatalogEntry) error {
	const query = `INSERT INTO catalog_entries (id, name, description, image, version, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.Name,
		entry.Description,
		entry.Image,
		entry.Version,
		entry.IsActive,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return mapInsertError(err)
	}
	return nil
}

// GetCatalogEntryByID fetches a catalog entry.
func (r *Repository) GetCatalogEntryByID(ctx context.Context, id string) (*domain.CatalogEntry, error) {
	query := `SELECT ` + catalogColumns + ` FROM catalog_entries WHERE id = $1`
	return scanCatalogEntry(r.pool.QueryRow(ctx, query, id))
}

// ListCatalogEntries returns every catalog entry.
func (r *Repository) ListCatalogEntries(ctx context.Context) ([]domain.CatalogEntry, error) {
	query := `SELECT ` + catalogColumns + ` FROM catalog_entries ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CatalogEntry, 0)
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// UpdateCatalogEntry updates mutable catalog fields.
func (r *Repository) UpdateCatalogEntry(ctx context.Context, entry *domain.CatalogEntry) error {
	const query = `UPDATE catalog_entries
		SET name = $2, description = $3, image = $4, version = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.Name,
		entry.Description,
		entry.Image,
		entry.Version,
		entry.IsActive,
	)
	if err != nil {
		return mapInsertError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteCatalogEntry removes a catalog entry.
func (r *Repository) DeleteCatalogEntry(ctx context.Context, id string) error {
	const query = `DELETE FROM catalog_entries WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
