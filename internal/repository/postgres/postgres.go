package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.WorkloadRepository   = (*Repository)(nil)
	_ repository.CredentialRepository = (*Repository)(nil)
	_ repository.CatalogRepository    = (*Repository)(nil)
)

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrDuplicate
	}
	return err
}

// CreateWorkload inserts a workload row. A unique index on (owner_id, name)
// closes the check-then-act race in the provisioning validation step.
func (r *Repository) CreateWorkload(ctx context.Context, workload *domain.Workload) error {
	mappings, err := json.Marshal(workload.PortMappings)
	if err != nil {
		return fmt.Errorf("encode port mappings: %w", err)
	}
	const query = `INSERT INTO workloads (id, owner_id, catalog_ref, name, status, container_id, port_mappings, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.pool.Exec(ctx, query,
		workload.ID,
		workload.OwnerID,
		workload.CatalogRef,
		workload.Name,
		workload.Status,
		workload.ContainerID,
		mappings,
		workload.Config,
		workload.CreatedAt,
		workload.UpdatedAt,
	)
	if err != nil {
		return mapInsertError(err)
	}
	return nil
}

const workloadColumns = `id, owner_id, catalog_ref, name, status, container_id, port_mappings, config, created_at, updated_at`

func scanWorkload(row pgx.Row) (*domain.Workload, error) {
	var w domain.Workload
	var mappings []byte
	if err := row.Scan(&w.ID, &w.OwnerID, &w.CatalogRef, &w.Name, &w.Status, &w.ContainerID, &mappings, &w.Config, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &w.PortMappings); err != nil {
			return nil, fmt.Errorf("decode port mappings: %w", err)
		}
	}
	return &w, nil
}

// GetWorkloadByID fetches a workload by identifier.
func (r *Repository) GetWorkloadByID(ctx context.Context, id string) (*domain.Workload, error) {
	query := `SELECT ` + workloadColumns + ` FROM workloads WHERE id = $1`
	return scanWorkload(r.pool.QueryRow(ctx, query, id))
}

// GetWorkloadByOwnerAndName fetches a workload by its tenant-scoped name.
func (r *Repository) GetWorkloadByOwnerAndName(ctx context.Context, ownerID, name string) (*domain.Workload, error) {
	query := `SELECT ` + workloadColumns + ` FROM workloads WHERE owner_id = $1 AND name = $2`
	return scanWorkload(r.pool.QueryRow(ctx, query, ownerID, name))
}

// GetWorkloadByHostPort resolves the workload publishing the given host port.
func (r *Repository) GetWorkloadByHostPort(ctx context.Context, hostPort int) (*domain.Workload, error) {
	query := `SELECT ` + workloadColumns + ` FROM workloads, jsonb_array_elements(port_mappings) AS pm
		WHERE (pm->>'host_port')::int = $1 LIMIT 1`
	return scanWorkload(r.pool.QueryRow(ctx, query, hostPort))
}

// ListWorkloadsByOwner returns workloads owned by the tenant.
func (r *Repository) ListWorkloadsByOwner(ctx context.Context, ownerID string) ([]domain.Workload, error) {
	query := `SELECT ` + workloadColumns + ` FROM workloads WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workloads := make([]domain.Workload, 0)
	for rows.Next() {
		w, err := scanWorkload(rows)
		if err != nil {
			return nil, err
		}
		workloads = append(workloads, *w)
	}
	return workloads, rows.Err()
}

// UpdateWorkloadStatus transitions a workload's status.
func (r *Repository) UpdateWorkloadStatus(ctx context.Context, id, status string) error {
	const query = `UPDATE workloads SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteWorkload removes a workload row; credentials cascade at the
// storage layer.
func (r *Repository) DeleteWorkload(ctx context.Context, id string) error {
	const query = `DELETE FROM workloads WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
