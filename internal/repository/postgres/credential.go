package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository"
)

const credentialColumns = `id, owner_id, workload_id, secret_hash, is_active, created_at`

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var c domain.Credential
	if err := row.Scan(&c.ID, &c.OwnerID, &c.WorkloadID, &c.SecretHash, &c.IsActive, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CreateCredential inserts a credential row.
func (r *Repository) CreateCredential(ctx context.Context, credential *domain.Credential) error {
	const query = `INSERT INTO credentials (id, owner_id, workload_id, secret_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		credential.ID,
		credential.OwnerID,
		credential.WorkloadID,
		credential.SecretHash,
		credential.IsActive,
		credential.CreatedAt,
	)
	if err != nil {
		return mapInsertError(err)
	}
	return nil
}

// GetCredentialByID fetches a credential by identifier.
func (r *Repository) GetCredentialByID(ctx context.Context, id string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	return scanCredential(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) listCredentials(ctx context.Context, query string, args ...any) ([]domain.Credential, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	credentials := make([]domain.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, *c)
	}
	return credentials, rows.Err()
}

// ListCredentialsByWorkload returns all credentials bound to a workload,
// active and revoked alike.
func (r *Repository) ListCredentialsByWorkload(ctx context.Context, workloadID string) ([]domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE workload_id = $1 ORDER BY created_at DESC`
	return r.listCredentials(ctx, query, workloadID)
}

// ListActiveCredentials returns every active credential.
func (r *Repository) ListActiveCredentials(ctx context.Context) ([]domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE is_active ORDER BY created_at DESC`
	return r.listCredentials(ctx, query)
}

// ListActiveCredentialsByWorkload returns active credentials for a workload.
func (r *Repository) ListActiveCredentialsByWorkload(ctx context.Context, workloadID string) ([]domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE workload_id = $1 AND is_active ORDER BY created_at DESC`
	return r.listCredentials(ctx, query, workloadID)
}

// DeactivateCredential marks a credential revoked while retaining the row.
func (r *Repository) DeactivateCredential(ctx context.Context, id string) error {
	const query = `UPDATE credentials SET is_active = FALSE WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
