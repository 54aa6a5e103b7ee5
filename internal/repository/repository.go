package repository

import (
	"context"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
)

// WorkloadRepository persists workload records.
type WorkloadRepository interface {
	CreateWorkload(ctx context.Context, workload *domain.Workload) error
	GetWorkloadByID(ctx context.Context, id string) (*domain.Workload, error)
	GetWorkloadByOwnerAndName(ctx context.Context, ownerID, name string) (*domain.Workload, error)
	GetWorkloadByHostPort(ctx context.Context, hostPort int) (*domain.Workload, error)
	ListWorkloadsByOwner(ctx context.Context, ownerID string) ([]domain.Workload, error)
	UpdateWorkloadStatus(ctx context.Context, id, status string) error
	DeleteWorkload(ctx context.Context, id string) error
}

// CredentialRepository persists workload access credentials. Credential rows
// are cascade-deleted with their workload at the storage layer.
type CredentialRepository interface {
	CreateCredential(ctx context.Context, credential *domain.Credential) error
	GetCredentialByID(ctx context.Context, id string) (*domain.Credential, error)
	ListCredentialsByWorkload(ctx context.Context, workloadID string) ([]domain.Credential, error)
	ListActiveCredentials(ctx context.Context) ([]domain.Credential, error)
	ListActiveCredentialsByWorkload(ctx context.Context, workloadID string) ([]domain.Credential, error)
	DeactivateCredential(ctx context.Context, id string) error
}

// CatalogRepository manages the registry of deployable images.
type CatalogRepository interface {
	CreateCatalogEntry(ctx context.Context, entry *domain.CatalogEntry) error
	GetCatalogEntryByID(ctx context.Context, id string) (*domain.CatalogEntry, error)
	ListCatalogEntries(ctx context.Context) ([]domain.CatalogEntry, error)
	UpdateCatalogEntry(ctx context.Context, entry *domain.CatalogEntry) error
	DeleteCatalogEntry(ctx context.Context, id string) error
}
