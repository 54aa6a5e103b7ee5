// Package credential issues and validates workload access credentials.
// Only a salted hash of the secret is ever persisted; the plaintext is
// handed to the caller exactly once, at issuance.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository"
	"github.com/hashir-ayaz/container-service-cloud-platform/pkg/crypto"
)

const secretBytes = 32

// Service mints, validates and revokes workload credentials.
type Service struct {
	credentials repository.CredentialRepository
	workloads   repository.WorkloadRepository
	logger      *slog.Logger
}

// New constructs a Service.
func New(credentials repository.CredentialRepository, workloads repository.WorkloadRepository, logger *slog.Logger) Service {
	return Service{credentials: credentials, workloads: workloads, logger: logger}
}

// Issued pairs a stored credential with its one-time plaintext secret.
type Issued struct {
	Credential domain.Credential
	Plaintext  string
}

// Issue mints a credential bound to the workload. The requester must own
// the workload.
func (s Service) Issue(ctx context.Context, requesterID, workloadID string) (*Issued, error) {
	workload, err := s.workloads.GetWorkloadByID(ctx, workloadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: workload %s not found", domain.ErrInvalidRequest, workloadID)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialIssuance, err)
	}
	if workload.OwnerID != requesterID {
		return nil, domain.ErrForbidden
	}
	return s.IssueForOwned(ctx, workload)
}

// IssueForOwned mints a credential for a workload whose ownership has
// already been established, as during provisioning.
func (s Service) IssueForOwned(ctx context.Context, workload *domain.Workload) (*Issued, error) {
	plaintext, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialIssuance, err)
	}
	hash, err := crypto.HashSecret(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialIssuance, err)
	}
	cred := domain.Credential{
		ID:         uuid.NewString(),
		OwnerID:    workload.OwnerID,
		WorkloadID: workload.ID,
		SecretHash: hash,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.credentials.CreateCredential(ctx, &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialIssuance, err)
	}
	s.logger.Info("credential issued", "credential_id", cred.ID, "workload_id", workload.ID, "owner_id", workload.OwnerID)
	return &Issued{Credential: cred, Plaintext: plaintext}, nil
}

// Validate matches a presented secret against all active credentials.
func (s Service) Validate(ctx context.Context, plaintext string) (*domain.Credential, error) {
	candidates, err := s.credentials.ListActiveCredentials(ctx)
	if err != nil {
		return nil, err
	}
	return matchSecret(candidates, plaintext)
}

// ValidateForTarget matches a presented secret against the active
// credentials of the workload publishing the given host port. The match
// rejects secrets bound to some other workload even when otherwise valid.
func (s Service) ValidateForTarget(ctx context.Context, plaintext string, hostPort int) (*domain.Credential, error) {
	workload, err := s.workloads.GetWorkloadByHostPort(ctx, hostPort)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidCredential
		}
		return nil, err
	}
	candidates, err := s.credentials.ListActiveCredentialsByWorkload(ctx, workload.ID)
	if err != nil {
		return nil, err
	}
	return matchSecret(candidates, plaintext)
}

// Revoke deactivates a credential. The row survives for audit; it simply
// stops validating.
func (s Service) Revoke(ctx context.Context, credentialID, requesterID string) error {
	cred, err := s.credentials.GetCredentialByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: credential %s not found", domain.ErrInvalidRequest, credentialID)
		}
		return err
	}
	if cred.OwnerID != requesterID {
		return domain.ErrForbidden
	}
	if err := s.credentials.DeactivateCredential(ctx, credentialID); err != nil {
		return err
	}
	s.logger.Info("credential revoked", "credential_id", credentialID, "workload_id", cred.WorkloadID)
	return nil
}

// ListForWorkload returns credential metadata for an owned workload.
func (s Service) ListForWorkload(ctx context.Context, requesterID, workloadID string) ([]domain.Credential, error) {
	workload, err := s.workloads.GetWorkloadByID(ctx, workloadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: workload %s not found", domain.ErrInvalidRequest, workloadID)
		}
		return nil, err
	}
	if workload.OwnerID != requesterID {
		return nil, domain.ErrForbidden
	}
	return s.credentials.ListCredentialsByWorkload(ctx, workloadID)
}

func matchSecret(candidates []domain.Credential, plaintext string) (*domain.Credential, error) {
	for i := range candidates {
		if crypto.CompareSecret(candidates[i].SecretHash, plaintext) == nil {
			return &candidates[i], nil
		}
	}
	return nil, domain.ErrInvalidCredential
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
