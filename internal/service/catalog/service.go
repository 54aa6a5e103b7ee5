package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository"
)

// Service manages the registry of deployable workload images.
type Service struct {
	entries repository.CatalogRepository
	logger  *slog.Logger
}

// New constructs a Service.
func New(entries repository.CatalogRepository, logger *slog.Logger) Service {
	return Service{entries: entries, logger: logger}
}

// CreateInput carries catalog entry creation parameters.
type CreateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Version     string `json:"version"`
	IsActive    *bool  `json:"is_active"`
}

// Create registers a new catalog entry.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.CatalogEntry, error) {
	name := strings.TrimSpace(input.Name)
	image := strings.TrimSpace(input.Image)
	if name == "" || image == "" {
		return nil, fmt.Errorf("%w: name and image are required", domain.ErrInvalidRequest)
	}
	version := strings.TrimSpace(input.Version)
	if version == "" {
		version = "latest"
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	now := time.Now().UTC()
	entry := &domain.CatalogEntry{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Image:       image,
		Version:     version,
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.entries.CreateCatalogEntry(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: catalog entry %q already exists", domain.ErrInvalidRequest, name)
		}
		return nil, err
	}
	s.logger.Info("catalog entry created", "entry_id", entry.ID, "name", entry.Name, "image", entry.Image)
	return entry, nil
}

// Get returns a catalog entry by id.
func (s Service) Get(ctx context.Context, id string) (*domain.CatalogEntry, error) {
	entry, err := s.entries.GetCatalogEntryByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrCatalogEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// Resolve returns the entry only if it is active, the form provisioning
// depends on.
func (s Service) Resolve(ctx context.Context, id string) (*domain.CatalogEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.IsActive {
		return nil, fmt.Errorf("%w: entry %s is inactive", domain.ErrCatalogEntryNotFound, id)
	}
	return entry, nil
}

// List returns every catalog entry.
func (s Service) List(ctx context.Context) ([]domain.CatalogEntry, error) {
	return s.entries.ListCatalogEntries(ctx)
}

// UpdateInput carries mutable catalog entry fields; nil means unchanged.
type UpdateInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Image       *string `json:"image"`
	Version     *string `json:"version"`
	IsActive    *bool   `json:"is_active"`
}

// Update applies partial changes to an entry.
func (s Service) Update(ctx context.Context, id string, input UpdateInput) (*domain.CatalogEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		entry.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		entry.Description = strings.TrimSpace(*input.Description)
	}
	if input.Image != nil {
		entry.Image = strings.TrimSpace(*input.Image)
	}
	if input.Version != nil {
		entry.Version = strings.TrimSpace(*input.Version)
	}
	if input.IsActive != nil {
		entry.IsActive = *input.IsActive
	}
	if entry.Name == "" || entry.Image == "" {
		return nil, fmt.Errorf("%w: name and image cannot be empty", domain.ErrInvalidRequest)
	}
	if err := s.entries.UpdateCatalogEntry(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: catalog entry %q already exists", domain.ErrInvalidRequest, entry.Name)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrCatalogEntryNotFound
		}
		return nil, err
	}
	s.logger.Info("catalog entry updated", "entry_id", entry.ID, "name", entry.Name)
	return entry, nil
}

// Delete removes an entry from the registry. Workloads already provisioned
// from it keep running; only new provisioning is affected.
func (s Service) Delete(ctx context.Context, id string) error {
	if err := s.entries.DeleteCatalogEntry(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrCatalogEntryNotFound
		}
		return err
	}
	s.logger.Info("catalog entry deleted", "entry_id", id)
	return nil
}
