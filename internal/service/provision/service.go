// Package provision orchestrates the workload provisioning saga: allocate
// host ports, start the container, persist the record, issue an access
// credential. The runtime and the store offer no shared transaction, so
// correctness rests on step ordering and the compensations applied when a
// step fails.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/runtime/docker"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/credential"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/events"
	"github.com/hashir-ayaz/container-service-cloud-platform/pkg/config"
	"github.com/hashir-ayaz/container-service-cloud-platform/pkg/crypto"
)

// Saga stages, in execution order.
const (
	StageValidating        = "validating"
	StageResolving         = "resolving"
	StagePortAllocating    = "port_allocating"
	StageRuntimeStarting   = "runtime_starting"
	StagePersisting        = "persisting"
	StageCredentialIssuing = "credential_issuing"
	StageComplete          = "complete"
)

// RuntimeClient is the runtime surface the saga drives.
type RuntimeClient interface {
	Start(ctx context.Context, spec docker.StartSpec) (string, error)
	Stop(ctx context.Context, handle string) error
	StartExisting(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string, force bool) error
	Inspect(ctx context.Context, handle string) (string, error)
	Logs(ctx context.Context, handle string, tail int) (string, error)
}

// PortAllocator hands out available host ports.
type PortAllocator interface {
	Allocate(tenantID string, offset int, reserved map[int]struct{}) (int, error)
}

// CredentialIssuer mints the access credential bound to a provisioned
// workload.
type CredentialIssuer interface {
	IssueForOwned(ctx context.Context, workload *domain.Workload) (*credential.Issued, error)
}

// CatalogResolver resolves a catalog reference to a runnable image.
type CatalogResolver interface {
	Resolve(ctx context.Context, id string) (*domain.CatalogEntry, error)
}

// Service runs provisioning and lifecycle sagas.
type Service struct {
	workloads repository.WorkloadRepository
	runtime   RuntimeClient
	allocator PortAllocator
	issuer    CredentialIssuer
	catalog   CatalogResolver
	events    events.Service
	logger    *slog.Logger
	cfg       config.PlatformConfig
}

// New constructs a Service.
func New(workloads repository.WorkloadRepository, runtime RuntimeClient, allocator PortAllocator, issuer CredentialIssuer, catalog CatalogResolver, eventSvc events.Service, logger *slog.Logger, cfg config.PlatformConfig) Service {
	return Service{
		workloads: workloads,
		runtime:   runtime,
		allocator: allocator,
		issuer:    issuer,
		catalog:   catalog,
		events:    eventSvc,
		logger:    logger,
		cfg:       cfg,
	}
}

// PortRequest asks for one container port to be published.
type PortRequest struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// Request carries provisioning parameters.
type Request struct {
	CatalogRef  string            `json:"catalog_ref"`
	Name        string            `json:"name"`
	Environment map[string]string `json:"environment"`
	Ports       []PortRequest     `json:"ports"`
}

// Result is returned on successful provisioning. Credential holds the
// plaintext secret, present only in this one response.
type Result struct {
	WorkloadID   string               `json:"workload_id"`
	Name         string               `json:"name"`
	Status       string               `json:"status"`
	Ports        []domain.PortMapping `json:"ports"`
	Environment  map[string]string    `json:"environment"`
	CredentialID string               `json:"credential_id"`
	Credential   string               `json:"credential"`
}

// Provision runs the full saga for one workload.
func (s Service) Provision(ctx context.Context, requester domain.Identity, req Request) (*Result, error) {
	// Validating.
	name := strings.TrimSpace(req.Name)
	if strings.TrimSpace(req.CatalogRef) == "" {
		return nil, fmt.Errorf("%w: catalog_ref is required", domain.ErrInvalidRequest)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	}
	if len(req.Ports) == 0 {
		return nil, fmt.Errorf("%w: at least one port mapping is required", domain.ErrInvalidRequest)
	}
	if _, err := s.workloads.GetWorkloadByOwnerAndName(ctx, requester.ID, name); err == nil {
		return nil, fmt.Errorf("%w: workload %q already exists", domain.ErrInvalidRequest, name)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}

	// Resolving.
	entry, err := s.catalog.Resolve(ctx, req.CatalogRef)
	if err != nil {
		return nil, err
	}
	image := imageRef(entry)

	// PortAllocating. Exhaustion aborts the whole request; a partial port
	// set is never handed to the runtime.
	reserved := make(map[int]struct{}, len(req.Ports))
	mappings := make([]domain.PortMapping, 0, len(req.Ports))
	for i, p := range req.Ports {
		if p.Port <= 0 {
			return nil, fmt.Errorf("%w: invalid container port %d", domain.ErrInvalidRequest, p.Port)
		}
		hostPort, err := s.allocator.Allocate(requester.ID, i, reserved)
		if err != nil {
			return nil, err
		}
		reserved[hostPort] = struct{}{}
		proto := strings.ToLower(strings.TrimSpace(p.Protocol))
		if proto == "" {
			proto = "tcp"
		}
		mappings = append(mappings, domain.PortMapping{
			ContainerPort: p.Port,
			HostPort:      hostPort,
			Protocol:      proto,
		})
	}

	workloadID := uuid.NewString()
	s.emit(workloadID, requester.ID, domain.WorkloadStatusPending, StageRuntimeStarting, "starting container")

	// RuntimeStarting. Nothing is persisted yet; a failure here needs no
	// compensation beyond what the runtime itself guarantees.
	startCtx, cancel := s.opContext(ctx)
	handle, err := s.runtime.Start(startCtx, docker.StartSpec{
		Name:  containerName(workloadID),
		Image: image,
		Env:   envSlice(req.Environment),
		Ports: mappings,
	})
	cancel()
	if err != nil {
		s.emit(workloadID, requester.ID, domain.WorkloadStatusFailed, StageRuntimeStarting, err.Error())
		return nil, err
	}

	// Persisting.
	encryptedEnv, err := s.encryptEnv(req.Environment)
	if err == nil {
		now := time.Now().UTC()
		workload := &domain.Workload{
			ID:           workloadID,
			OwnerID:      requester.ID,
			CatalogRef:   entry.ID,
			Name:         name,
			Status:       domain.WorkloadStatusRunning,
			ContainerID:  handle,
			PortMappings: mappings,
			Config:       encryptedEnv,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if persistErr := s.workloads.CreateWorkload(ctx, workload); persistErr != nil {
			err = persistErr
		} else {
			// CredentialIssuing.
			issued, issueErr := s.issuer.IssueForOwned(ctx, workload)
			if issueErr != nil {
				s.compensateStore(workloadID)
				s.compensateRuntime(workloadID, handle)
				s.emit(workloadID, requester.ID, domain.WorkloadStatusFailed, StageCredentialIssuing, issueErr.Error())
				return nil, issueErr
			}

			// Complete.
			s.emit(workloadID, requester.ID, domain.WorkloadStatusRunning, StageComplete, "workload provisioned")
			s.logger.Info("workload provisioned",
				"workload_id", workloadID,
				"owner_id", requester.ID,
				"catalog_ref", entry.ID,
				"container_id", handle,
			)
			return &Result{
				WorkloadID:   workloadID,
				Name:         name,
				Status:       workload.Status,
				Ports:        mappings,
				Environment:  req.Environment,
				CredentialID: issued.Credential.ID,
				Credential:   issued.Plaintext,
			}, nil
		}
	}

	// Persisting failed after the container started: remove the runtime
	// process before surfacing the error. An orphaned running process with
	// no record is the worst outcome this saga can produce.
	s.compensateRuntime(workloadID, handle)
	s.emit(workloadID, requester.ID, domain.WorkloadStatusFailed, StagePersisting, err.Error())
	return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
}

// Stop halts an owned workload: runtime action first, store update second.
func (s Service) Stop(ctx context.Context, requesterID, workloadID string) (*domain.Workload, error) {
	workload, err := s.authorize(ctx, requesterID, workloadID)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.runtime.Stop(opCtx, workload.ContainerID); err != nil {
		return nil, err
	}
	if err := s.workloads.UpdateWorkloadStatus(ctx, workload.ID, domain.WorkloadStatusStopped); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	workload.Status = domain.WorkloadStatusStopped
	s.emit(workload.ID, workload.OwnerID, workload.Status, "stopped", "workload stopped")
	return workload, nil
}

// Start resumes an owned, previously stopped workload.
func (s Service) Start(ctx context.Context, requesterID, workloadID string) (*domain.Workload, error) {
	workload, err := s.authorize(ctx, requesterID, workloadID)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.runtime.StartExisting(opCtx, workload.ContainerID); err != nil {
		return nil, err
	}
	if err := s.workloads.UpdateWorkloadStatus(ctx, workload.ID, domain.WorkloadStatusRunning); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	workload.Status = domain.WorkloadStatusRunning
	s.emit(workload.ID, workload.OwnerID, workload.Status, "started", "workload started")
	return workload, nil
}

// Delete tears down an owned workload. The runtime reporting the container
// already absent is fine; the store delete is unconditional once ownership
// is verified.
func (s Service) Delete(ctx context.Context, requesterID, workloadID string) error {
	workload, err := s.authorize(ctx, requesterID, workloadID)
	if err != nil {
		return err
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.runtime.Remove(opCtx, workload.ContainerID, true); err != nil {
		return err
	}
	if err := s.workloads.DeleteWorkload(ctx, workload.ID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	s.emit(workload.ID, workload.OwnerID, "deleted", "deleted", "workload deleted")
	s.logger.Info("workload deleted", "workload_id", workload.ID, "owner_id", workload.OwnerID)
	return nil
}

// Get returns an owned workload with its environment decrypted.
func (s Service) Get(ctx context.Context, requesterID, workloadID string) (*domain.Workload, map[string]string, error) {
	workload, err := s.authorize(ctx, requesterID, workloadID)
	if err != nil {
		return nil, nil, err
	}
	env, err := s.decryptEnv(workload.Config)
	if err != nil {
		s.logger.Warn("failed to decrypt workload environment", "workload_id", workload.ID, "error", err)
		env = nil
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if state, err := s.runtime.Inspect(opCtx, workload.ContainerID); err == nil {
		workload.RuntimeState = state
	}
	return workload, env, nil
}

// List returns the requester's workloads.
func (s Service) List(ctx context.Context, requesterID string) ([]domain.Workload, error) {
	return s.workloads.ListWorkloadsByOwner(ctx, requesterID)
}

// Logs tails container output for an owned workload.
func (s Service) Logs(ctx context.Context, requesterID, workloadID string, tail int) (string, error) {
	workload, err := s.authorize(ctx, requesterID, workloadID)
	if err != nil {
		return "", err
	}
	if tail <= 0 {
		tail = s.cfg.LogTailLines
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.runtime.Logs(opCtx, workload.ContainerID, tail)
}

// authorize loads the workload and enforces ownership before any mutation.
func (s Service) authorize(ctx context.Context, requesterID, workloadID string) (*domain.Workload, error) {
	workload, err := s.workloads.GetWorkloadByID(ctx, workloadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: workload %s not found", domain.ErrInvalidRequest, workloadID)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	if workload.OwnerID != requesterID {
		return nil, domain.ErrForbidden
	}
	return workload, nil
}

// compensateRuntime force-removes a container started by a saga that later
// failed. A compensation failure means a leaked process and is logged at
// high severity rather than hidden.
func (s Service) compensateRuntime(workloadID, handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runtimeTimeout())
	defer cancel()
	if err := s.runtime.Remove(ctx, handle, true); err != nil {
		s.logger.Error("compensation failed: runtime process may be orphaned",
			"workload_id", workloadID,
			"container_id", handle,
			"error", err,
		)
	}
}

// compensateStore deletes a workload row persisted by a saga that later
// failed.
func (s Service) compensateStore(workloadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runtimeTimeout())
	defer cancel()
	if err := s.workloads.DeleteWorkload(ctx, workloadID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("compensation failed: workload row may be orphaned",
			"workload_id", workloadID,
			"error", err,
		)
	}
}

func (s Service) emit(workloadID, ownerID, status, stage, message string) {
	s.events.Emit(domain.LifecycleEvent{
		WorkloadID: workloadID,
		OwnerID:    ownerID,
		Status:     status,
		Stage:      stage,
		Message:    message,
	})
}

func (s Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.runtimeTimeout())
}

func (s Service) runtimeTimeout() time.Duration {
	if s.cfg.RuntimeTimeout > 0 {
		return s.cfg.RuntimeTimeout
	}
	return 30 * time.Second
}

func (s Service) encryptEnv(env map[string]string) ([]byte, error) {
	if len(env) == 0 {
		return nil, nil
	}
	plain, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(s.cfg.EnvEncryptionKey, plain)
}

func (s Service) decryptEnv(blob []byte) (map[string]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	plain, err := crypto.Decrypt(s.cfg.EnvEncryptionKey, blob)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string)
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, err
	}
	return env, nil
}

func imageRef(entry *domain.CatalogEntry) string {
	if entry.Version == "" || strings.Contains(entry.Image, ":") {
		return entry.Image
	}
	return entry.Image + ":" + entry.Version
}

func containerName(workloadID string) string {
	return "wl-" + workloadID
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
