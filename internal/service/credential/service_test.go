package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository"
)

type fakeCredentialRepo struct {
	creds     map[string]*domain.Credential
	createErr error
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{creds: make(map[string]*domain.Credential)}
}

func (f *fakeCredentialRepo) CreateCredential(_ context.Context, c *domain.Credential) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *c
	f.creds[c.ID] = &cp
	return nil
}

func (f *fakeCredentialRepo) GetCredentialByID(_ context.Context, id string) (*domain.Credential, error) {
	c, ok := f.creds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCredentialRepo) ListCredentialsByWorkload(_ context.Context, workloadID string) ([]domain.Credential, error) {
	var out []domain.Credential
	for _, c := range f.creds {
		if c.WorkloadID == workloadID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCredentialRepo) ListActiveCredentials(_ context.Context) ([]domain.Credential, error) {
	var out []domain.Credential
	for _, c := range f.creds {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCredentialRepo) ListActiveCredentialsByWorkload(_ context.Context, workloadID string) ([]domain.Credential, error) {
	var out []domain.Credential
	for _, c := range f.creds {
		if c.IsActive && c.WorkloadID == workloadID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCredentialRepo) DeactivateCredential(_ context.Context, id string) error {
	c, ok := f.creds[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsActive = false
	return nil
}

type stubWorkloadRepo struct {
	workloads map[string]*domain.Workload
	byPort    map[int]*domain.Workload
}

func newStubWorkloadRepo() *stubWorkloadRepo {
	return &stubWorkloadRepo{
		workloads: make(map[string]*domain.Workload),
		byPort:    make(map[int]*domain.Workload),
	}
}

func (f *stubWorkloadRepo) CreateWorkload(_ context.Context, w *domain.Workload) error {
	f.workloads[w.ID] = w
	for _, pm := range w.PortMappings {
		f.byPort[pm.HostPort] = w
	}
	return nil
}

func (f *stubWorkloadRepo) GetWorkloadByID(_ context.Context, id string) (*domain.Workload, error) {
	w, ok := f.workloads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return w, nil
}

func (f *stubWorkloadRepo) GetWorkloadByOwnerAndName(_ context.Context, _, _ string) (*domain.Workload, error) {
	return nil, repository.ErrNotFound
}

func (f *stubWorkloadRepo) GetWorkloadByHostPort(_ context.Context, hostPort int) (*domain.Workload, error) {
	w, ok := f.byPort[hostPort]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return w, nil
}

func (f *stubWorkloadRepo) ListWorkloadsByOwner(_ context.Context, _ string) ([]domain.Workload, error) {
	return nil, nil
}

func (f *stubWorkloadRepo) UpdateWorkloadStatus(_ context.Context, _, _ string) error { return nil }
func (f *stubWorkloadRepo) DeleteWorkload(_ context.Context, _ string) error          { return nil }

func newTestService(t *testing.T) (Service, *fakeCredentialRepo, *stubWorkloadRepo) {
	t.Helper()
	creds := newFakeCredentialRepo()
	workloads := newStubWorkloadRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(creds, workloads, logger), creds, workloads
}

func seedWorkload(t *testing.T, repo *stubWorkloadRepo, id, ownerID string, hostPort int) *domain.Workload {
	t.Helper()
	w := &domain.Workload{
		ID:      id,
		OwnerID: ownerID,
		Name:    "wl-" + id,
		Status:  domain.WorkloadStatusRunning,
		PortMappings: []domain.PortMapping{
			{ContainerPort: 6379, HostPort: hostPort, Protocol: "tcp"},
		},
	}
	if err := repo.CreateWorkload(context.Background(), w); err != nil {
		t.Fatalf("seed workload: %v", err)
	}
	return w
}

func TestIssueAndValidate(t *testing.T) {
	svc, _, workloads := newTestService(t)
	seedWorkload(t, workloads, "wl-1", "user-1", 6100)

	issued, err := svc.Issue(context.Background(), "user-1", "wl-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Plaintext == "" {
		t.Fatal("expected plaintext secret")
	}
	if string(issued.Credential.SecretHash) == issued.Plaintext {
		t.Fatal("secret stored unhashed")
	}

	cred, err := svc.Validate(context.Background(), issued.Plaintext)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cred.ID != issued.Credential.ID {
		t.Fatalf("validated wrong credential: %s", cred.ID)
	}
}

func TestIssueForbiddenForNonOwner(t *testing.T) {
	svc, creds, workloads := newTestService(t)
	seedWorkload(t, workloads, "wl-1", "user-1", 6100)

	if _, err := svc.Issue(context.Background(), "user-2", "wl-1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(creds.creds) != 0 {
		t.Fatal("credential persisted despite forbidden request")
	}
}

func TestIssueStoreFailure(t *testing.T) {
	svc, creds, workloads := newTestService(t)
	seedWorkload(t, workloads, "wl-1", "user-1", 6100)
	creds.createErr = errors.New("connection refused")

	if _, err := svc.Issue(context.Background(), "user-1", "wl-1"); !errors.Is(err, domain.ErrCredentialIssuance) {
		t.Fatalf("expected ErrCredentialIssuance, got %v", err)
	}
}

func TestValidateRejectsUnknownSecret(t *testing.T) {
	svc, _, workloads := newTestService(t)
	seedWorkload(t, workloads, "wl-1", "user-1", 6100)
	if _, err := svc.Issue(context.Background(), "user-1", "wl-1"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Validate(context.Background(), "not-the-secret"); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestValidateForTargetScopesToWorkload(t *testing.T) {
	svc, _, workloads := newTestService(t)
	seedWorkload(t, workloads, "wl-1", "user-1", 6100)
	seedWorkload(t, workloads, "wl-2", "user-1", 6200)

	issued1, err := svc.Issue(context.Background(), "user-1", "wl-1")
	if err != nil {
		t.Fatalf("Issue wl-1: %v", err)
	}

	// Right secret, right target.
	cred, err := svc.ValidateForTarget(context.Background(), issued1.Plaintext, 6100)
	if err != nil {
		t.Fatalf("ValidateForTarget: %v", err)
	}
	if cred.WorkloadID != "wl-1" {
		t.Fatalf("matched wrong workload: %s", cred.WorkloadID)
	}

	// Valid secret, but bound to a different workload than the port.
	if _, err := svc.ValidateForTarget(context.Background(), issued1.Plaintext, 6200); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential for cross-workload secret, got %v", err)
	}

	// Unpublished port.
	if _, err := svc.ValidateForTarget(context.Background(), issued1.Plaintext, 7000); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential for unknown port, got %v", err)
	}
}

func TestRevokeDeactivatesButKeepsRow(t *testing.T) {
	svc, creds, workloads := newTestService(t)
	seedWorkload(t, workloads, "wl-1", "user-1", 6100)
	issued, err := svc.Issue(context.Background(), "user-1", "wl-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Revoke(context.Background(), issued.Credential.ID, "user-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	stored, ok := creds.creds[issued.Credential.ID]
	if !ok {
		t.Fatal("credential row deleted on revoke")
	}
	if stored.IsActive {
		t.Fatal("credential still active after revoke")
	}
	if _, err := svc.Validate(context.Background(), issued.Plaintext); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("revoked credential still validates: %v", err)
	}
}

func TestRevokeForbiddenForNonOwner(t *testing.T) {
	svc, _, workloads := newTestService(t)
	seedWorkload(t, workloads, "wl-1", "user-1", 6100)
	issued, err := svc.Issue(context.Background(), "user-1", "wl-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Revoke(context.Background(), issued.Credential.ID, "user-2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Validate(context.Background(), issued.Plaintext); err != nil {
		t.Fatalf("credential deactivated by non-owner: %v", err)
	}
}

func TestListForWorkloadRequiresOwnership(t *testing.T) {
	svc, _, workloads := newTestService(t)
	seedWorkload(t, workloads, "wl-1", "user-1", 6100)
	if _, err := svc.Issue(context.Background(), "user-1", "wl-1"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	list, err := svc.ListForWorkload(context.Background(), "user-1", "wl-1")
	if err != nil {
		t.Fatalf("ListForWorkload: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one credential, got %d", len(list))
	}
	if _, err := svc.ListForWorkload(context.Background(), "user-2", "wl-1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
