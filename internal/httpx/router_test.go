package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/runtime/docker"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/catalog"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/credential"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/events"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/provision"
	"github.com/hashir-ayaz/container-service-cloud-platform/pkg/config"
)

const testToken = "valid-token"

type stubValidator struct{}

func (stubValidator) ValidateToken(_ context.Context, token string) (*domain.Identity, error) {
	if token != testToken {
		return nil, errors.New("invalid token")
	}
	return &domain.Identity{ID: "user-1", Email: "dev@example.com"}, nil
}

type memWorkloadRepo struct {
	byID   map[string]*domain.Workload
	byName map[string]*domain.Workload
}

func newMemWorkloadRepo() *memWorkloadRepo {
	return &memWorkloadRepo{
		byID:   make(map[string]*domain.Workload),
		byName: make(map[string]*domain.Workload),
	}
}

func (m *memWorkloadRepo) CreateWorkload(_ context.Context, w *domain.Workload) error {
	cp := *w
	m.byID[w.ID] = &cp
	m.byName[w.OwnerID+"/"+w.Name] = &cp
	return nil
}

func (m *memWorkloadRepo) GetWorkloadByID(_ context.Context, id string) (*domain.Workload, error) {
	w, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memWorkloadRepo) GetWorkloadByOwnerAndName(_ context.Context, ownerID, name string) (*domain.Workload, error) {
	w, ok := m.byName[ownerID+"/"+name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memWorkloadRepo) GetWorkloadByHostPort(_ context.Context, hostPort int) (*domain.Workload, error) {
	for _, w := range m.byID {
		for _, pm := range w.PortMappings {
			if pm.HostPort == hostPort {
				cp := *w
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memWorkloadRepo) ListWorkloadsByOwner(_ context.Context, ownerID string) ([]domain.Workload, error) {
	var out []domain.Workload
	for _, w := range m.byID {
		if w.OwnerID == ownerID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *memWorkloadRepo) UpdateWorkloadStatus(_ context.Context, id, status string) error {
	w, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	w.Status = status
	return nil
}

func (m *memWorkloadRepo) DeleteWorkload(_ context.Context, id string) error {
	w, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(m.byID, id)
	delete(m.byName, w.OwnerID+"/"+w.Name)
	return nil
}

type memCredentialRepo struct {
	creds map[string]*domain.Credential
}

func newMemCredentialRepo() *memCredentialRepo {
	return &memCredentialRepo{creds: make(map[string]*domain.Credential)}
}

func (m *memCredentialRepo) CreateCredential(_ context.Context, c *domain.Credential) error {
	cp := *c
	m.creds[c.ID] = &cp
	return nil
}

func (m *memCredentialRepo) GetCredentialByID(_ context.Context, id string) (*domain.Credential, error) {
	c, ok := m.creds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCredentialRepo) ListCredentialsByWorkload(_ context.Context, workloadID string) ([]domain.Credential, error) {
	var out []domain.Credential
	for _, c := range m.creds {
		if c.WorkloadID == workloadID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCredentialRepo) ListActiveCredentials(_ context.Context) ([]domain.Credential, error) {
	var out []domain.Credential
	for _, c := range m.creds {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCredentialRepo) ListActiveCredentialsByWorkload(_ context.Context, workloadID string) ([]domain.Credential, error) {
	var out []domain.Credential
	for _, c := range m.creds {
		if c.IsActive && c.WorkloadID == workloadID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCredentialRepo) DeactivateCredential(_ context.Context, id string) error {
	c, ok := m.creds[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsActive = false
	return nil
}

type memCatalogRepo struct {
	entries map[string]*domain.CatalogEntry
}

func newMemCatalogRepo() *memCatalogRepo {
	return &memCatalogRepo{entries: make(map[string]*domain.CatalogEntry)}
}

func (m *memCatalogRepo) CreateCatalogEntry(_ context.Context, e *domain.CatalogEntry) error {
	for _, existing := range m.entries {
		if existing.Name == e.Name {
			return repository.ErrDuplicate
		}
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memCatalogRepo) GetCatalogEntryByID(_ context.Context, id string) (*domain.CatalogEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memCatalogRepo) ListCatalogEntries(_ context.Context) ([]domain.CatalogEntry, error) {
	var out []domain.CatalogEntry
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out, nil
}

func (m *memCatalogRepo) UpdateCatalogEntry(_ context.Context, e *domain.CatalogEntry) error {
	if _, ok := m.entries[e.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memCatalogRepo) DeleteCatalogEntry(_ context.Context, id string) error {
	if _, ok := m.entries[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

type stubRuntime struct {
	startErr error
	removed  []string
}

func (s *stubRuntime) Start(_ context.Context, _ docker.StartSpec) (string, error) {
	if s.startErr != nil {
		return "", s.startErr
	}
	return "ctr-1", nil
}

func (s *stubRuntime) Stop(_ context.Context, _ string) error          { return nil }
func (s *stubRuntime) StartExisting(_ context.Context, _ string) error { return nil }

func (s *stubRuntime) Remove(_ context.Context, handle string, _ bool) error {
	s.removed = append(s.removed, handle)
	return nil
}

func (s *stubRuntime) Inspect(_ context.Context, _ string) (string, error) {
	return "running", nil
}

func (s *stubRuntime) Logs(_ context.Context, _ string, _ int) (string, error) {
	return "ready to accept connections\n", nil
}

type seqAllocator struct{ next int }

func (a *seqAllocator) Allocate(_ string, _ int, reserved map[int]struct{}) (int, error) {
	if a.next == 0 {
		a.next = 6100
	}
	for {
		port := a.next
		a.next++
		if _, taken := reserved[port]; !taken {
			return port, nil
		}
	}
}

type routerHarness struct {
	router      *Router
	server      *httptest.Server
	catalogRepo *memCatalogRepo
	runtime     *stubRuntime
	entryID     string
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	workloads := newMemWorkloadRepo()
	credRepo := newMemCredentialRepo()
	catalogRepo := newMemCatalogRepo()
	runtime := &stubRuntime{}

	eventSvc := events.New(nil, logger)
	catalogSvc := catalog.New(catalogRepo, logger)
	credentialSvc := credential.New(credRepo, workloads, logger)
	cfg := config.PlatformConfig{EnvEncryptionKey: "test-key", LogTailLines: 100}
	provisionSvc := provision.New(workloads, runtime, &seqAllocator{}, credentialSvc, catalogSvc, eventSvc, logger, cfg)

	entry, err := catalogSvc.Create(context.Background(), catalog.CreateInput{Name: "redis", Image: "redis", Version: "7.2"})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	router := NewRouter(logger, stubValidator{}, provisionSvc, credentialSvc, catalogSvc, eventSvc, nil, "gateway-secret", nil)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		router.Close()
	})
	return &routerHarness{
		router:      router,
		server:      server,
		catalogRepo: catalogRepo,
		runtime:     runtime,
		entryID:     entry.ID,
	}
}

func (h *routerHarness) do(t *testing.T, method, path string, body any, authed bool) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (h *routerHarness) provisionWorkload(t *testing.T, name string) (workloadID, credentialSecret string, hostPort int) {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/v1/workloads", map[string]any{
		"catalog_ref": h.entryID,
		"name":        name,
		"environment": map[string]string{"REDIS_ARGS": "--appendonly yes"},
		"ports":       []map[string]any{{"port": 6379}},
	}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("provision returned %d", resp.StatusCode)
	}
	var result struct {
		WorkloadID string               `json:"workload_id"`
		Credential string               `json:"credential"`
		Ports      []domain.PortMapping `json:"ports"`
	}
	decodeBody(t, resp, &result)
	if result.WorkloadID == "" || result.Credential == "" || len(result.Ports) != 1 {
		t.Fatalf("incomplete provision result: %+v", result)
	}
	return result.WorkloadID, result.Credential, result.Ports[0].HostPort
}

func TestRequiresAuthentication(t *testing.T) {
	h := newRouterHarness(t)

	resp := h.do(t, http.MethodGet, "/v1/workloads", nil, false)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestProvisionAndFetchWorkload(t *testing.T) {
	h := newRouterHarness(t)
	workloadID, _, _ := h.provisionWorkload(t, "cache")

	resp := h.do(t, http.MethodGet, "/v1/workloads/"+workloadID, nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get workload returned %d", resp.StatusCode)
	}
	var body struct {
		Workload    domain.Workload   `json:"workload"`
		Environment map[string]string `json:"environment"`
	}
	decodeBody(t, resp, &body)
	if body.Workload.Status != domain.WorkloadStatusRunning {
		t.Fatalf("expected running workload, got %q", body.Workload.Status)
	}
	if body.Environment["REDIS_ARGS"] != "--appendonly yes" {
		t.Fatalf("environment not returned: %v", body.Environment)
	}
}

func TestProvisionUnknownCatalogRefIs404(t *testing.T) {
	h := newRouterHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/workloads", map[string]any{
		"catalog_ref": "missing",
		"name":        "cache",
		"ports":       []map[string]any{{"port": 6379}},
	}, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProvisionValidationErrorIs400(t *testing.T) {
	h := newRouterHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/workloads", map[string]any{
		"catalog_ref": h.entryID,
		"name":        "cache",
	}, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without ports, got %d", resp.StatusCode)
	}
}

func TestWorkloadLifecycleRoutes(t *testing.T) {
	h := newRouterHarness(t)
	workloadID, _, _ := h.provisionWorkload(t, "cache")

	resp := h.do(t, http.MethodPost, "/v1/workloads/"+workloadID+"/stop", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop returned %d", resp.StatusCode)
	}
	var stopped domain.Workload
	decodeBody(t, resp, &stopped)
	if stopped.Status != domain.WorkloadStatusStopped {
		t.Fatalf("expected stopped, got %q", stopped.Status)
	}

	resp = h.do(t, http.MethodPost, "/v1/workloads/"+workloadID+"/start", nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d", resp.StatusCode)
	}

	resp = h.do(t, http.MethodGet, "/v1/workloads/"+workloadID+"/logs?tail=50", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs returned %d", resp.StatusCode)
	}
	var logs map[string]string
	decodeBody(t, resp, &logs)
	if logs["logs"] == "" {
		t.Fatal("expected log output")
	}

	resp = h.do(t, http.MethodDelete, "/v1/workloads/"+workloadID, nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete returned %d", resp.StatusCode)
	}
	resp = h.do(t, http.MethodGet, "/v1/workloads/"+workloadID, nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for deleted workload, got %d", resp.StatusCode)
	}
}

func TestCredentialCheckEndpoint(t *testing.T) {
	h := newRouterHarness(t)
	workloadID, secret, hostPort := h.provisionWorkload(t, "cache")

	// Missing gateway token.
	resp := h.do(t, http.MethodPost, "/internal/credentials/check", map[string]any{
		"credential": secret,
		"host_port":  hostPort,
	}, false)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without gateway token, got %d", resp.StatusCode)
	}

	// Valid check.
	body, _ := json.Marshal(map[string]any{"credential": secret, "host_port": hostPort})
	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/internal/credentials/check", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Gateway-Token", "gateway-secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("credential check: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("credential check returned %d", resp.StatusCode)
	}
	var check map[string]string
	decodeBody(t, resp, &check)
	if check["workload_id"] != workloadID {
		t.Fatalf("check resolved wrong workload: %v", check)
	}

	// Wrong secret.
	body, _ = json.Marshal(map[string]any{"credential": "wrong", "host_port": hostPort})
	req, err = http.NewRequest(http.MethodPost, h.server.URL+"/internal/credentials/check", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Gateway-Token", "gateway-secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("credential check: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", resp.StatusCode)
	}
}

func TestCredentialIssueAndRevokeRoutes(t *testing.T) {
	h := newRouterHarness(t)
	workloadID, _, _ := h.provisionWorkload(t, "cache")

	resp := h.do(t, http.MethodPost, "/v1/workloads/"+workloadID+"/credentials", nil, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue returned %d", resp.StatusCode)
	}
	var issued map[string]string
	decodeBody(t, resp, &issued)
	if issued["credential"] == "" || issued["credential_id"] == "" {
		t.Fatalf("incomplete issue response: %v", issued)
	}

	resp = h.do(t, http.MethodDelete, "/v1/credentials/"+issued["credential_id"], nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke returned %d", resp.StatusCode)
	}

	resp = h.do(t, http.MethodGet, "/v1/workloads/"+workloadID+"/credentials", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list credentials returned %d", resp.StatusCode)
	}
	var list struct {
		Credentials []struct {
			ID       string `json:"id"`
			IsActive bool   `json:"is_active"`
		} `json:"credentials"`
	}
	decodeBody(t, resp, &list)
	for _, c := range list.Credentials {
		if c.ID == issued["credential_id"] && c.IsActive {
			t.Fatal("revoked credential still active")
		}
	}
}

func TestCatalogRoutes(t *testing.T) {
	h := newRouterHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/catalog", map[string]any{
		"name":  "postgres",
		"image": "postgres",
	}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("catalog create returned %d", resp.StatusCode)
	}
	var created domain.CatalogEntry
	decodeBody(t, resp, &created)
	if created.Version != "latest" {
		t.Fatalf("expected defaulted version, got %q", created.Version)
	}

	resp = h.do(t, http.MethodGet, "/v1/catalog", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catalog list returned %d", resp.StatusCode)
	}
	var listed struct {
		Entries []domain.CatalogEntry `json:"entries"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(listed.Entries))
	}

	resp = h.do(t, http.MethodDelete, "/v1/catalog/"+created.ID, nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catalog delete returned %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	h := newRouterHarness(t)

	resp := h.do(t, http.MethodGet, "/healthz", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d", resp.StatusCode)
	}
	var payload map[string]any
	decodeBody(t, resp, &payload)
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
}
