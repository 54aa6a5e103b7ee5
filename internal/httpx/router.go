// Package httpx exposes the control plane over HTTP: workload provisioning
// and lifecycle, credential management, the image catalog, lifecycle event
// websockets and the gateway-facing credential check.
package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/catalog"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/credential"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/events"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/provision"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	auth         TokenValidator
	provision    provision.Service
	credential   credential.Service
	catalog      catalog.Service
	events       events.Service
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	gatewayToken string
	dbHealth     func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	provisionTotal     *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateWindowRealtime   = 30 * time.Second
	rateLimitProvision   = 20
	rateLimitUserWrite   = 60
	rateLimitUserRead    = 120
	rateLimitWebsocket   = 30
	rateLimitGatewayAuth = 600
	healthCheckTimeout   = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, auth TokenValidator, provisionSvc provision.Service, credentialSvc credential.Service, catalogSvc catalog.Service, eventSvc events.Service, limiter RateLimiter, gatewayToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		auth:       auth,
		provision:  provisionSvc,
		credential: credentialSvc,
		catalog:    catalogSvc,
		events:     eventSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		gatewayToken: strings.TrimSpace(gatewayToken),
		dbHealth:     dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/v1/workloads", r.audit("/v1/workloads", r.handleWorkloads))
	r.mux.HandleFunc("/v1/workloads/", r.audit("/v1/workloads/{id}", r.handlerAuthRate("/v1/workloads/{id}", rateLimitUserWrite, rateWindowDefault, r.handleWorkloadSubroutes)))
	r.mux.HandleFunc("/v1/credentials/", r.audit("/v1/credentials/{id}", r.handlerAuthRate("/v1/credentials/{id}", rateLimitUserWrite, rateWindowDefault, r.handleCredentialByID)))
	r.mux.HandleFunc("/v1/catalog", r.audit("/v1/catalog", r.handlerAuthRate("/v1/catalog", rateLimitUserWrite, rateWindowDefault, r.handleCatalog)))
	r.mux.HandleFunc("/v1/catalog/", r.audit("/v1/catalog/{id}", r.handlerAuthRate("/v1/catalog/{id}", rateLimitUserWrite, rateWindowDefault, r.handleCatalogByID)))
	r.mux.HandleFunc("/ws/events", r.audit("/ws/events", r.handlerAuthRate("/ws/events", rateLimitWebsocket, rateWindowRealtime, r.handleEventsWS)))
	r.mux.HandleFunc("/internal/credentials/check", r.audit("/internal/credentials/check", r.handleCredentialCheck))
}

func (r *Router) handleWorkloads(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handlerAuthRate("/v1/workloads", rateLimitProvision, rateWindowDefault, r.handleProvision)(w, req)
	case http.MethodGet:
		r.handlerAuthRate("/v1/workloads", rateLimitUserRead, rateWindowDefault, r.handleWorkloadList)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProvision(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	var payload provision.Request
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.provision.Provision(req.Context(), identityFromInfo(info), payload)
	if err != nil {
		r.recordProvisionOutcome("failure")
		writeDomainError(w, err)
		return
	}
	r.recordProvisionOutcome("success")
	writeJSON(w, http.StatusCreated, result)
}

func (r *Router) handleWorkloadList(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	workloads, err := r.provision.List(req.Context(), info.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workloads": workloads})
}

func (r *Router) handleWorkloadSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/v1/workloads/")
	parts := strings.Split(trimmed, "/")
	workloadID := parts[0]
	if workloadID == "" {
		r.notFound(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	if len(parts) == 1 {
		r.handleWorkloadByID(w, req, info, workloadID)
		return
	}
	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "stop":
		r.handleWorkloadStop(w, req, info, workloadID)
	case "start":
		r.handleWorkloadStart(w, req, info, workloadID)
	case "logs":
		r.handleWorkloadLogs(w, req, info, workloadID)
	case "credentials":
		r.handleWorkloadCredentials(w, req, info, workloadID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleWorkloadByID(w http.ResponseWriter, req *http.Request, info authInfo, workloadID string) {
	switch req.Method {
	case http.MethodGet:
		workload, env, err := r.provision.Get(req.Context(), info.UserID, workloadID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"workload":    workload,
			"environment": env,
		})
	case http.MethodDelete:
		if err := r.provision.Delete(req.Context(), info.UserID, workloadID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleWorkloadStop(w http.ResponseWriter, req *http.Request, info authInfo, workloadID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	workload, err := r.provision.Stop(req.Context(), info.UserID, workloadID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workload)
}

func (r *Router) handleWorkloadStart(w http.ResponseWriter, req *http.Request, info authInfo, workloadID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	workload, err := r.provision.Start(req.Context(), info.UserID, workloadID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workload)
}

func (r *Router) handleWorkloadLogs(w http.ResponseWriter, req *http.Request, info authInfo, workloadID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tail, _ := strconv.Atoi(req.URL.Query().Get("tail"))
	logs, err := r.provision.Logs(req.Context(), info.UserID, workloadID, tail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (r *Router) handleWorkloadCredentials(w http.ResponseWriter, req *http.Request, info authInfo, workloadID string) {
	switch req.Method {
	case http.MethodGet:
		creds, err := r.credential.ListForWorkload(req.Context(), info.UserID, workloadID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		// Secret hashes stay server-side; only metadata goes out.
		out := make([]map[string]any, 0, len(creds))
		for _, c := range creds {
			out = append(out, map[string]any{
				"id":          c.ID,
				"workload_id": c.WorkloadID,
				"is_active":   c.IsActive,
				"created_at":  c.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"credentials": out})
	case http.MethodPost:
		issued, err := r.credential.Issue(req.Context(), info.UserID, workloadID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"credential_id": issued.Credential.ID,
			"workload_id":   issued.Credential.WorkloadID,
			"credential":    issued.Plaintext,
		})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCredentialByID(w http.ResponseWriter, req *http.Request) {
	credentialID := strings.TrimPrefix(req.URL.Path, "/v1/credentials/")
	if credentialID == "" || strings.Contains(credentialID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	if err := r.credential.Revoke(req.Context(), credentialID, info.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (r *Router) handleCatalog(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		entries, err := r.catalog.List(req.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	case http.MethodPost:
		var payload catalog.CreateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		entry, err := r.catalog.Create(req.Context(), payload)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCatalogByID(w http.ResponseWriter, req *http.Request) {
	entryID := strings.TrimPrefix(req.URL.Path, "/v1/catalog/")
	if entryID == "" || strings.Contains(entryID, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		entry, err := r.catalog.Get(req.Context(), entryID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodPatch, http.MethodPut:
		var payload catalog.UpdateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		entry, err := r.catalog.Update(req.Context(), entryID, payload)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodDelete:
		if err := r.catalog.Delete(req.Context(), entryID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	workloadID := req.URL.Query().Get("workload_id")
	if workloadID == "" {
		writeError(w, http.StatusBadRequest, "workload_id query parameter required")
		return
	}
	// Ownership gate before the upgrade; subscribers only see their own
	// workloads.
	if _, _, err := r.provision.Get(req.Context(), info.UserID, workloadID); err != nil {
		writeDomainError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.events.Hub().Register(workloadID, client)
	go func() {
		defer func() {
			r.events.Hub().Unregister(workloadID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// handleCredentialCheck is the gateway-facing validation endpoint. The
// gateway forwards the presented secret and the host port it was presented
// on; the response says whether that pair is acceptable.
func (r *Router) handleCredentialCheck(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyGatewayToken(w, req) {
		return
	}
	key := "gateway:" + rateLimitKeyIP(req)
	decision := r.limiter.Allow(key, rateLimitGatewayAuth, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitGatewayAuth, decision)
	if !decision.allowed {
		r.recordRateLimitHit("/internal/credentials/check", "gateway")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var payload struct {
		Credential string `json:"credential"`
		HostPort   int    `json:"host_port"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Credential == "" || payload.HostPort <= 0 {
		writeError(w, http.StatusBadRequest, "credential and host_port are required")
		return
	}
	cred, err := r.credential.ValidateForTarget(req.Context(), payload.Credential, payload.HostPort)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"credential_id": cred.ID,
		"workload_id":   cred.WorkloadID,
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if strings.HasPrefix(req.URL.Path, "/internal/") {
			actor = "gateway"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyGatewayToken ensures gateway calls include the shared secret.
func (r *Router) verifyGatewayToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.gatewayToken
	if expected == "" {
		r.logger.Error("gateway token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "gateway authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Gateway-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("gateway token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid gateway token")
		return false
	}
	return true
}

func (r *Router) mustAuthInfo(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return authInfo{}, false
	}
	return info, true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
