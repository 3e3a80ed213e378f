package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/middleware"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/registry"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/router"
)

const maxAuditLimit = 1000

// RouteService routes messages and reports statistics.
type RouteService interface {
	Route(ctx context.Context, req domain.RouteRequest) (domain.RoutingDecision, error)
	Stats(ctx context.Context, since time.Duration) (router.Stats, error)
}

// RegistryService exposes the current snapshot and manual reloads.
type RegistryService interface {
	Snapshot() *registry.Snapshot
	Load(ctx context.Context) registry.LoadResult
}

// AuditQuerier reads recent audit records.
type AuditQuerier interface {
	Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error)
}

// HandlerDeps bundles the dependencies for the HTTP handlers. Audit is
// optional; without it GET /v1/audit answers 503.
type HandlerDeps struct {
	Router   RouteService
	Registry RegistryService
	Audit    AuditQuerier
	Version  string
}

type handlers struct {
	deps    HandlerDeps
	maxBody int64
	logger  *slog.Logger
}

func (h *handlers) route(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req domain.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, domain.CodeLimitReached,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid JSON body")
		return
	}

	d, err := h.deps.Router.Route(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type statsResponse struct {
	Since string `json:"since,omitempty"`
	router.Stats
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	var since time.Duration
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			middleware.WriteError(w, http.StatusBadRequest, domain.CodeInvalidInput, "since must be a positive duration such as 24h")
			return
		}
		since = d
	}
	s, err := h.deps.Router.Stats(r.Context(), since)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := statsResponse{Stats: s}
	if since > 0 {
		resp.Since = since.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type agentsResponse struct {
	Status   domain.LoadStatus    `json:"status"`
	Reason   string               `json:"reason,omitempty"`
	Source   string               `json:"source"`
	LoadedAt time.Time            `json:"loaded_at"`
	Agents   []domain.AgentStatus `json:"agents"`
}

func (h *handlers) agents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, snapshotResponse(h.deps.Registry.Snapshot()))
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	res := h.deps.Registry.Load(r.Context())
	if res.Fallback() {
		h.logger.Warn("manual registry reload fell back", "reason", res.Reason)
	}
	writeJSON(w, http.StatusOK, snapshotResponse(res.Snapshot))
}

func snapshotResponse(s *registry.Snapshot) agentsResponse {
	return agentsResponse{
		Status:   s.Status(),
		Reason:   s.Reason(),
		Source:   s.Source(),
		LoadedAt: s.LoadedAt(),
		Agents:   s.Statuses(),
	}
}

func (h *handlers) audit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audit == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, domain.CodeUnavailable, "audit log is disabled")
		return
	}
	q := r.URL.Query()
	filter := domain.AuditFilter{
		AgentID:  q.Get("agent"),
		CallerID: q.Get("caller"),
		Limit:    100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, domain.CodeInvalidInput, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxAuditLimit)
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, domain.CodeInvalidInput, "since must be a positive duration such as 24h")
			return
		}
		filter.Since = time.Now().Add(-d)
	}

	recs, err := h.deps.Audit.Query(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

type healthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Registry domain.LoadStatus `json:"registry"`
	Agents   int               `json:"enabled_agents"`
}

// health reports "degraded" while the registry runs on its built-in set.
func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	snap := h.deps.Registry.Snapshot()
	resp := healthResponse{
		Status:   "ok",
		Version:  h.deps.Version,
		Registry: snap.Status(),
		Agents:   len(snap.Enabled()),
	}
	if snap.Status() == domain.LoadStatusFallback {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrNoEnabledAgents),
		errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeDomainError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	code := domain.ErrorCodeOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	if errors.Is(err, domain.ErrConfiguration) {
		code = domain.CodeConfiguration
	}
	middleware.WriteError(w, status, code, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
