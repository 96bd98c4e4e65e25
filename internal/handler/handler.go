package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
)

const (
	StatusPass = "pass"
	StatusFail = "fail"
)

// Health is the body served by the health endpoint.
type Health struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthHandler serves the /health endpoint of the reference service.
type HealthHandler struct {
	logger  *slog.Logger
	mutex   sync.Mutex
	healthy bool
}

func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		healthy: true,
	}
}

// IsHealthy returns true if the endpoint currently answers 200.
func (h *HealthHandler) IsHealthy() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.healthy
}

// SetHealthy updates the reported status.
// Returns true if the status changed, false if it was already in that state.
func (h *HealthHandler) SetHealthy(healthy bool) (changed bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.healthy == healthy {
		return false
	}

	h.healthy = healthy
	return true
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Received health request",
		slog.String("from", extractClientIP(r)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("user_agent", r.UserAgent()))

	if !h.IsHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, Health{Status: StatusFail})
		return
	}

	writeJSON(w, http.StatusOK, Health{Status: StatusPass})
}

// NotFound answers every unknown path.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, Health{Status: StatusFail, Error: "not found"})
}

func writeJSON(w http.ResponseWriter, code int, body Health) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
