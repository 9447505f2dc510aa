package handlers

import (
	"net/http"
	"time"

	commonhttp "x-auto-post-tool/internal/common/http"
	"x-auto-post-tool/internal/common/logging"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Breakers  map[string]string `json:"breakers"`
}

// HealthCheck pings the database and Redis and reports breaker states
// @Summary Health check
// @Description Reports each store as healthy or unhealthy; any unhealthy store makes the service degraded.
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now().UTC(),
		Services:  map[string]string{},
		Breakers:  map[string]string{},
	}

	for name, err := range h.service.Health(r.Context()) {
		if err != nil {
			h.logger.Warn("Health check failed", logging.String("dependency", name), logging.Err(err))
			resp.Services[name] = statusUnhealthy
			resp.Status = statusDegraded
			continue
		}
		resp.Services[name] = statusHealthy
	}

	for _, stats := range h.service.BreakerStats() {
		resp.Breakers[stats.Name] = stats.State
	}

	code := http.StatusOK
	if resp.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	commonhttp.WriteJSON(w, code, resp)
}

// GetTokenStatus reports whether the user can post without logging in again
// @Summary Token status
// @Tags auth
// @Produce json
// @Success 200 {object} tokenvault.Status
// @Failure 401 {object} commonhttp.ErrorResponse
// @Router /api/token/status [get]
func (h *Handlers) GetTokenStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.TokenStatus(r.Context(), userID(r))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, status)
}

// GetBreakers lists circuit breaker states
// @Summary Circuit breakers
// @Tags system
// @Produce json
// @Success 200 {array} circuitbreaker.Stats
// @Router /api/breakers [get]
func (h *Handlers) GetBreakers(w http.ResponseWriter, r *http.Request) {
	commonhttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": h.service.BreakerStats(),
	})
}

// GetCacheStats counts cached lookups per kind
// @Summary Cache statistics
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} commonhttp.ErrorResponse
// @Router /api/cache/stats [get]
func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.CacheStats(r.Context())
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries":   stats,
		"timestamp": time.Now().UTC(),
	})
}

// ClearCache drops cached lookups
// @Summary Clear cache
// @Tags system
// @Param type query string false "all, github or openai" default(all)
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} commonhttp.ErrorResponse
// @Router /api/cache/clear [post]
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "all"
	}

	cleared, err := h.service.ClearCache(r.Context(), kind)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	h.logger.WithContext(r.Context()).Info("Cache cleared by user",
		logging.String("user_id", userID(r)),
		logging.String("type", kind),
		logging.Int("cleared", cleared),
	)
	commonhttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"type":         kind,
		"cleared_keys": cleared,
		"timestamp":    time.Now().UTC(),
	})
}
