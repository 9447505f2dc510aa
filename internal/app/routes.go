package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"x-auto-post-tool/internal/handlers"
	"x-auto-post-tool/internal/middleware"
	"x-auto-post-tool/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, rateLimiter ratelimit.Limiter, hsts bool) {
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.SecurityHeaders(hsts))

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Login flow (no session yet)
	router.HandleFunc("/auth/login", h.HandleLogin).Methods("GET", "POST")
	router.HandleFunc("/auth/callback", h.HandleCallback).Methods("GET")
	router.Handle("/auth/logout", authMiddleware(http.HandlerFunc(h.HandleLogout))).Methods("POST")

	// Protected routes - require a session
	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/token/status", h.GetTokenStatus).Methods("GET")
	api.HandleFunc("/breakers", h.GetBreakers).Methods("GET")
	api.HandleFunc("/cache/stats", h.GetCacheStats).Methods("GET")
	api.HandleFunc("/cache/clear", h.ClearCache).Methods("POST")

	// posting spends the user's X and OpenAI quota, so it is budgeted per user
	post := http.Handler(http.HandlerFunc(h.HandleAutoPost))
	if rateLimiter != nil {
		post = ratelimit.HTTPMiddleware(rateLimiter, ratelimit.UserKey, nil)(post)
	}
	api.Handle("/autopost", post).Methods("POST")
}
