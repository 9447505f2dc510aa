package app

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"x-auto-post-tool/internal/handlers"
	"x-auto-post-tool/internal/server"
)

// Handler builds the application's HTTP handler.
func (app *App) Handler() http.Handler {
	h := handlers.New(app, app.Auth, app.Config.PublicURL, app.Logger)

	router := mux.NewRouter()
	hsts := app.Config.TLSCert != "" || strings.HasPrefix(app.Config.TwitterRedirectURI, "https://")
	SetupRoutes(router, h, app.Auth.RequireAuth, app.RateLimiter, hsts)
	return router
}

// NewServer creates the HTTP server for the application.
func (app *App) NewServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port, app.Config.TLSCert, app.Config.TLSKey)
}
