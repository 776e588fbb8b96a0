// Package server assembles the two HTTP surfaces: the DLNA frontend
// (description, SOAP control, GENA eventing) on the bridge port and the
// control panel API on the web port.
package server

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unairplay/unairplay-go/internal/api"
	"github.com/unairplay/unairplay-go/internal/upnp"
	"github.com/unairplay/unairplay-go/internal/web"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("WEB: %s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// NewDLNAHandler builds the router control points talk to. No logging
// middleware here: SSDP-driven controllers poll aggressively and would flood
// the log.
func NewDLNAHandler(service *upnp.Service) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	service.RegisterRoutes(router)
	return router
}

// NewWebHandler builds the control panel router.
func NewWebHandler(panel *web.Server) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RecovererMiddleware)

	registerHealthRoutes(router)
	panel.RegisterRoutes(router)
	return router
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"service":   "unairplay",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}))
}
