// Package api serves popgate's admin HTTP API: job inspection and
// eviction, gateway statistics, health, and the DWP WebSocket endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/popgate/gateway"
)

// API wires the admin HTTP handlers together.
type API struct {
	gw     *gateway.Gateway
	dwp    http.Handler
	logger *slog.Logger
}

// New creates an API over gw. dwp serves GET /v1/dwp; nil leaves the
// route unmounted.
func New(gw *gateway.Gateway, dwp http.Handler, logger *slog.Logger) *API {
	return &API{gw: gw, dwp: dwp, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthz)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the /v1 routes into r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/{jobId}", a.getJob)
		r.Delete("/jobs/{jobId}", a.evictJob)
		r.Get("/stats", a.stats)
		if a.dwp != nil {
			r.Get("/dwp", a.dwp.ServeHTTP)
		}
	})
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("admin request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client gone
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
