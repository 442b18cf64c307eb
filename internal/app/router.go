// Package app wires the HTTP router and the long-running background
// services into a single process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/task-scheduler/internal/adapter/httpserver"
	"github.com/fairyhunter13/task-scheduler/internal/adapter/observability"
	"github.com/fairyhunter13/task-scheduler/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(api chi.Router) {
		// Mutating endpoints are rate limited per client IP.
		api.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			wr.Post("/tasks", srv.CreateTaskHandler())
			wr.Post("/tasks/batch", srv.CreateBatchHandler())
			wr.Post("/tasks/{id}/cancel", srv.CancelTaskHandler())
			wr.Post("/tasks/{id}/pause", srv.PauseTaskHandler())
			wr.Post("/tasks/{id}/resume", srv.ResumeTaskHandler())
			wr.Post("/tasks/{id}/retry", srv.RetryTaskHandler())
			wr.Post("/tasks/{id}/retry-now", srv.RetryNowTaskHandler())
			wr.Post("/references/{referenceID}/cancel", srv.CancelByReferenceHandler())
		})

		api.Get("/tasks", srv.SearchTasksHandler())
		api.Get("/tasks/stats", srv.StatsHandler())
		api.Get("/tasks/{id}", srv.GetTaskHandler())
		api.Get("/references/{referenceID}/tasks", srv.ListByReferenceHandler())
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
