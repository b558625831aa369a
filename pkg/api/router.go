// Package api serves the management HTTP endpoints: health probes for
// orchestrators and the Prometheus scrape target. The authentication
// protocol itself never touches HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outpost-games/authd/internal/logger"
	"github.com/outpost-games/authd/pkg/metrics"
)

// Probes supplies the readiness checks. Either field may be nil; a nil
// check is skipped.
type Probes struct {
	// CheckCredentials verifies the credential database is reachable.
	CheckCredentials func(ctx context.Context) error

	// SessionCount returns the number of live handshake sessions.
	SessionCount func() int
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /metrics - Prometheus scrape endpoint (when metrics enabled)
func NewRouter(probes Probes) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", liveness)
		r.Get("/ready", readiness(probes))
	})

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{},
		))
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// liveness handles GET /health. Succeeds as long as the HTTP server is
// responsive.
func liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthyResponse(map[string]string{
		"service": "authd",
	}))
}

// readiness handles GET /health/ready. Checks that the credential
// database answers and reports the live session count.
func readiness(probes Probes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if probes.CheckCredentials != nil {
			if err := probes.CheckCredentials(ctx); err != nil {
				JSON(w, http.StatusServiceUnavailable, UnhealthyResponse("credential store: "+err.Error()))
				return
			}
		}

		data := map[string]interface{}{}
		if probes.SessionCount != nil {
			data["active_sessions"] = probes.SessionCount()
		}
		JSON(w, http.StatusOK, HealthyResponse(data))
	}
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
