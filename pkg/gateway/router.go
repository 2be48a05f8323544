package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mnemom/aip/pkg/observability"
)

// Router builds the top-level chi.Router serving every provider route
// plus health and metrics. CORS is permissive on purpose: the gateway
// is meant to be pointed at from arbitrary client environments (a
// notebook, a backend service, a browser-based agent harness) the
// operator does not control in advance.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "x-api-key", "x-goog-api-key", "anthropic-version"},
		ExposedHeaders:   []string{HeaderVerdict, HeaderAction, HeaderProceed, HeaderCheckpointID, HeaderCertificateID},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", g.handleHealthz)
	if g.deps.Metrics != nil {
		r.Handle("/metrics", g.deps.Metrics.Handler())
	}

	for name := range g.cfg.Providers {
		route := routePrefix(string(name))
		r.Mount(route, observability.WrapHandler(route, g.HandlerFor(name)))
	}

	return r
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	providers := make([]string, 0, len(g.cfg.Providers))
	for name := range g.cfg.Providers {
		providers = append(providers, string(name))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"providers": providers,
	})
}
