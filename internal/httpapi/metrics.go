package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Synergyfy/latap-messaging/internal/metrics"
)

// mountMetrics registers the application collectors and exposes the scrape
// endpoint. Registration is idempotent, so building several routers in one
// process is fine.
func (s *Server) mountMetrics(r chi.Router) {
	metrics.MustRegister()
	r.Handle("/metrics", promhttp.Handler())
}
