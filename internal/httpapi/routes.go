package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thanhkt275/rms-realtime/internal/metrics"
	"github.com/thanhkt275/rms-realtime/internal/realtime"
)

// SetupRoutes builds the diagnostic router for the demo binary.
func SetupRoutes(c *realtime.Client) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz(c))
	r.Get("/stats", Stats(c))
	r.Get("/connection", Connection(c))
	r.Handle("/metrics", metrics.Handler())
	return r
}
