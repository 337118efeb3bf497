package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/thanhkt275/rms-realtime/internal/realtime"
	"github.com/thanhkt275/rms-realtime/pkg/types"
)

// Healthz reports 200 while the socket is connected and 503 otherwise,
// so the connection indicator can be probed like any other service.
func Healthz(c *realtime.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := c.Info()
		if info.State == types.StateConnected {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(info)
	}
}

// Stats serves the traffic counter snapshot.
func Stats(c *realtime.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Stats())
	}
}

// Connection serves the connection lifecycle snapshot.
func Connection(c *realtime.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Info())
	}
}
