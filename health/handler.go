package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the aggregated health of m as JSON. Checkers are refreshed
// on every request. An unhealthy aggregate answers 503.
func Handler(m *Monitor, system string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		m.Refresh()
		status := m.AggregateHealth(system)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})
}
