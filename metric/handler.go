package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus scrape handler for the registry. A nil
// registry yields 503 so a misconfigured mux fails loudly instead of serving
// an empty page.
func Handler(registry *MetricsRegistry) http.Handler {
	if registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics registry not configured", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(
		registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
}
