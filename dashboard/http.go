package dashboard

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c360/streamview/series"
)

const maxFragmentBody = 1 << 20

// GraphsHandler serves the latest frame of every graph as JSON. Frames come
// from store when it holds one for a graph, otherwise the graph is rendered.
func GraphsHandler(d *Dashboard, store *FrameStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		graphs := d.Graphs()
		frames := make([]series.Frame, 0, len(graphs))
		for _, g := range graphs {
			if store != nil {
				if f, ok := store.Frame(g.ID()); ok {
					frames = append(frames, f)
					continue
				}
			}
			frames = append(frames, g.Render())
		}
		writeJSON(w, d.logger, frames)
	})
}

// FragmentHandler returns the dashboard fragment on GET and applies a
// posted fragment on POST.
func FragmentHandler(d *Dashboard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fragment, err := d.Fragment()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, d.logger, map[string]string{"fragment": fragment})
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, maxFragmentBody))
			if err != nil {
				http.Error(w, "read body", http.StatusBadRequest)
				return
			}
			if err := d.ApplyFragment(strings.TrimSpace(string(body))); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
