package runlog

import (
	"net/http"

	"github.com/thisdougb/runlog/internal/handlers"
	"github.com/thisdougb/runlog/internal/sink"
	"github.com/thisdougb/runlog/internal/storage"
)

// HealthHandler returns an HTTP handler that serves Dump as JSON
func (r *Run) HealthHandler() http.HandlerFunc {
	return handlers.HealthHandler(r.impl)
}

// StatusHandler returns UP while the run is open and DOWN with 503 once it
// is closed
func (r *Run) StatusHandler() http.HandlerFunc {
	return handlers.StatusHandler(r.impl)
}

// Handler serves /health and /status. When the run writes to a storage
// sink it also serves /series/{key...}, /keys and /runs/{run}/summary.
func (r *Run) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", r.HealthHandler())
	mux.HandleFunc("GET /status", r.StatusHandler())

	if manager := r.storage(); manager != nil {
		RegisterStorageHandlers(mux, manager)
	}
	return mux
}

// RegisterStorageHandlers adds the stored series routes to mux.
func RegisterStorageHandlers(mux *http.ServeMux, manager *storage.Manager) {
	mux.HandleFunc("GET /series/{key...}", handlers.SeriesHandler(manager))
	mux.HandleFunc("GET /keys", handlers.KeysHandler(manager))
	mux.HandleFunc("GET /runs/{run}/summary", handlers.SummaryHandler(manager))
}

func (r *Run) storage() *storage.Manager {
	for _, s := range r.impl.Sinks() {
		if st, ok := s.(*sink.Storage); ok {
			return st.Manager()
		}
	}
	return nil
}
