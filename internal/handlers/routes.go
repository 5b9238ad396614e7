package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter wires every route. All routes except /health are traced.
func NewRouter(service PhotoService, scratchDir string, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	traced := func(h http.Handler, op string) http.Handler {
		return otelhttp.NewHandler(h, op)
	}

	router.Handle("/photos", traced(NewListHandler(service, logger), "GET /photos")).Methods(http.MethodGet)
	router.Handle("/photos", traced(NewWriteHandler(service, scratchDir, logger), "PUT /photos")).Methods(http.MethodPut)
	router.Handle("/photos/import", traced(NewImportHandler(service, logger), "POST /photos/import")).Methods(http.MethodPost)
	router.Handle("/photos/{id}/content", traced(NewReadHandler(service, logger), "GET /photos/{id}/content")).Methods(http.MethodGet)
	router.Handle("/photos/{id}", traced(NewDeleteHandler(service, logger), "DELETE /photos/{id}")).Methods(http.MethodDelete)

	viewMode := traced(NewViewModeHandler(service), "/preferences/view-mode")
	router.Handle("/preferences/view-mode", viewMode).Methods(http.MethodGet, http.MethodPut)
	router.Handle("/preferences/view-mode/toggle",
		traced(NewViewModeToggleHandler(service), "POST /preferences/view-mode/toggle")).Methods(http.MethodPost)

	return router
}
