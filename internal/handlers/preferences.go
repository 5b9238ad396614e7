package handlers

import (
	"net/http"

	"github.com/maneesh/photomenu/internal/models"
)

// ViewModeHandler reads and writes the gallery layout preference
type ViewModeHandler struct {
	service PhotoService
}

// NewViewModeHandler creates a new view mode handler
func NewViewModeHandler(service PhotoService) *ViewModeHandler {
	return &ViewModeHandler{service: service}
}

// ViewModeBody is the request and response payload.
type ViewModeBody struct {
	ViewMode models.ViewMode `json:"viewMode"`
}

// ServeHTTP handles GET and PUT /preferences/view-mode
func (vh *ViewModeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ViewModeBody{ViewMode: vh.service.ViewMode(ctx)})
	case http.MethodPut:
		var body ViewModeBody
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !body.ViewMode.Valid() {
			writeError(w, http.StatusBadRequest, "viewMode must be 'grid' or 'list'")
			return
		}
		vh.service.SetViewMode(ctx, body.ViewMode)
		writeJSON(w, http.StatusOK, body)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ViewModeToggleHandler flips the gallery layout
type ViewModeToggleHandler struct {
	service PhotoService
}

// NewViewModeToggleHandler creates a new toggle handler
func NewViewModeToggleHandler(service PhotoService) *ViewModeToggleHandler {
	return &ViewModeToggleHandler{service: service}
}

// ServeHTTP handles POST /preferences/view-mode/toggle and answers with the
// new mode.
func (th *ViewModeToggleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ViewModeBody{ViewMode: th.service.ToggleViewMode(r.Context())})
}
