// Package handlers exposes the photo storage service over HTTP for the
// gallery UI.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/maneesh/photomenu/internal/models"
	"github.com/maneesh/photomenu/internal/photos"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("photomenu-handlers")

// PhotoService is what the handlers need from the storage service.
type PhotoService interface {
	Ingest(ctx context.Context, source string) (models.Photo, error)
	Import(ctx context.Context, sources []string) (photos.ImportResult, error)
	List(ctx context.Context) ([]models.Photo, error)
	Open(ctx context.Context, id string) (io.ReadCloser, models.Photo, error)
	Delete(ctx context.Context, id string) error
	ViewMode(ctx context.Context) models.ViewMode
	SetViewMode(ctx context.Context, mode models.ViewMode)
	ToggleViewMode(ctx context.Context) models.ViewMode
}

var _ PhotoService = (*photos.Service)(nil)

// writeJSON sends a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write JSON response", slog.String("error", err.Error()))
	}
}

// writeError sends a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes the request body into the given destination.
func readJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
