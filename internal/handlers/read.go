package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/photomenu/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ListHandler returns the reconciled photo list
type ListHandler struct {
	service PhotoService
	logger  *slog.Logger
}

// NewListHandler creates a new list handler
func NewListHandler(service PhotoService, logger *slog.Logger) *ListHandler {
	return &ListHandler{service: service, logger: logger}
}

// ListResponse is the gallery payload.
type ListResponse struct {
	Photos   []models.Photo  `json:"photos"`
	ViewMode models.ViewMode `json:"viewMode"`
}

// ServeHTTP handles GET /photos
func (lh *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list_photos",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	list, err := lh.service.List(ctx)
	if err != nil {
		span.RecordError(err)
		lh.logger.Error("error loading photos", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load photos")
		return
	}

	span.SetAttributes(attribute.Int("photo_count", len(list)))
	writeJSON(w, http.StatusOK, ListResponse{
		Photos:   list,
		ViewMode: lh.service.ViewMode(ctx),
	})
}

// ReadHandler streams the stored bytes of one photo
type ReadHandler struct {
	service PhotoService
	logger  *slog.Logger
}

// NewReadHandler creates a new read handler
func NewReadHandler(service PhotoService, logger *slog.Logger) *ReadHandler {
	return &ReadHandler{service: service, logger: logger}
}

// ServeHTTP handles GET /photos/{id}/content
func (rh *ReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "read_photo",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing photo id in path")
		return
	}
	span.SetAttributes(attribute.String("photo_id", id))

	rc, photo, err := rh.service.Open(ctx, id)
	if err != nil {
		span.RecordError(err)
		writeError(w, statusFor(err), "photo not available")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("Content-Disposition", "inline; filename=\""+photo.FileName+"\"")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, rc)
	if err != nil {
		span.RecordError(err)
		rh.logger.Warn("photo stream interrupted",
			slog.String("photo_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	span.SetAttributes(attribute.Int64("size_bytes", n))
}

// DeleteHandler removes a photo
type DeleteHandler struct {
	service PhotoService
	logger  *slog.Logger
}

// NewDeleteHandler creates a new delete handler
func NewDeleteHandler(service PhotoService, logger *slog.Logger) *DeleteHandler {
	return &DeleteHandler{service: service, logger: logger}
}

// ServeHTTP handles DELETE /photos/{id}. Unknown ids also answer 204.
func (dh *DeleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_photo",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("photo_id", id))

	if err := dh.service.Delete(ctx, id); err != nil {
		span.RecordError(err)
		dh.logger.Error("error deleting photo",
			slog.String("photo_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete photo")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
