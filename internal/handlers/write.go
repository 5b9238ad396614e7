package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/maneesh/photomenu/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxUploadBytes caps the size of a single uploaded image.
const MaxUploadBytes = 25 << 20

// WriteHandler handles photo uploads
type WriteHandler struct {
	service    PhotoService
	scratchDir string
	logger     *slog.Logger
}

// NewWriteHandler creates a new write handler. Upload bodies are spooled to
// scratchDir before they are optimized and saved.
func NewWriteHandler(service PhotoService, scratchDir string, logger *slog.Logger) *WriteHandler {
	return &WriteHandler{service: service, scratchDir: scratchDir, logger: logger}
}

// WriteResponse represents the response for a write operation
type WriteResponse struct {
	Photo   models.Photo `json:"photo"`
	Message string       `json:"message"`
}

// ServeHTTP handles PUT /photos?name=<original file name>
func (wh *WriteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_photo",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing 'name' query parameter")
		return
	}
	span.SetAttributes(attribute.String("file_name", name))

	spooled, err := wh.spool(r.Body, name, w)
	if err != nil {
		span.RecordError(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to receive image")
		return
	}

	photo, err := wh.service.Ingest(ctx, spooled)
	os.Remove(spooled)
	if err != nil {
		span.RecordError(err)
		wh.logger.Error("failed to save uploaded photo",
			slog.String("file_name", name),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to save photo")
		return
	}

	span.SetAttributes(attribute.String("photo_id", photo.ID))
	writeJSON(w, http.StatusCreated, WriteResponse{
		Photo:   photo,
		Message: "Photo saved successfully",
	})
}

// spool writes the request body to a scratch file and returns its path.
func (wh *WriteHandler) spool(body io.ReadCloser, name string, w http.ResponseWriter) (string, error) {
	defer body.Close()

	if err := os.MkdirAll(wh.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(name))
	path := filepath.Join(wh.scratchDir, "upload-"+uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	_, err = io.Copy(f, http.MaxBytesReader(w, body, MaxUploadBytes))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// ImportHandler handles bulk imports of files already on the device
type ImportHandler struct {
	service PhotoService
	logger  *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(service PhotoService, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{service: service, logger: logger}
}

// ImportRequest lists local paths to import.
type ImportRequest struct {
	Sources []string `json:"sources"`
}

// ImportFailure is one source that was skipped.
type ImportFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// ImportResponse represents the response for an import
type ImportResponse struct {
	Photos   []models.Photo  `json:"photos"`
	Failures []ImportFailure `json:"failures"`
}

// importFailureMessage hides file system detail from callers. The full
// error is logged by the service.
func importFailureMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return "source is outside the import directory"
	case errors.Is(err, models.ErrNotFound):
		return "source not found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "import cancelled"
	default:
		return "could not import photo"
	}
}

// ServeHTTP handles POST /photos/import
func (ih *ImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "import_photos",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	var req ImportRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := ih.service.Import(ctx, req.Sources)
	if err != nil {
		span.RecordError(err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := ImportResponse{
		Photos:   result.Photos,
		Failures: make([]ImportFailure, 0, len(result.Failures)),
	}
	if resp.Photos == nil {
		resp.Photos = []models.Photo{}
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, ImportFailure{Source: f.Source, Error: importFailureMessage(f.Err)})
	}

	span.SetAttributes(
		attribute.Int("imported", len(resp.Photos)),
		attribute.Int("failed", len(resp.Failures)),
	)
	ih.logger.Info("import finished",
		slog.Int("imported", len(resp.Photos)),
		slog.Int("failed", len(resp.Failures)),
	)
	writeJSON(w, http.StatusOK, resp)
}
