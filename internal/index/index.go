// Package index keeps the ordered photo metadata list and the view-mode
// preference in a key-value substrate.
//
// The list is stored as one JSON document, newest first. Every mutation
// rewrites the whole document; there is no partial update.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maneesh/photomenu/internal/models"
	"github.com/maneesh/photomenu/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("photomenu-index")

// Index is the metadata index over a KV.
type Index struct {
	kv     storage.KV
	logger *slog.Logger
}

// New returns an index backed by kv.
func New(kv storage.KV, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{kv: kv, logger: logger}
}

// LoadAll returns the persisted records in stored order. A missing or
// undecodable document reads as an empty list; the next SaveAll replaces it.
// Substrate errors are returned.
func (x *Index) LoadAll(ctx context.Context) ([]models.Photo, error) {
	ctx, span := tracer.Start(ctx, "index.load_all")
	defer span.End()

	raw, err := x.kv.Get(ctx, models.PhotosKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return []models.Photo{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read photo index: %w", err)
	}
	if raw == "" {
		return []models.Photo{}, nil
	}

	var photos []models.Photo
	if err := json.Unmarshal([]byte(raw), &photos); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("corrupt", true))
		x.logger.Warn("photo index is corrupt, treating as empty",
			slog.String("key", models.PhotosKey),
			slog.String("error", err.Error()),
		)
		return []models.Photo{}, nil
	}
	if photos == nil {
		photos = []models.Photo{}
	}
	span.SetAttributes(attribute.Int("photo_count", len(photos)))
	return photos, nil
}

// SaveAll overwrites the persisted list.
func (x *Index) SaveAll(ctx context.Context, photos []models.Photo) error {
	ctx, span := tracer.Start(ctx, "index.save_all")
	defer span.End()
	span.SetAttributes(attribute.Int("photo_count", len(photos)))

	if photos == nil {
		photos = []models.Photo{}
	}
	data, err := json.Marshal(photos)
	if err != nil {
		return fmt.Errorf("failed to encode photo index: %w", err)
	}
	if err := x.kv.Set(ctx, models.PhotosKey, string(data)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to write photo index: %w", err)
	}
	return nil
}

// Preference returns the stored view mode, or the default when nothing valid
// is stored or the read fails.
func (x *Index) Preference(ctx context.Context) models.ViewMode {
	ctx, span := tracer.Start(ctx, "index.preference")
	defer span.End()

	raw, err := x.kv.Get(ctx, models.ViewModeKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			span.RecordError(err)
			x.logger.Error("failed to load view mode", slog.String("error", err.Error()))
		}
		return models.DefaultViewMode
	}
	mode := models.ViewMode(raw)
	if !mode.Valid() {
		x.logger.Warn("stored view mode is invalid, using default", slog.String("value", raw))
		return models.DefaultViewMode
	}
	return mode
}

// SetPreference stores the view mode.
func (x *Index) SetPreference(ctx context.Context, mode models.ViewMode) error {
	ctx, span := tracer.Start(ctx, "index.set_preference",
		trace.WithAttributes(attribute.String("view_mode", string(mode))),
	)
	defer span.End()

	if !mode.Valid() {
		return fmt.Errorf("%w: view mode %q", models.ErrInvalidInput, mode)
	}
	if err := x.kv.Set(ctx, models.ViewModeKey, string(mode)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to write view mode: %w", err)
	}
	return nil
}
