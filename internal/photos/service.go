// Package photos is the photo storage service. It keeps the blob store and
// the metadata index consistent with each other.
//
// The blob store is the truth for whether a photo exists; the index is the
// truth for order and metadata. Index entries whose blob disappeared are
// pruned lazily by List.
//
// All operations that touch the index run one at a time under a single
// service-wide lock, so overlapping callers cannot lose each other's writes.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maneesh/photomenu/internal/imaging"
	"github.com/maneesh/photomenu/internal/models"
	"github.com/maneesh/photomenu/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("photomenu-photos")

// maxNameAttempts bounds how often Save moves past an occupied blob name.
const maxNameAttempts = 3

// MetadataIndex is the ordered record list plus the view-mode preference.
type MetadataIndex interface {
	LoadAll(ctx context.Context) ([]models.Photo, error)
	SaveAll(ctx context.Context, photos []models.Photo) error
	Preference(ctx context.Context) models.ViewMode
	SetPreference(ctx context.Context, mode models.ViewMode) error
}

// Service composes a blob store and a metadata index.
type Service struct {
	blobs      storage.BlobStore
	index      MetadataIndex
	optimizer  imaging.Optimizer
	importRoot string
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	lastIssued int64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOptimizer sets the optimizer used by Ingest and Import. The default
// stores sources unchanged.
func WithOptimizer(o imaging.Optimizer) Option {
	return func(s *Service) { s.optimizer = o }
}

// NewService creates a new Service.
func NewService(blobs storage.BlobStore, index MetadataIndex, opts ...Option) *Service {
	s := &Service{
		blobs:     blobs,
		index:     index,
		optimizer: imaging.Passthrough{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save copies the image at source into the blob store and records it at
// the head of the index. Nothing is recorded if the copy fails.
func (s *Service) Save(ctx context.Context, source string) (models.Photo, error) {
	ctx, span := tracer.Start(ctx, "photos.save",
		trace.WithAttributes(attribute.String("source", source)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blobs.EnsureReady(ctx); err != nil {
		span.RecordError(err)
		return models.Photo{}, fmt.Errorf("failed to prepare photo store: %w", err)
	}

	records, err := s.index.LoadAll(ctx)
	if err != nil {
		span.RecordError(err)
		return models.Photo{}, err
	}

	ts := s.nextTimestamp(records)
	var locator string
	for attempt := 1; ; attempt++ {
		locator, err = s.blobs.Put(ctx, source, models.PhotoFileName(ts))
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrBlobExists) || attempt == maxNameAttempts {
			span.RecordError(err)
			return models.Photo{}, fmt.Errorf("failed to store photo: %w", err)
		}
		s.logger.Warn("blob name taken, moving to next timestamp",
			slog.String("file_name", models.PhotoFileName(ts)),
		)
		ts++
		s.lastIssued = ts
	}

	photo := models.NewPhoto(ts, locator)
	records = append([]models.Photo{photo}, records...)

	if err := s.index.SaveAll(ctx, records); err != nil {
		span.RecordError(err)
		// The blob has no entry now; try not to leave it behind.
		if rerr := s.blobs.Remove(ctx, locator); rerr != nil {
			s.logger.Warn("orphaned blob left after index write failure",
				slog.String("locator", locator),
				slog.String("error", rerr.Error()),
			)
		}
		return models.Photo{}, err
	}

	span.SetAttributes(attribute.String("photo_id", photo.ID))
	s.logger.Info("photo saved",
		slog.String("photo_id", photo.ID),
		slog.String("locator", photo.Locator),
	)
	return photo, nil
}

// List returns the index with entries whose blob is gone filtered out, in
// stored order. When anything was filtered the pruned list is written back.
// While the blob store is unreachable the index is returned as stored.
func (s *Service) List(ctx context.Context) ([]models.Photo, error) {
	ctx, span := tracer.Start(ctx, "photos.list")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.index.LoadAll(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Without an answer from the blob store nothing can be proven missing.
	if err := s.blobs.Reachable(ctx); err != nil {
		span.RecordError(err)
		s.logger.Warn("blob store unreachable, listing without reconciliation",
			slog.Int("photo_count", len(records)),
			slog.String("error", err.Error()),
		)
		return records, nil
	}

	valid := make([]models.Photo, 0, len(records))
	for _, p := range records {
		if s.blobs.Exists(ctx, p.Locator) {
			valid = append(valid, p)
			continue
		}
		s.logger.Info("pruning photo with missing blob",
			slog.String("photo_id", p.ID),
			slog.String("locator", p.Locator),
		)
	}

	pruned := len(records) - len(valid)
	span.SetAttributes(
		attribute.Int("photo_count", len(valid)),
		attribute.Int("pruned_count", pruned),
	)

	if pruned > 0 {
		// The filtered result is correct either way; a failed write-back
		// is retried by the next List.
		if err := s.index.SaveAll(ctx, valid); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to persist pruned photo index",
				slog.Int("pruned", pruned),
				slog.String("error", err.Error()),
			)
		}
	}

	return valid, nil
}

// Delete removes the photo's blob and its index entry. An unknown id is a
// no-op. Blob removal failures are logged and do not stop the index update.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "photos.delete",
		trace.WithAttributes(attribute.String("photo_id", id)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.index.LoadAll(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	pos := -1
	for i, p := range records {
		if p.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		span.SetAttributes(attribute.Bool("found", false))
		s.logger.Debug("delete of unknown photo ignored", slog.String("photo_id", id))
		return nil
	}

	target := records[pos]
	if err := s.blobs.Remove(ctx, target.Locator); err != nil {
		s.logger.Warn("could not delete photo file",
			slog.String("photo_id", id),
			slog.String("locator", target.Locator),
			slog.String("error", err.Error()),
		)
	}

	remaining := make([]models.Photo, 0, len(records)-1)
	for _, p := range records {
		if p.ID != id {
			remaining = append(remaining, p)
		}
	}
	if err := s.index.SaveAll(ctx, remaining); err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("photo deleted", slog.String("photo_id", id))
	return nil
}

// Open returns the stored bytes of a photo. models.ErrNotFound if the id is
// unknown or its blob is gone.
func (s *Service) Open(ctx context.Context, id string) (io.ReadCloser, models.Photo, error) {
	ctx, span := tracer.Start(ctx, "photos.open",
		trace.WithAttributes(attribute.String("photo_id", id)),
	)
	defer span.End()

	s.mu.Lock()
	records, err := s.index.LoadAll(ctx)
	s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		return nil, models.Photo{}, err
	}

	for _, p := range records {
		if p.ID != id {
			continue
		}
		rc, err := s.blobs.Open(ctx, p.Locator)
		if err != nil {
			return nil, models.Photo{}, err
		}
		return rc, p, nil
	}
	return nil, models.Photo{}, models.ErrNotFound
}

// ViewMode returns the stored display preference, grid by default.
func (s *Service) ViewMode(ctx context.Context) models.ViewMode {
	return s.index.Preference(ctx)
}

// SetViewMode stores the display preference. Failures are logged only;
// losing the preference is harmless.
func (s *Service) SetViewMode(ctx context.Context, mode models.ViewMode) {
	if err := s.index.SetPreference(ctx, mode); err != nil {
		s.logger.Error("error saving view mode",
			slog.String("view_mode", string(mode)),
			slog.String("error", err.Error()),
		)
	}
}

// ToggleViewMode flips between grid and list and returns the new mode.
func (s *Service) ToggleViewMode(ctx context.Context) models.ViewMode {
	next := s.ViewMode(ctx).Toggle()
	s.SetViewMode(ctx, next)
	return next
}

// nextTimestamp issues a creation time strictly greater than anything
// issued before or already in the index. Callers hold s.mu.
func (s *Service) nextTimestamp(records []models.Photo) int64 {
	floor := s.lastIssued
	for _, p := range records {
		if p.CreatedAt > floor {
			floor = p.CreatedAt
		}
	}
	ts := s.now().UnixMilli()
	if ts <= floor {
		ts = floor + 1
	}
	s.lastIssued = ts
	return ts
}
