package photos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maneesh/photomenu/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxImportBatch is the most sources a single Import accepts.
const MaxImportBatch = 10

// ImportFailure records one source that could not be imported.
type ImportFailure struct {
	Source string
	Err    error
}

// ImportResult is the outcome of a bulk import.
type ImportResult struct {
	Photos   []models.Photo // newest first, like the index
	Failures []ImportFailure
}

// WithImportRoot sets the directory Import may read from. Without one,
// Import refuses every batch.
func WithImportRoot(dir string) Option {
	return func(s *Service) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		s.importRoot = dir
	}
}

// Ingest optimizes source and saves the result. The optimizer's output file
// is removed once it has been copied.
func (s *Service) Ingest(ctx context.Context, source string) (models.Photo, error) {
	optimized, err := s.optimizer.Optimize(ctx, source)
	if err != nil {
		return models.Photo{}, fmt.Errorf("failed to optimize image: %w", err)
	}
	if optimized != source {
		defer func() {
			if err := os.Remove(optimized); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove optimizer output",
					slog.String("path", optimized),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	return s.Save(ctx, optimized)
}

// Import ingests several sources one after another. Sources must lie under
// the import root; relative ones are taken relative to it. A failing source
// is recorded and skipped. Cancellation stops the batch; sources not reached
// are reported as failures with the context error.
func (s *Service) Import(ctx context.Context, sources []string) (ImportResult, error) {
	ctx, span := tracer.Start(ctx, "photos.import",
		trace.WithAttributes(attribute.Int("source_count", len(sources))),
	)
	defer span.End()

	if len(sources) == 0 {
		return ImportResult{}, fmt.Errorf("%w: no sources to import", models.ErrInvalidInput)
	}
	if len(sources) > MaxImportBatch {
		return ImportResult{}, fmt.Errorf("%w: at most %d photos per import", models.ErrInvalidInput, MaxImportBatch)
	}
	if s.importRoot == "" {
		return ImportResult{}, fmt.Errorf("%w: imports are disabled", models.ErrInvalidInput)
	}

	var result ImportResult
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			for _, rest := range sources[i:] {
				result.Failures = append(result.Failures, ImportFailure{Source: rest, Err: err})
			}
			break
		}

		path, err := s.importSource(src)
		if err != nil {
			s.logger.Warn("import source refused",
				slog.String("source", src),
				slog.String("error", err.Error()),
			)
			result.Failures = append(result.Failures, ImportFailure{Source: src, Err: err})
			continue
		}

		photo, err := s.Ingest(ctx, path)
		if err != nil {
			s.logger.Error("error processing image",
				slog.String("source", src),
				slog.String("error", err.Error()),
			)
			result.Failures = append(result.Failures, ImportFailure{Source: src, Err: err})
			continue
		}
		result.Photos = append([]models.Photo{photo}, result.Photos...)
	}

	span.SetAttributes(
		attribute.Int("imported", len(result.Photos)),
		attribute.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// importSource resolves src inside the import root. The lexical check runs
// before the file system is touched, so paths outside the root fail the
// same way whether or not they exist. Symlinks are resolved and checked
// again.
func (s *Service) importSource(src string) (string, error) {
	if !filepath.IsAbs(src) {
		src = filepath.Join(s.importRoot, src)
	}
	src = filepath.Clean(src)
	if !within(s.importRoot, src) {
		return "", fmt.Errorf("%w: source is outside the import directory", models.ErrInvalidInput)
	}

	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %v", models.ErrNotFound, err)
		}
		return "", fmt.Errorf("failed to resolve import source: %w", err)
	}
	root, err := filepath.EvalSymlinks(s.importRoot)
	if err != nil {
		root = s.importRoot
	}
	if !within(root, resolved) {
		return "", fmt.Errorf("%w: source is outside the import directory", models.ErrInvalidInput)
	}
	return resolved, nil
}

// within reports whether p lies strictly below root.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
