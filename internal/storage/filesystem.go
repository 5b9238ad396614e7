package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/maneesh/photomenu/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FileSystem stores blobs as plain files in a single directory. Locators are
// absolute file paths.
type FileSystem struct {
	root string
}

var _ BlobStore = &FileSystem{}

// NewFileSystem returns a store rooted at dir. The directory is not created
// until EnsureReady is called.
func NewFileSystem(dir string) (*FileSystem, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve photo dir: %w", err)
	}
	return &FileSystem{root: root}, nil
}

// Root returns the absolute directory holding the blobs.
func (s *FileSystem) Root() string {
	return s.root
}

// EnsureReady creates the photo directory, including parents.
func (s *FileSystem) EnsureReady(ctx context.Context) error {
	_, span := tracer.Start(ctx, "fs.ensure_ready",
		trace.WithAttributes(attribute.String("root", s.root)),
	)
	defer span.End()

	info, err := os.Stat(s.root)
	if err == nil {
		if !info.IsDir() {
			err = fmt.Errorf("photo dir %s is not a directory", s.root)
			span.RecordError(err)
			return err
		}
		return nil
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create photo dir: %w", err)
	}
	span.SetAttributes(attribute.Bool("created", true))
	return nil
}

// Put copies source into the directory. The bytes land in a scratch file
// first and are renamed into place, so a failed copy never leaves a partial
// blob under fileName.
func (s *FileSystem) Put(ctx context.Context, source, fileName string) (string, error) {
	_, span := tracer.Start(ctx, "fs.put",
		trace.WithAttributes(
			attribute.String("source", source),
			attribute.String("file_name", fileName),
		),
	)
	defer span.End()

	if fileName == "" || fileName != filepath.Base(fileName) || strings.HasPrefix(fileName, ".") {
		err := fmt.Errorf("%w: bad blob file name %q", models.ErrInvalidInput, fileName)
		span.RecordError(err)
		return "", err
	}

	dest := filepath.Join(s.root, fileName)
	if _, err := os.Lstat(dest); err == nil {
		err = fmt.Errorf("%w: %s", models.ErrBlobExists, fileName)
		span.RecordError(err)
		return "", err
	}

	in, err := os.Open(source)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	tmp := filepath.Join(s.root, ".tmp-"+uuid.NewString())
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to create blob: %w", err)
	}

	n, err := io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		os.Remove(tmp)
		span.RecordError(err)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	span.SetAttributes(attribute.Int64("size_bytes", n))
	return dest, nil
}

// Remove deletes the file at locator. Only files inside the root are
// touched, and a missing file is not an error.
func (s *FileSystem) Remove(ctx context.Context, locator string) error {
	_, span := tracer.Start(ctx, "fs.remove",
		trace.WithAttributes(attribute.String("locator", locator)),
	)
	defer span.End()

	if !s.owns(locator) {
		err := fmt.Errorf("%w: locator %s is outside %s", models.ErrInvalidInput, locator, s.root)
		span.RecordError(err)
		return err
	}

	err := os.Remove(locator)
	if errors.Is(err, os.ErrNotExist) {
		span.SetAttributes(attribute.Bool("already_absent", true))
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// Exists reports whether locator names a regular file.
func (s *FileSystem) Exists(ctx context.Context, locator string) bool {
	info, err := os.Stat(locator)
	return err == nil && info.Mode().IsRegular()
}

// Reachable fails only when the photo dir exists but cannot be inspected.
// A missing dir is an answer: no blob is present.
func (s *FileSystem) Reachable(ctx context.Context) error {
	_, err := os.Stat(s.root)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("photo dir unavailable: %w", err)
}

// Open opens the blob for reading.
func (s *FileSystem) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	_, span := tracer.Start(ctx, "fs.open",
		trace.WithAttributes(attribute.String("locator", locator)),
	)
	defer span.End()

	f, err := os.Open(locator)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *FileSystem) owns(locator string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(locator))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
