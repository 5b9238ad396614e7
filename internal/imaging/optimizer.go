// Package imaging prepares captured or imported pictures before they are
// stored: scale down, normalize to JPEG.
package imaging

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"
)

var tracer = otel.Tracer("photomenu-imaging")

// Optimizer turns a source image into the file that gets stored. The
// returned path may equal src when nothing was done.
type Optimizer interface {
	Optimize(ctx context.Context, src string) (string, error)
}

// Passthrough stores sources as they are.
type Passthrough struct{}

func (Passthrough) Optimize(_ context.Context, src string) (string, error) {
	return src, nil
}

// JPEGOptimizer decodes JPEG, PNG or GIF input, scales it down to MaxWidth
// keeping the aspect ratio, and writes a JPEG into ScratchDir.
type JPEGOptimizer struct {
	ScratchDir string
	MaxWidth   int // 0 disables scaling
	Quality    int
}

// NewJPEGOptimizer returns an optimizer writing into scratchDir.
func NewJPEGOptimizer(scratchDir string, maxWidth, quality int) *JPEGOptimizer {
	return &JPEGOptimizer{ScratchDir: scratchDir, MaxWidth: maxWidth, Quality: quality}
}

func (o *JPEGOptimizer) Optimize(ctx context.Context, src string) (string, error) {
	ctx, span := tracer.Start(ctx, "imaging.optimize",
		trace.WithAttributes(attribute.String("source", src)),
	)
	defer span.End()

	in, err := os.Open(src)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	img, format, err := image.Decode(in)
	in.Close()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	span.SetAttributes(
		attribute.String("format", format),
		attribute.Int("width", b.Dx()),
		attribute.Int("height", b.Dy()),
	)

	if o.MaxWidth > 0 && b.Dx() > o.MaxWidth {
		img = downscale(img, o.MaxWidth)
		span.SetAttributes(attribute.Int("scaled_width", o.MaxWidth))
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(o.ScratchDir, 0o755); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	dst := filepath.Join(o.ScratchDir, "optimized-"+uuid.NewString()+".jpg")
	out, err := os.Create(dst)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to create optimized image: %w", err)
	}

	quality := o.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	err = jpeg.Encode(out, img, &jpeg.Options{Quality: quality})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		span.RecordError(err)
		return "", fmt.Errorf("failed to encode optimized image: %w", err)
	}

	return dst, nil
}

// downscale resamples src to the given width, keeping the aspect ratio.
func downscale(src image.Image, width int) *image.RGBA {
	b := src.Bounds()
	height := (b.Dy()*width + b.Dx()/2) / b.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Rect, src, b, draw.Src, nil)
	return dst
}
