package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"

	"github.com/maneesh/photomenu/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const locatorScheme = "s3://"

// MinioBlobStore keeps blobs as objects in a MinIO bucket. Locators have the
// form s3://<bucket>/<prefix>/<fileName>.
type MinioBlobStore struct {
	client     *minio.Client
	bucketName string
	prefix     string
	ready      atomic.Bool
}

var _ BlobStore = &MinioBlobStore{}

// NewMinioBlobStore creates the client. No request is made until
// EnsureReady or another operation runs.
func NewMinioBlobStore(endpoint, accessKey, secretKey, bucketName, prefix string, useSSL bool) (*MinioBlobStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioBlobStore{
		client:     client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
	}, nil
}

// EnsureReady creates the bucket if it does not exist yet.
func (mc *MinioBlobStore) EnsureReady(ctx context.Context) error {
	if mc.ready.Load() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "minio.ensure_bucket",
		trace.WithAttributes(attribute.String("bucket", mc.bucketName)),
	)
	defer span.End()

	exists, err := mc.client.BucketExists(ctx, mc.bucketName)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		slog.Info("creating bucket", slog.String("bucket", mc.bucketName))
		if err := mc.client.MakeBucket(ctx, mc.bucketName, minio.MakeBucketOptions{}); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	mc.ready.Store(true)
	return nil
}

// Put uploads the local file at source.
func (mc *MinioBlobStore) Put(ctx context.Context, source, fileName string) (string, error) {
	objectKey := mc.objectKey(fileName)
	ctx, span := tracer.Start(ctx, "minio.put",
		trace.WithAttributes(
			attribute.String("source", source),
			attribute.String("object_key", objectKey),
		),
	)
	defer span.End()

	if fileName == "" || strings.Contains(fileName, "/") {
		err := fmt.Errorf("%w: bad blob file name %q", models.ErrInvalidInput, fileName)
		span.RecordError(err)
		return "", err
	}

	locator := mc.Locator(fileName)
	exists, err := mc.stat(ctx, objectKey)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to check object: %w", err)
	}
	if exists {
		err := fmt.Errorf("%w: %s", models.ErrBlobExists, fileName)
		span.RecordError(err)
		return "", err
	}

	info, err := mc.client.FPutObject(ctx, mc.bucketName, objectKey, source, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}

	span.SetAttributes(attribute.Int64("size_bytes", info.Size))
	return locator, nil
}

// Remove deletes the object. MinIO treats removal of a missing key as success.
func (mc *MinioBlobStore) Remove(ctx context.Context, locator string) error {
	ctx, span := tracer.Start(ctx, "minio.remove",
		trace.WithAttributes(attribute.String("locator", locator)),
	)
	defer span.End()

	objectKey, err := mc.parseLocator(locator)
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = mc.client.RemoveObject(ctx, mc.bucketName, objectKey, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		span.RecordError(err)
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Exists stats the object. Foreign locators and a missing key or bucket read
// as false. Any other failure reads as true: an outage says nothing about
// whether the object is gone.
func (mc *MinioBlobStore) Exists(ctx context.Context, locator string) bool {
	objectKey, err := mc.parseLocator(locator)
	if err != nil {
		return false
	}
	exists, err := mc.stat(ctx, objectKey)
	if err != nil {
		slog.Warn("object stat failed, assuming present",
			slog.String("locator", locator),
			slog.String("error", err.Error()),
		)
		return true
	}
	return exists
}

// Reachable asks the server about the bucket, bypassing the cached
// EnsureReady result.
func (mc *MinioBlobStore) Reachable(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "minio.reachable",
		trace.WithAttributes(attribute.String("bucket", mc.bucketName)),
	)
	defer span.End()

	if _, err := mc.client.BucketExists(ctx, mc.bucketName); err != nil {
		span.RecordError(err)
		return fmt.Errorf("object store unreachable: %w", err)
	}
	return nil
}

func (mc *MinioBlobStore) stat(ctx context.Context, objectKey string) (bool, error) {
	_, err := mc.client.StatObject(ctx, mc.bucketName, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

// Open streams the object.
func (mc *MinioBlobStore) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio.open",
		trace.WithAttributes(attribute.String("locator", locator)),
	)
	defer span.End()

	objectKey, err := mc.parseLocator(locator)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	object, err := mc.client.GetObject(ctx, mc.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := object.Stat(); err != nil {
		object.Close()
		if isNoSuchKey(err) {
			return nil, models.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return object, nil
}

// Locator returns the locator a blob named fileName gets in this store.
func (mc *MinioBlobStore) Locator(fileName string) string {
	return locatorScheme + mc.bucketName + "/" + mc.objectKey(fileName)
}

func (mc *MinioBlobStore) objectKey(fileName string) string {
	if mc.prefix == "" {
		return fileName
	}
	return path.Join(mc.prefix, fileName)
}

func (mc *MinioBlobStore) parseLocator(locator string) (string, error) {
	rest, ok := strings.CutPrefix(locator, locatorScheme)
	if !ok {
		return "", fmt.Errorf("%w: not an object locator: %s", models.ErrInvalidInput, locator)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket != mc.bucketName || key == "" {
		return "", fmt.Errorf("%w: locator %s is outside bucket %s", models.ErrInvalidInput, locator, mc.bucketName)
	}
	return key, nil
}

func isNoSuchKey(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}
