package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/photomenu/internal/config"
	"github.com/maneesh/photomenu/internal/handlers"
	"github.com/maneesh/photomenu/internal/imaging"
	"github.com/maneesh/photomenu/internal/index"
	"github.com/maneesh/photomenu/internal/photos"
	"github.com/maneesh/photomenu/internal/storage"
	"github.com/maneesh/photomenu/internal/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.GetLogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting photomenu service",
		slog.String("service", cfg.ServiceName),
		slog.String("port", cfg.ServicePort),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("index_backend", cfg.IndexBackend),
	)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("error shutting down tracer", slog.String("error", err.Error()))
		}
	}()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	blobs, err := openBlobStore(startCtx, cfg)
	if err != nil {
		return err
	}
	logger.Info("blob store ready", slog.String("backend", cfg.BlobBackend))

	kv, err := openIndexKV(startCtx, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()
	logger.Info("metadata index ready", slog.String("backend", cfg.IndexBackend))

	var optimizer imaging.Optimizer = imaging.Passthrough{}
	if cfg.OptimizeMaxWidth > 0 {
		optimizer = imaging.NewJPEGOptimizer(cfg.ScratchDir(), cfg.OptimizeMaxWidth, cfg.OptimizeQuality)
	}

	service := photos.NewService(blobs, index.New(kv, logger),
		photos.WithLogger(logger),
		photos.WithOptimizer(optimizer),
		photos.WithImportRoot(cfg.GetImportDir()),
	)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      handlers.NewRouter(service, cfg.ScratchDir(), logger),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server forced to shutdown", slog.String("error", err.Error()))
	}

	logger.Info("server exited")
	return nil
}

// openBlobStore builds the configured blob store and prepares it.
func openBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	var blobs storage.BlobStore
	switch cfg.BlobBackend {
	case config.BlobBackendMinIO:
		mc, err := storage.NewMinioBlobStore(
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOPrefix,
			cfg.MinIOUseSSL,
		)
		if err != nil {
			return nil, err
		}
		blobs = mc
	default:
		fs, err := storage.NewFileSystem(cfg.PhotosDir())
		if err != nil {
			return nil, err
		}
		blobs = fs
	}

	if err := blobs.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare %s blob store: %w", cfg.BlobBackend, err)
	}
	return blobs, nil
}

// openIndexKV connects the substrate behind the metadata index.
func openIndexKV(ctx context.Context, cfg *config.Config) (storage.KV, error) {
	switch cfg.IndexBackend {
	case config.IndexBackendRedis:
		return storage.NewRedisKV(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	case config.IndexBackendTiDB:
		return storage.NewTiDBKV(ctx, cfg.GetDSN())
	case config.IndexBackendMemory:
		return storage.NewMemoryKV(), nil
	default:
		return storage.NewSQLiteKV(ctx, cfg.GetSQLitePath())
	}
}
