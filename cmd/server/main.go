// Package main is the entry point for the parcel server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agromap/server/internal/api"
	"github.com/agromap/server/internal/cache"
	"github.com/agromap/server/internal/config"
	"github.com/agromap/server/internal/logger"
	"github.com/agromap/server/internal/parcels"
	"github.com/agromap/server/internal/render"
	"github.com/agromap/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode logs a failed run and flushes the logger before the process exits.
func exitCode(log *zap.Logger, err error) int {
	if err != nil {
		log.Error("server failed", zap.Error(err))
	}
	log.Sync()
	if err != nil {
		return 1
	}
	return 0
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting parcel server", zap.Int("port", cfg.Server.Port))

	// Initialize response cache (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		ResponseCacheSizeMB: cfg.Cache.ResponseSizeMB,
		ResponseTTL:         cfg.Cache.ResponseTTL(),
	})
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheManager.Close()

	policy, err := cache.ParsePolicy(cfg.Cache.Policy)
	if err != nil {
		return err
	}

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	log.Info("loading datasets",
		zap.Int("count", len(datasetIDs)),
		zap.String("default", cfg.Data.DefaultDataset))

	// Load datasets in parallel, at most LoadWorkers at a time
	services := make([]*service.QueryService, len(datasetIDs))
	var g errgroup.Group
	g.SetLimit(cfg.Server.LoadWorkers)
	for i, datasetID := range datasetIDs {
		g.Go(func() error {
			svc, err := loadDataset(datasetID, cfg, policy, log)
			if err != nil {
				return err
			}
			services[i] = svc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, datasetID := range datasetIDs {
		registry.Register(datasetID, services[i])
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Responses:   cacheManager,
		Renderer: render.NewPreviewRenderer(render.Config{
			PreviewSize:    cfg.Render.PreviewSize,
			MaxPreviewSize: cfg.Render.MaxPreviewSize,
		}),
		DefaultMaxFeatures: cfg.Query.DefaultMaxFeatures,
		Logger:             log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func loadDataset(datasetID string, cfg *config.Config, policy cache.Policy, log *zap.Logger) (*service.QueryService, error) {
	ds := cfg.Data.Datasets[datasetID]
	start := time.Now()

	coll, err := parcels.Load(ds.Path, parcels.Options{
		CategoryAttribute:       ds.Attributes.Category,
		ClassificationAttribute: ds.Attributes.Classification,
		IDAttribute:             ds.Attributes.ID,
		Layer:                   ds.Layer,
	})
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", datasetID, err)
	}

	b := coll.Bounds()
	log.Info("dataset loaded",
		zap.String("dataset", datasetID),
		zap.String("path", ds.Path),
		zap.Int("parcels", coll.Len()),
		zap.Int("source_epsg", coll.SourceEPSG()),
		zap.Float64s("bounds", []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}),
		zap.Duration("elapsed", time.Since(start)))

	qc, err := cache.NewQueryCache[service.Key, *service.Result](policy, cfg.Cache.QuerySize)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", datasetID, err)
	}

	title := ds.Title
	if title == "" {
		title = datasetID
	}
	return service.NewQueryService(service.QueryServiceConfig{
		DatasetID:        datasetID,
		Title:            title,
		Collection:       coll,
		Cache:            qc,
		Seed:             cfg.Query.Seed,
		Precision:        cfg.Query.Precision,
		MaxFeaturesLimit: cfg.Query.MaxFeaturesLimit,
		Properties:       ds.Properties,
		Logger:           log,
	})
}
