package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunestream/internal/bandwidth"
	"tunestream/internal/catalog"
	"tunestream/internal/hls"
	"tunestream/internal/platform/config"
	"tunestream/internal/platform/logger"
	"tunestream/internal/platform/metrics"
	"tunestream/internal/quality"
	"tunestream/internal/storage"
	"tunestream/internal/streaming"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	store, err := catalog.OpenSQLite(cfg.CatalogDBPath)
	if err != nil {
		log.Error("open catalog database", "path", cfg.CatalogDBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	urls, err := newURLResolver(cfg)
	if err != nil {
		log.Error("configure audio storage", "error", err)
		os.Exit(1)
	}

	hyst := quality.DefaultHysteresis()
	if cfg.UpgradeMargin > 0 {
		hyst.UpgradeMargin = cfg.UpgradeMargin
	}
	if cfg.MinDwell > 0 {
		hyst.MinDwell = cfg.MinDwell
	}

	met := metrics.New()
	registry := streaming.NewRegistry()
	svc := streaming.NewService(store, urls, registry, streaming.Config{
		Estimator:        bandwidth.Config{Alpha: cfg.EWMAAlpha, SeedBps: cfg.SeedBps},
		Hysteresis:       hyst,
		LowBufferSeconds: cfg.LowBufferSeconds,
		Engine:           hls.EngineConfig{MaxBufferAhead: cfg.HLSMaxBufferAhead},
	}, log, met)
	h := streaming.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(registry.ActiveCount()) }).ServeHTTP(w, r)
	})
	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		h.Mount(r)
	})

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"catalog_db", cfg.CatalogDBPath,
		"object_storage", cfg.UseObjectStorage(),
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	// Websocket sessions are hijacked and not drained by Shutdown.
	svc.Close()

	log.Info("server stopped")
}

func newURLResolver(cfg config.Config) (storage.URLResolver, error) {
	if cfg.UseObjectStorage() {
		return storage.NewMinIOResolver(storage.MinIOConfig{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UseSSL:          cfg.S3UseSSL,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Expiry:          cfg.PresignExpiry,
		})
	}
	return storage.NewStaticResolver(cfg.StorageBaseURL)
}
