package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"docgen/internal/ratelimit"
	"docgen/internal/util"
	"docgen/pkg/ai"
	"docgen/pkg/events"
	"docgen/pkg/storage"
	"docgen/services/docgen/internal/app"
	"docgen/services/docgen/internal/config"
	"docgen/services/docgen/internal/extract"
	"docgen/services/docgen/internal/jobstore"
	"docgen/services/docgen/internal/render"
	"docgen/services/docgen/internal/server"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}

	generators, err := buildGenerators(cfg)
	if err != nil {
		log.Fatalf("failed to init ai providers: %v", err)
	}

	artifacts, err := buildArtifactStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init artifact store: %v", err)
	}

	publisher, err := buildPublisher(cfg)
	if err != nil {
		log.Fatalf("failed to init event publisher: %v", err)
	}
	defer publisher.Close()

	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		fw, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := fw.Ping(pingCtx); err != nil {
			logger.Warn("rate limiter redis unreachable, requests will be rejected until it recovers", "err", err)
		}
		cancel()
		defer fw.Close()
		limiter = fw
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	ocr := extract.NewTesseract(extract.TesseractConfig{
		Binary:      cfg.OCRCommand,
		Lang:        cfg.OCRLang,
		TessdataDir: cfg.OCRTessdataDir,
		Logger:      logger,
	}, nil)
	if err := ocr.Available(); err != nil {
		logger.Warn("ocr disabled, image and scanned pdf uploads will fail", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store: jobstore.New(jobstore.Config{
			UploadRetention: cfg.UploadRetention(),
			JobRetention:    cfg.JobRetention(),
		}),
		Extractor: extract.New(extract.Config{
			OCR:         ocr,
			Rasterizer:  extract.FitzRasterizer{DPI: cfg.OCRDPI},
			TempDir:     cfg.TempDir,
			MaxOCRPages: cfg.OCRMaxPages,
			Concurrency: cfg.ExtractConcurrency,
			Logger:      logger,
		}),
		Generators:        generators,
		Renderer:          render.New(render.Config{MaxChars: cfg.RenderMaxChars, Creator: "DocGen " + version}),
		Artifacts:         artifacts,
		Events:            publisher,
		Logger:            logger,
		MaxFileBytes:      cfg.MaxFileBytes(),
		MaxFiles:          cfg.MaxFilesPerUpload,
		GenerationTimeout: cfg.GenerationTimeout(),
		Version:           version,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	go appCore.Sweeper(cfg.SweepInterval()).Run(ctx)

	httpServer := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: trusted,
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxFileBytes()*int64(cfg.MaxFilesPerUpload) + 1<<20,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown returns once in-flight handlers finish, so no Generate call can
	// start a job after the drain below begins.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "err", err)
		}
	}()

	slog.Info("docgen server listening", "addr", addr, "providers", generators.Names(), "artifacts", cfg.ArtifactBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		stop()
	}
	<-shutdownDone

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout()+30*time.Second)
	defer cancel()
	if err := appCore.Wait(drainCtx); err != nil {
		logger.Warn("in-flight jobs cancelled at shutdown", "err", err)
	}
	logger.Info("docgen server stopped")
}

func buildGenerators(cfg config.FileConfig) (*ai.Registry, error) {
	var gens []ai.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		gens = append(gens, gemini)
	}
	if cfg.OpenAIAPIKey != "" {
		gens = append(gens, ai.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	}
	if cfg.OpenRouterAPIKey != "" {
		gens = append(gens, ai.NewOpenRouterGenerator(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterAppURL, cfg.OpenRouterAppTitle))
	}
	if cfg.OllamaBaseURL != "" {
		gens = append(gens, ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaBaseURL), cfg.OllamaModel))
	}
	return ai.NewRegistry(cfg.DefaultProvider, gens...)
}

func buildArtifactStore(cfg config.FileConfig, logger *slog.Logger) (storage.ArtifactStore, error) {
	switch cfg.ArtifactBackend {
	case "minio":
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPrefix, cfg.MinioUseSSL)
	case "file":
		fs, err := storage.NewFileStore(filepath.Join(cfg.TempDir, "artifacts"))
		if err != nil {
			return nil, err
		}
		// Jobs do not survive a restart, so anything older than one job
		// retention window is unreachable.
		removed, err := fs.PruneOlderThan(time.Now().Add(-cfg.JobRetention()))
		if err != nil {
			logger.Warn("prune stale artifacts", "err", err)
		} else if removed > 0 {
			logger.Info("pruned stale artifacts", "removed", removed)
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.ArtifactBackend)
	}
}

func buildPublisher(cfg config.FileConfig) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return events.NoopPublisher{}, nil
	}
	return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
}
