package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/voicegate/internal/api"
	"github.com/satriahrh/voicegate/internal/auth"
	"github.com/satriahrh/voicegate/internal/config"
	"github.com/satriahrh/voicegate/internal/metrics"
	"github.com/satriahrh/voicegate/internal/response"
	"github.com/satriahrh/voicegate/internal/router"
	"github.com/satriahrh/voicegate/internal/session"
	"github.com/satriahrh/voicegate/internal/transcription"
	"github.com/satriahrh/voicegate/internal/websocket"
	"github.com/satriahrh/voicegate/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := newBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(cfg.Server.MetricsNamespace, registry, logger)

	// Initialize usecase services
	catalog := usecase.NewAgentCatalog(backends.Model, backends.Voice, logger,
		usecase.WithResearch(backends.Research, cfg.Research.Timeout))
	rt, err := router.NewRouter(router.NewKeywordClassifier(router.DefaultKeywords), catalog.Responders(), cfg.Router, logger)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	var stageOpts []transcription.Option
	if cfg.Providers.Correction {
		stageOpts = append(stageOpts, transcription.WithCorrector(usecase.NewLLMCorrector(backends.Model, logger)))
	}
	pipeline := session.Pipeline{
		Stage:    transcription.NewStage(backends.Transcriber, cfg.Transcription, logger, stageOpts...),
		Router:   rt,
		Streamer: response.NewStreamer(cfg.Response, logger, response.WithMetrics(collector)),
	}

	hub := websocket.NewHub(pipeline, websocket.HubConfig{
		Session:              cfg.Session,
		OutputFormat:         cfg.Response.OutputFormat(),
		IdleTimeout:          cfg.Server.IdleTimeout,
		AudioFramesPerSecond: cfg.Server.AudioFramesPerSecond,
		AudioBurst:           cfg.Server.AudioBurst,
		LeaseTTL:             cfg.Server.LeaseTTL,
	}, backends.Lease, logger, websocket.WithMetrics(collector))

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, hub, backends.Devices, auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), registry, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(hubCtx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Server started",
			zap.String("port", cfg.Server.Port),
			zap.String("stt", cfg.Providers.STT),
			zap.String("llm", cfg.Providers.LLM),
			zap.String("tts", cfg.Providers.TTS))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting first; upgraded connections are closed by the hub.
		var errs []error
		if err := e.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
		stopHub()
		return errors.Join(errs...)
	})

	return g.Wait()
}
