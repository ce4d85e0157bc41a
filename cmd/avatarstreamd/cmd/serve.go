package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/avatarstreamd/internal/cache"
	"github.com/jmylchreest/avatarstreamd/internal/config"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
	"github.com/jmylchreest/avatarstreamd/internal/encoder"
	"github.com/jmylchreest/avatarstreamd/internal/generation"
	internalhttp "github.com/jmylchreest/avatarstreamd/internal/http"
	"github.com/jmylchreest/avatarstreamd/internal/http/handlers"
	"github.com/jmylchreest/avatarstreamd/internal/http/middleware"
	"github.com/jmylchreest/avatarstreamd/internal/idleloop"
	"github.com/jmylchreest/avatarstreamd/internal/janitor"
	"github.com/jmylchreest/avatarstreamd/internal/observability"
	"github.com/jmylchreest/avatarstreamd/internal/planner"
	"github.com/jmylchreest/avatarstreamd/internal/presets"
	"github.com/jmylchreest/avatarstreamd/internal/rtmpingest"
	"github.com/jmylchreest/avatarstreamd/internal/startup"
	"github.com/jmylchreest/avatarstreamd/internal/stream"
	sttengine "github.com/jmylchreest/avatarstreamd/internal/stt/httpengine"
	ttsengine "github.com/jmylchreest/avatarstreamd/internal/tts/httpengine"
	"github.com/jmylchreest/avatarstreamd/internal/version"
	"github.com/jmylchreest/avatarstreamd/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the avatar streaming server",
	Long: `Starts the local RTMP ingest server, the idle-loop controller, the
janitor sweep, and the HTTP API, and blocks until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	if n, err := startup.CleanupSystemTempDirs(logger); err != nil {
		logger.Warn("system temp dir cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info("cleaned orphaned system temp directories", "count", n)
	}

	for _, dir := range []string{cfg.Storage.JobsPath(), cfg.Storage.OutputPath(), cfg.Storage.StreamPath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	loadedPresets, err := presets.LoadAll(cfg.Storage.PresetsPath(), cfg.Storage.MotionsPath())
	if err != nil {
		return fmt.Errorf("loading presets: %w", err)
	}
	presetRegistry := presets.NewRegistry(loadedPresets)

	encoderFacade := encoder.New(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.ProbeTimeout, cfg.Storage.JobsPath())

	newPlanner := func(preset *domain.Preset) *planner.Planner {
		return planner.New(preset, encoderFacade, nil)
	}
	generationPlanners := generation.PlannerFactory(func(preset *domain.Preset) generation.Planner {
		return newPlanner(preset)
	})
	idleloopPlanners := idleloop.PlannerFactory(func(preset *domain.Preset) idleloop.Planner {
		return newPlanner(preset)
	})

	cacheSvc := cache.New(cfg.Storage.OutputPath())
	if n, err := cacheSvc.Reconcile(); err != nil {
		logger.Warn("cache reconciliation failed", "error", err)
	} else if n > 0 {
		logger.Info("reconciled cache entries", "count", n)
	}

	ttsClient := httpclient.New(httpclient.DefaultConfig())
	sttClient := httpclient.New(httpclient.DefaultConfig())
	ttsEngine := ttsengine.New(ttsengine.Config{BaseURL: cfg.TTS.BaseURL, APIKey: cfg.TTS.APIKey}, ttsClient)
	sttEngine := sttengine.New(sttengine.Config{BaseURL: cfg.STT.BaseURL, APIKey: cfg.STT.APIKey}, sttClient)

	generationSvc := generation.New(generation.Config{
		JobsDir:   cfg.Storage.JobsPath(),
		OutputDir: cfg.Storage.OutputPath(),
		StreamDir: cfg.Storage.StreamPath(),
	}, encoderFacade, generationPlanners, ttsEngine, sttEngine, cacheSvc)

	idleloopCtl := idleloop.New(idleloop.Config{
		FFmpegPath:      cfg.FFmpeg.BinaryPath,
		WorkDir:         cfg.Storage.StreamPath(),
		CleanupMarginMs: cfg.Stream.CleanupMarginMs,
		Logger:          logger,
	}, idleloopPlanners, encoderFacade)

	streamSvc := stream.New(idleloopCtl, generationSvc, presetRegistry)
	defer streamSvc.Close()

	janitorSvc := janitor.New(janitor.Config{
		JobsDir:         cfg.Storage.JobsPath(),
		StreamDir:       cfg.Storage.StreamPath(),
		CronSchedule:    cfg.Janitor.Schedule,
		JobMaxAge:       cfg.Janitor.MaxJobAge,
		CleanupMarginMs: int64(cfg.Stream.CleanupMarginMs),
		Logger:          logger,
	})

	ingest := rtmpingest.New(rtmpingest.Config{
		BinaryPath:      cfg.Stream.Ingest.BinaryPath,
		Args:            cfg.Stream.Ingest.Args,
		StartupDelay:    cfg.Stream.Ingest.StartupTimeout,
		ShutdownTimeout: cfg.Stream.Ingest.ShutdownTimeout,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ingest.Start(ctx); err != nil {
		return fmt.Errorf("starting rtmp ingest server: %w", err)
	}

	if cfg.Janitor.Enabled {
		if err := janitorSvc.Start(ctx); err != nil {
			return fmt.Errorf("starting janitor: %w", err)
		}
	}

	httpServer := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, version.Short())

	if cfg.Security.APIKey != "" {
		httpServer.Router().Use(middleware.APIKey(cfg.Security.APIKeyHeader, cfg.Security.APIKey))
	}

	healthHandler := handlers.NewHealthHandler(version.Short(), streamSvc)
	streamHandler := handlers.NewStreamHandler(streamSvc, logger)
	generateHandler := handlers.NewGenerateHandler(generationSvc, presetRegistry)

	healthHandler.Register(httpServer.API())
	streamHandler.Register(httpServer.API())
	generateHandler.Register(httpServer.API())

	docsHandler := handlers.NewDocsHandler("avatarstreamd API", "/openapi.json", handlers.WithSystemTheme())
	httpServer.Router().Get("/docs", docsHandler.ServeHTTP)

	logger.Info("avatarstreamd starting",
		"version", version.Short(),
		"address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	)

	serveErr := httpServer.ListenAndServe(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	streamSvc.Stop(shutdownCtx)
	janitorSvc.Stop()
	ingest.Stop(shutdownCtx)

	return serveErr
}
