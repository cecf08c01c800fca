package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/akio-matsumoto/print-etl/internal/config"
	"github.com/akio-matsumoto/print-etl/internal/dispatch"
	"github.com/akio-matsumoto/print-etl/internal/ingest"
	"github.com/akio-matsumoto/print-etl/internal/llm/openai"
	"github.com/akio-matsumoto/print-etl/internal/pipeline"
	"github.com/akio-matsumoto/print-etl/internal/profile"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	initialScan := flag.Bool("scan", true, "process files already present in the watch directory at startup")
	flag.Parse()

	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not set up yet; config errors go straight to stderr.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.System.LogFile, config.ParseLogLevel(cfg.System.LogLevel))
	defer func() { _ = closeLog() }()

	if os.Getenv("OPENAI_API_KEY") == "" {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extractor := openai.NewClient(openai.Config{
		Model:   cfg.System.Model,
		BaseURL: cfg.System.BaseURL,
		Timeout: cfg.System.RequestTimeout.Std(),
	}, logger)

	matcher := profile.NewMatcher(cfg.Profiles)
	dispatcher := dispatch.NewDispatcher(logger, nil)
	pipe := pipeline.New(cfg.System, matcher, extractor, dispatcher, logger)

	events, watchErrs, err := ingest.Start(ctx, ingest.WatchConfig{
		Dir:         cfg.System.WatchDir,
		InitialScan: *initialScan,
		Debounce:    500 * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Error("failed to start watcher", "dir", cfg.System.WatchDir, "error", err)
		os.Exit(1)
	}

	logger.Info("daemon started",
		"watch_dir", cfg.System.WatchDir,
		"profiles", len(cfg.Profiles),
		"model", cfg.System.Model,
		"max_concurrent", cfg.System.MaxConcurrent,
	)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err, ok := <-watchErrs:
			if !ok {
				break loop
			}
			logger.Error("watch error", "error", err)
		case path, ok := <-events:
			if !ok {
				break loop
			}
			pipe.Enqueue(path)
		}
	}

	logger.Info("shutting down, draining in-flight tasks")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pipe.Shutdown(shutdownCtx)
}
