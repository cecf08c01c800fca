// Command extract runs the extraction stage once against a single file and
// prints the validated record as JSON. Useful for tuning profile fields and
// prompts without running the daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/akio-matsumoto/print-etl/constants"
	"github.com/akio-matsumoto/print-etl/internal/config"
	"github.com/akio-matsumoto/print-etl/internal/llm"
	"github.com/akio-matsumoto/print-etl/internal/llm/openai"
	"github.com/akio-matsumoto/print-etl/internal/profile"
	"github.com/akio-matsumoto/print-etl/internal/retry"
	"github.com/akio-matsumoto/print-etl/internal/validate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	profileName := flag.String("profile", "", "profile to use (default: first match on filename)")
	rawOut := flag.Bool("raw", false, "print the raw model output instead of the validated record")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		logger.Error("usage: extract [flags] <file>")
		os.Exit(2)
	}
	path, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		logger.Error("bad path", "arg", flag.Arg(0), "error", err)
		os.Exit(2)
	}

	_ = godotenv.Load()
	if os.Getenv("OPENAI_API_KEY") == "" {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	prof := pickProfile(cfg, *profileName, path)
	if prof == nil {
		logger.Error("no profile matches", "file", filepath.Base(path), "profile_flag", *profileName)
		os.Exit(1)
	}
	logger.Info("using profile", "profile", prof.Name)

	client := openai.NewClient(openai.Config{
		Model:   cfg.System.Model,
		BaseURL: cfg.System.BaseURL,
		Timeout: cfg.System.RequestTimeout.Std(),
	}, logger)

	req := llm.ExtractRequest{
		FilePath:     path,
		MIMEType:     constants.MapExtToMIME(filepath.Ext(path)),
		Schema:       llm.BuildSchema(prof.Fields),
		SystemPrompt: llm.BuildSystemPrompt(prof, time.Now()),
		UserPrompt:   llm.BuildUserPrompt(prof, filepath.Base(path)),
	}

	policy := retry.Policy{
		MaxAttempts: cfg.System.MaxAttempts,
		BaseDelay:   cfg.System.BaseDelay.Std(),
		MaxDelay:    cfg.System.MaxDelay.Std(),
		Logger:      logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fields, raw, attempts, err := policy.Run(ctx, func(ctx context.Context) (map[string]any, []byte, error) {
		return client.Extract(ctx, req)
	})
	if err != nil {
		logger.Error("extraction failed", "attempts", attempts, "kind", llm.Kind(err), "error", err)
		os.Exit(1)
	}
	logger.Info("extraction ok", "attempts", attempts)

	if *rawOut {
		os.Stdout.Write(raw)
		os.Stdout.WriteString("\n")
		return
	}

	record, err := validate.Validate(fields, prof)
	if err != nil {
		logger.Error("validation failed", "error", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(record, "", "  ")
	os.Stdout.Write(out)
	os.Stdout.WriteString("\n")
}

func pickProfile(cfg *config.Config, name, path string) *config.Profile {
	if name != "" {
		for i := range cfg.Profiles {
			if cfg.Profiles[i].Name == name {
				return &cfg.Profiles[i]
			}
		}
		return nil
	}
	return profile.NewMatcher(cfg.Profiles).Match(path)
}
