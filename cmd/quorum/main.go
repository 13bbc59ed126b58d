package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/quorumlabs/quorum/internal/engine"
	"github.com/quorumlabs/quorum/internal/memory"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/requestctx"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to the model configuration file")
		modelList   = flag.String("models", "", "comma-separated model names or aliases")
		prompt      = flag.String("prompt", "", "prompt to send to every model")
		temperature = flag.Float64("temperature", 0.7, "sampling temperature (clamped per model)")
		timeout     = flag.Duration("timeout", 2*time.Minute, "per-model timeout")
		search      = flag.Bool("search", false, "enable provider-native web search where supported")
		threadID    = flag.String("thread", "", "continue an existing conversation thread")
		dbPath      = flag.String("db", "", "optional bbolt file for durable thread state")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Credentials come from the process environment; .env is a convenience,
	// its absence is not an error.
	_ = godotenv.Load()

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "a -prompt is required")
		os.Exit(2)
	}

	reg, err := registry.Load(*configPath, logger)
	if err != nil {
		// A bad registry is the only fault fatal to the whole process.
		logger.Error("model configuration rejected", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := engine.Config{}
	if *dbPath != "" {
		persister, err := memory.NewBoltPersister(filepath.Clean(*dbPath))
		if err != nil {
			logger.Error("failed to open thread database", slog.Any("error", err))
			os.Exit(1)
		}
		defer persister.Close()
		cfg.Persister = persister
	}

	eng := engine.New(reg, cfg, logger)
	defer eng.Close()

	names := splitModels(*modelList)
	if len(names) == 0 {
		if def := eng.DefaultModel(); def != "" {
			names = []string{def}
		} else {
			fmt.Fprintln(os.Stderr, "no -models given and no default_model configured")
			os.Exit(2)
		}
	}

	rc := requestctx.New("cli")
	if *threadID != "" {
		rc.ThreadID = *threadID
	}

	req := models.ExecutionRequest{
		Prompt:       *prompt,
		Models:       names,
		Temperature:  *temperature,
		Timeout:      *timeout,
		EnableSearch: *search,
	}

	results, err := eng.Execute(context.Background(), rc, req)
	if err != nil {
		logger.Error("execution rejected", slog.Any("error", err))
		os.Exit(1)
	}
	eng.RecordTurn(rc, *prompt, results)

	out, err := json.MarshalIndent(struct {
		ThreadID string                   `json:"thread_id"`
		Results  []models.ExecutionResult `json:"results"`
	}{rc.ThreadID, results}, "", "  ")
	if err != nil {
		logger.Error("failed to encode results", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func splitModels(list string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
