// Package engine wires the registry, fan-out coordinator, and thread store
// into the surface the workflow layer consumes: execute a request, append
// to a thread, read a thread's history. Aggregation policy across models
// stays with the caller.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/quorumlabs/quorum/internal/memory"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/requestctx"
	"github.com/quorumlabs/quorum/internal/runner"
)

type Config struct {
	MaxConcurrency int
	ThreadTTL      time.Duration
	SweepInterval  time.Duration
	Persister      memory.Persister
}

type Engine struct {
	registry *registry.Registry
	runner   *runner.Coordinator
	store    *memory.Store
	logger   *slog.Logger
}

func New(reg *registry.Registry, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	var storeOpts []memory.Option
	if cfg.Persister != nil {
		storeOpts = append(storeOpts, memory.WithPersister(cfg.Persister))
	}
	store := memory.NewStore(cfg.ThreadTTL, logger, storeOpts...)
	store.StartSweeper(cfg.SweepInterval)

	return &Engine{
		registry: reg,
		runner:   runner.New(reg, cfg.MaxConcurrency, logger),
		store:    store,
		logger:   logger,
	}
}

// Execute fans the request out and returns exactly one result per
// requested model, in request order.
func (e *Engine) Execute(ctx context.Context, rc *requestctx.Context, req models.ExecutionRequest) ([]models.ExecutionResult, error) {
	return e.runner.ExecuteAll(ctx, rc, req)
}

func (e *Engine) CreateOrGetThread(threadID string) models.ThreadInfo {
	return e.store.CreateOrGet(threadID)
}

// AppendEntry records one turn on a thread, creating the thread when it
// does not exist yet.
func (e *Engine) AppendEntry(threadID string, entry models.ThreadEntry) error {
	return e.store.Append(threadID, entry, true)
}

// AppendEntryExisting records a turn only on a thread that already exists;
// absent or expired ids fail with memory.ErrThreadNotFound.
func (e *Engine) AppendEntryExisting(threadID string, entry models.ThreadEntry) error {
	return e.store.Append(threadID, entry, false)
}

func (e *Engine) History(threadID string) ([]models.ThreadEntry, error) {
	return e.store.History(threadID)
}

// RecordTurn stores the prompt and each successful model answer on that
// model's composite thread, keeping per-model history separate in
// multi-model workflows.
func (e *Engine) RecordTurn(rc *requestctx.Context, prompt string, results []models.ExecutionResult) {
	now := time.Now().UnixMilli()
	for _, res := range results {
		if res.Status != models.StatusSuccess {
			continue
		}
		threadID := requestctx.ModelThreadID(rc.ThreadID, res.Model)
		userEntry := models.ThreadEntry{Role: schema.User, Content: prompt, Timestamp: now}
		assistantEntry := models.ThreadEntry{Role: schema.Assistant, Content: res.Content, Timestamp: now}
		if err := e.store.Append(threadID, userEntry, true); err != nil {
			e.logger.Warn("failed to record user turn", slog.String("thread_id", threadID), slog.Any("error", err))
			continue
		}
		if err := e.store.Append(threadID, assistantEntry, true); err != nil {
			e.logger.Warn("failed to record assistant turn", slog.String("thread_id", threadID), slog.Any("error", err))
		}
	}
}

// Models lists the configured descriptors.
func (e *Engine) Models() []models.ModelDescriptor {
	return e.registry.List()
}

// DefaultModel returns the configured default model name, empty if unset.
func (e *Engine) DefaultModel() string {
	return e.registry.Default()
}

func (e *Engine) Close() {
	e.store.Close()
}
