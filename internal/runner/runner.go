// Package runner fans one execution request out to every requested model
// and joins on all of them. Each model runs in its own task with its own
// timeout; a fault in one slot never cancels, delays, or reorders the
// others, and every requested model produces exactly one result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/executor"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/requestctx"
)

const defaultMaxConcurrency = 5

var ErrNoModels = errors.New("execution request names no models")

type routeFunc func(models.ModelDescriptor, *slog.Logger) (executor.Executor, error)

type Coordinator struct {
	registry *registry.Registry
	logger   *slog.Logger
	slots    chan struct{}
	route    routeFunc
}

func New(reg *registry.Registry, maxConcurrency int, logger *slog.Logger) *Coordinator {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry: reg,
		logger:   logger,
		slots:    make(chan struct{}, maxConcurrency),
		route:    executor.Route,
	}
}

// ExecuteAll runs the request against every model concurrently and returns
// results in the request's model order, regardless of completion order.
// The only error is a request with no models; per-model faults come back
// inside their result slots.
func (c *Coordinator) ExecuteAll(ctx context.Context, rc *requestctx.Context, req models.ExecutionRequest) ([]models.ExecutionResult, error) {
	if len(req.Models) == 0 {
		return nil, ErrNoModels
	}

	c.logger.Info("fan-out starting", append(rc.LogAttrs(),
		slog.Int("models", len(req.Models)),
		slog.Int("max_concurrency", cap(c.slots)))...)

	results := make([]models.ExecutionResult, len(req.Models))
	var wg sync.WaitGroup
	for i, name := range req.Models {
		wg.Add(1)
		go func(slot int, model string) {
			defer wg.Done()
			results[slot] = c.runOne(ctx, rc, model, req)
		}(i, name)
	}
	wg.Wait()

	successes := 0
	for _, res := range results {
		if res.Status == models.StatusSuccess {
			successes++
		}
	}
	c.logger.Info("fan-out complete", append(rc.LogAttrs(),
		slog.Int("succeeded", successes),
		slog.Int("total", len(results)))...)

	return results, nil
}

// runOne is the task boundary: nothing crosses it as an unstructured
// fault. Panics, resolution failures, and routing failures all become
// typed error results for this slot only.
func (c *Coordinator) runOne(ctx context.Context, rc *requestctx.Context, name string, req models.ExecutionRequest) (res models.ExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("model task panicked", append(rc.LogAttrs(),
				slog.String("model", name), slog.Any("panic", r))...)
			res = models.ErrorResult(name, models.ErrKindInternal,
				fmt.Sprintf("task panic: %v", r), time.Since(start))
		}
	}()

	// Throttle, never reject. A request-level cancellation while waiting
	// settles this slot as a timeout instead of dropping it.
	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return models.TimeoutResult(name, "request cancelled before execution", "", time.Since(start))
	}

	desc, err := c.registry.Resolve(name)
	if err != nil {
		return models.ErrorResult(name, models.ErrKindUnknownModel, err.Error(), time.Since(start))
	}

	exec, err := c.route(desc, c.logger)
	if err != nil {
		return models.ErrorResult(name, models.ErrKindInternal, err.Error(), time.Since(start))
	}

	opts := executor.Options{
		Temperature:  req.Temperature,
		Timeout:      req.Timeout,
		EnableSearch: req.EnableSearch,
	}
	return exec.Run(ctx, rc, req.Prompt, opts)
}
