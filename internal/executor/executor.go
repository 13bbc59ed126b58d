// Package executor runs a single prompt against one backend. Routing picks
// the strategy once from the descriptor; every fault an executor hits is
// folded into the returned ExecutionResult, never raised past it.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/requestctx"
)

const defaultTimeout = 120 * time.Second

type Options struct {
	Temperature  float64
	Timeout      time.Duration
	EnableSearch bool
	MergeRule    string
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultTimeout
}

// Executor is the uniform strategy for one backend kind. Run never returns
// a Go error: the result carries status, error kind, and detail instead.
type Executor interface {
	Run(ctx context.Context, rc *requestctx.Context, prompt string, opts Options) models.ExecutionResult
}

// Route selects the executor for a descriptor. Dispatch is a closed
// two-way choice made once at resolution time, not re-decided per call.
func Route(desc models.ModelDescriptor, logger *slog.Logger) (Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch desc.Backend {
	case models.BackendCLI:
		return &CLIExecutor{desc: desc, logger: logger}, nil
	case models.BackendAPI:
		return &APIExecutor{desc: desc, logger: logger}, nil
	default:
		return nil, fmt.Errorf("model %s: unsupported backend kind %q", desc.CanonicalName, desc.Backend)
	}
}

// timedOut reports whether the context state means the call ran out of
// time rather than failed on its own.
func timedOut(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded || ctx.Err() == context.Canceled
}

// tail returns the last max bytes of s for error previews.
func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max:]
}
