package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/executor"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/requestctx"
)

const testConfig = `
models:
  model-a:
    provider: cli
    cli_command: "true"
  model-b:
    provider: cli
    cli_command: "true"
  model-c:
    provider: cli
    cli_command: "true"
`

// stubExecutor simulates a backend call: it waits out its delay (or the
// context, whichever ends first) and returns a canned result.
type stubExecutor struct {
	name  string
	delay time.Duration
	res   models.ExecutionResult
	panic bool
}

func (s *stubExecutor) Run(ctx context.Context, rc *requestctx.Context, prompt string, opts executor.Options) models.ExecutionResult {
	if s.panic {
		panic("stub blew up")
	}
	select {
	case <-time.After(s.delay):
		return s.res
	case <-ctx.Done():
		return models.TimeoutResult(s.name, "context cancelled", "", s.delay)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, maxConcurrency int, stubs map[string]*stubExecutor) *Coordinator {
	t.Helper()
	reg, err := registry.LoadBytes([]byte(testConfig), discardLogger())
	require.NoError(t, err)
	c := New(reg, maxConcurrency, discardLogger())
	c.route = func(desc models.ModelDescriptor, _ *slog.Logger) (executor.Executor, error) {
		stub, ok := stubs[desc.CanonicalName]
		if !ok {
			return nil, fmt.Errorf("no stub for %s", desc.CanonicalName)
		}
		return stub, nil
	}
	return c
}

func success(name string) models.ExecutionResult {
	return models.ExecutionResult{Model: name, Status: models.StatusSuccess, Content: name + " answer"}
}

func TestExecuteAllPreservesRequestOrder(t *testing.T) {
	stubs := map[string]*stubExecutor{
		"model-a": {name: "model-a", delay: 10 * time.Millisecond, res: success("model-a")},
		"model-b": {name: "model-b", delay: 60 * time.Millisecond, res: models.TimeoutResult("model-b", "deadline", "", 0)},
		"model-c": {name: "model-c", delay: 5 * time.Millisecond, res: success("model-c")},
	}
	c := newTestCoordinator(t, 0, stubs)

	req := models.ExecutionRequest{Prompt: "q", Models: []string{"model-a", "model-b", "model-c"}}
	results, err := c.ExecuteAll(context.Background(), requestctx.New("test"), req)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Equal(t, "model-a", results[0].Model)
	assert.Equal(t, models.StatusTimeout, results[1].Status)
	assert.Equal(t, "model-b", results[1].Model)
	assert.Equal(t, models.StatusSuccess, results[2].Status)
	assert.Equal(t, "model-c", results[2].Model)
}

func TestExecuteAllRunsConcurrently(t *testing.T) {
	delay := 150 * time.Millisecond
	stubs := map[string]*stubExecutor{
		"model-a": {name: "model-a", delay: delay, res: success("model-a")},
		"model-b": {name: "model-b", delay: delay, res: success("model-b")},
		"model-c": {name: "model-c", delay: delay, res: success("model-c")},
	}
	c := newTestCoordinator(t, 0, stubs)

	start := time.Now()
	req := models.ExecutionRequest{Prompt: "q", Models: []string{"model-a", "model-b", "model-c"}}
	results, err := c.ExecuteAll(context.Background(), requestctx.New("test"), req)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 3)
	// Wall time tracks the slowest model, not the sum of all three.
	assert.Less(t, elapsed, 3*delay-50*time.Millisecond)
}

func TestExecuteAllIsolatesPanics(t *testing.T) {
	stubs := map[string]*stubExecutor{
		"model-a": {name: "model-a", res: success("model-a")},
		"model-b": {name: "model-b", panic: true},
		"model-c": {name: "model-c", res: success("model-c")},
	}
	c := newTestCoordinator(t, 0, stubs)

	req := models.ExecutionRequest{Prompt: "q", Models: []string{"model-a", "model-b", "model-c"}}
	results, err := c.ExecuteAll(context.Background(), requestctx.New("test"), req)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Equal(t, models.StatusError, results[1].Status)
	assert.Equal(t, models.ErrKindInternal, results[1].ErrorKind)
	assert.Contains(t, results[1].ErrorDetail, "panic")
	assert.Equal(t, models.StatusSuccess, results[2].Status)
}

func TestExecuteAllUnknownModelSettlesItsSlotOnly(t *testing.T) {
	stubs := map[string]*stubExecutor{
		"model-a": {name: "model-a", res: success("model-a")},
	}
	c := newTestCoordinator(t, 0, stubs)

	req := models.ExecutionRequest{Prompt: "q", Models: []string{"model-a", "no-such-model"}}
	results, err := c.ExecuteAll(context.Background(), requestctx.New("test"), req)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Equal(t, models.StatusError, results[1].Status)
	assert.Equal(t, models.ErrKindUnknownModel, results[1].ErrorKind)
	assert.Equal(t, "no-such-model", results[1].Model)
}

func TestExecuteAllDuplicateModelGetsOneSlotEach(t *testing.T) {
	stubs := map[string]*stubExecutor{
		"model-a": {name: "model-a", res: success("model-a")},
	}
	c := newTestCoordinator(t, 0, stubs)

	req := models.ExecutionRequest{Prompt: "q", Models: []string{"model-a", "model-a"}}
	results, err := c.ExecuteAll(context.Background(), requestctx.New("test"), req)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Equal(t, models.StatusSuccess, results[1].Status)
}

func TestExecuteAllRequestCancellation(t *testing.T) {
	stubs := map[string]*stubExecutor{
		"model-a": {name: "model-a", delay: 500 * time.Millisecond, res: success("model-a")},
		"model-b": {name: "model-b", delay: 500 * time.Millisecond, res: success("model-b")},
	}
	// One slot forces the second model to wait, so cancellation hits both
	// the in-flight call and the queued one.
	c := newTestCoordinator(t, 1, stubs)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	req := models.ExecutionRequest{Prompt: "q", Models: []string{"model-a", "model-b"}}
	results, err := c.ExecuteAll(ctx, requestctx.New("test"), req)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.StatusTimeout, results[0].Status)
	assert.Equal(t, models.StatusTimeout, results[1].Status)
}

func TestExecuteAllEmptyRequest(t *testing.T) {
	c := newTestCoordinator(t, 0, nil)
	_, err := c.ExecuteAll(context.Background(), requestctx.New("test"), models.ExecutionRequest{Prompt: "q"})
	assert.ErrorIs(t, err, ErrNoModels)
}
