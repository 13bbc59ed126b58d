package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/memory"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/requestctx"
)

// The echo models run a real subprocess, so these tests cover the full
// path from request to recorded thread without any network dependency.
const engineConfig = `
default_model: echo-a
models:
  echo-a:
    provider: cli
    cli_command: sh
    cli_args: ["-c", "printf 'answer from a'"]
    parser: text
  echo-b:
    provider: cli
    cli_command: sh
    cli_args: ["-c", "printf 'answer from b'"]
    parser: text
  broken:
    provider: cli
    cli_command: sh
    cli_args: ["-c", "exit 7"]
    parser: text
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.LoadBytes([]byte(engineConfig), logger)
	require.NoError(t, err)
	eng := New(reg, Config{}, logger)
	t.Cleanup(eng.Close)
	return eng
}

func TestEngineExecuteAndRecordTurn(t *testing.T) {
	eng := newTestEngine(t)
	rc := requestctx.New("test")

	req := models.ExecutionRequest{
		Prompt:  "what is the answer",
		Models:  []string{"echo-a", "broken", "echo-b"},
		Timeout: 10 * time.Second,
	}
	results, err := eng.Execute(context.Background(), rc, req)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Equal(t, "answer from a", results[0].Content)
	assert.Equal(t, models.StatusError, results[1].Status)
	assert.Equal(t, models.ErrKindExit, results[1].ErrorKind)
	assert.Equal(t, models.StatusSuccess, results[2].Status)

	eng.RecordTurn(rc, req.Prompt, results)

	// Each successful model gets its own composite thread; the failed one
	// records nothing.
	historyA, err := eng.History(requestctx.ModelThreadID(rc.ThreadID, "echo-a"))
	require.NoError(t, err)
	require.Len(t, historyA, 2)
	assert.Equal(t, "what is the answer", historyA[0].Content)
	assert.Equal(t, "answer from a", historyA[1].Content)

	_, err = eng.History(requestctx.ModelThreadID(rc.ThreadID, "broken"))
	assert.ErrorIs(t, err, memory.ErrThreadNotFound)
}

func TestEngineMultiTurnHistoryAccumulates(t *testing.T) {
	eng := newTestEngine(t)
	rc := requestctx.New("test")

	req := models.ExecutionRequest{Prompt: "first", Models: []string{"echo-a"}, Timeout: 10 * time.Second}
	results, err := eng.Execute(context.Background(), rc, req)
	require.NoError(t, err)
	eng.RecordTurn(rc, "first", results)

	req.Prompt = "second"
	results, err = eng.Execute(context.Background(), rc, req)
	require.NoError(t, err)
	eng.RecordTurn(rc, "second", results)

	history, err := eng.History(requestctx.ModelThreadID(rc.ThreadID, "echo-a"))
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[2].Content)
}

func TestEngineDefaultsAndListing(t *testing.T) {
	eng := newTestEngine(t)
	assert.Equal(t, "echo-a", eng.DefaultModel())

	list := eng.Models()
	require.Len(t, list, 3)
	assert.Equal(t, "broken", list[0].CanonicalName)
}

func TestEngineAppendEntryExisting(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AppendEntryExisting("ghost", models.ThreadEntry{Role: "user", Content: "x"})
	assert.ErrorIs(t, err, memory.ErrThreadNotFound)

	eng.CreateOrGetThread("real")
	require.NoError(t, eng.AppendEntryExisting("real", models.ThreadEntry{Role: "user", Content: "x"}))
}
