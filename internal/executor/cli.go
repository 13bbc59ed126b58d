package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/normalize"
	"github.com/quorumlabs/quorum/internal/requestctx"
)

const (
	errPreviewBytes = 2000
	killDrainDelay  = 3 * time.Second
)

var installHints = map[string]string{
	"gemini": "install via: npm install -g @google/gemini-cli",
	"claude": "install via: npm install -g @anthropic-ai/claude-code",
	"codex":  "install via: npm install -g @openai/codex",
}

// CLIExecutor runs one backend invocation as a subprocess. The child gets
// its own process group so the whole tree can be killed at the deadline;
// a process lingering past its deadline is a bug, not a tolerated state.
type CLIExecutor struct {
	desc   models.ModelDescriptor
	logger *slog.Logger
}

func (e *CLIExecutor) Run(ctx context.Context, rc *requestctx.Context, prompt string, opts Options) models.ExecutionResult {
	start := time.Now()
	name := e.desc.CanonicalName

	binary, err := exec.LookPath(e.desc.CLICommand)
	if err != nil {
		detail := fmt.Sprintf("command %q not found in PATH. %s", e.desc.CLICommand, installHint(e.desc.CLICommand))
		e.logger.Error("cli binary missing", append(rc.LogAttrs(),
			slog.String("model", name), slog.String("command", e.desc.CLICommand))...)
		return models.ErrorResult(name, models.ErrKindSpawn, detail, time.Since(start))
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	args := append([]string(nil), e.desc.CLIArgs...)
	if e.desc.CLIInput == models.PromptViaArg {
		args = append(args, prompt)
	}

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Env = e.spawnEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		// Negative pid kills the whole process group, descendants included.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killDrainDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if e.desc.CLIInput == models.PromptViaStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	e.logger.Info("cli call starting", append(rc.LogAttrs(),
		slog.String("model", name),
		slog.String("command", e.desc.CLICommand),
		slog.String("parser", string(e.desc.Parser)))...)

	runErr := cmd.Run()
	latency := time.Since(start)

	if runErr != nil && timedOut(runCtx) {
		partial := strings.TrimSpace(stdout.String())
		detail := fmt.Sprintf("command %q exceeded its %s deadline and was killed", e.desc.CLICommand, opts.timeout())
		e.logger.Error("cli call timed out", append(rc.LogAttrs(),
			slog.String("model", name), slog.Duration("latency", latency))...)
		return models.TimeoutResult(name, detail, partial, latency)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			preview := tail(stderr.String(), errPreviewBytes)
			if preview == "" {
				// Some CLIs write their errors to stdout.
				preview = tail(stdout.String(), errPreviewBytes)
			}
			if preview == "" {
				preview = "(no output)"
			}
			detail := fmt.Sprintf("command %q failed with exit code %d: %s", e.desc.CLICommand, exitErr.ExitCode(), preview)
			return models.ErrorResult(name, models.ErrKindExit, detail, latency)
		}
		return models.ErrorResult(name, models.ErrKindSpawn, runErr.Error(), latency)
	}

	content, parseFailed, backendErr := e.parseOutput(stdout.Bytes(), opts)
	if backendErr != "" {
		return models.ErrorResult(name, models.ErrKindExit, backendErr, latency)
	}

	e.logger.Info("cli call complete", append(rc.LogAttrs(),
		slog.String("model", name),
		slog.Duration("latency", latency),
		slog.Bool("parse_failed", parseFailed))...)

	return models.ExecutionResult{
		Model:       name,
		Status:      models.StatusSuccess,
		Content:     content,
		ParseFailed: parseFailed,
		Latency:     latency,
	}
}

// spawnEnv builds the child environment from the descriptor's declared
// variable names only; the parent environment is never inherited wholesale.
// PATH and HOME are passed through as a non-secret base so the CLI can find
// its own configuration.
func (e *CLIExecutor) spawnEnv() []string {
	env := make([]string, 0, len(e.desc.CLIEnv)+2)
	seen := make(map[string]struct{}, len(e.desc.CLIEnv)+2)
	for _, varName := range append([]string{"PATH", "HOME"}, e.desc.CLIEnv...) {
		if _, dup := seen[varName]; dup {
			continue
		}
		seen[varName] = struct{}{}
		value, ok := os.LookupEnv(varName)
		if !ok {
			e.logger.Warn("declared env var not set in process environment",
				slog.String("model", e.desc.CanonicalName),
				slog.String("var", varName))
			continue
		}
		env = append(env, varName+"="+value)
	}
	return env
}

// parseOutput normalizes captured stdout per the descriptor's parser kind
// and extracts assistant text from the known CLI document shapes. A parse
// failure degrades to flagged raw text, never to a dropped result.
func (e *CLIExecutor) parseOutput(raw []byte, opts Options) (content string, parseFailed bool, backendErr string) {
	switch e.desc.Parser {
	case models.ParserJSON:
		res := normalize.Normalize(raw, models.ParserJSON, mergeRule(opts))
		if res.ParseFailed {
			e.logger.Warn("cli json output unrecoverable, returning raw text",
				slog.String("model", e.desc.CanonicalName))
			return res.Content, true, ""
		}
		if msg, bad := normalize.AgentError(res.Content); bad {
			return "", false, fmt.Sprintf("command %q reported an error: %s", e.desc.CLICommand, msg)
		}
		if text, ok := normalize.AgentText(res.Content); ok {
			return text, false, ""
		}
		return res.Content, false, ""

	case models.ParserJSONLines:
		docs, failed := normalize.ParseLines(raw)
		if failed > 0 {
			e.logger.Warn("cli stream lines skipped",
				slog.String("model", e.desc.CanonicalName),
				slog.Int("failed_lines", failed))
		}
		var texts []string
		for _, doc := range docs {
			if text, ok := normalize.StreamText(doc); ok {
				texts = append(texts, text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n"), false, ""
		}
		if len(docs) == 0 {
			return strings.TrimSpace(string(raw)), true, ""
		}
		res := normalize.Normalize(raw, models.ParserJSONLines, mergeRule(opts))
		return res.Content, res.ParseFailed, ""

	default:
		res := normalize.Normalize(raw, models.ParserText, mergeRule(opts))
		return res.Content, false, ""
	}
}

func installHint(command string) string {
	if hint, ok := installHints[command]; ok {
		return hint
	}
	return fmt.Sprintf("ensure %q is installed and in PATH", command)
}
