package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/normalize"
	"github.com/quorumlabs/quorum/internal/requestctx"
)

// Default API key environment variables per provider, used when the
// descriptor does not name one explicitly. Values are read from the
// process environment at call time, never stored.
var providerKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"ark":        "ARK_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"moonshot":   "MOONSHOT_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

type APIExecutor struct {
	desc   models.ModelDescriptor
	logger *slog.Logger
}

func (e *APIExecutor) Run(ctx context.Context, rc *requestctx.Context, prompt string, opts Options) models.ExecutionResult {
	start := time.Now()
	name := e.desc.CanonicalName

	temp := e.desc.ClampTemperature(opts.Temperature)
	if temp != opts.Temperature {
		e.logger.Warn("temperature clamped to descriptor bounds",
			append(rc.LogAttrs(),
				slog.String("model", name),
				slog.Float64("requested", opts.Temperature),
				slog.Float64("clamped", temp))...)
	}

	search := opts.EnableSearch && e.desc.ProviderWebSearch
	if opts.EnableSearch && !search {
		e.logger.Debug("search requested but descriptor does not support it",
			slog.String("model", name))
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	var (
		content string
		usage   *models.Usage
		err     error
	)
	if e.desc.Provider == "gemini" {
		content, usage, err = e.generateGemini(callCtx, prompt, temp, search)
	} else {
		content, usage, err = e.generateEino(callCtx, prompt, temp)
	}
	latency := time.Since(start)

	if err != nil {
		if timedOut(callCtx) {
			detail := fmt.Sprintf("model %s timed out after %s", name, opts.timeout())
			return models.TimeoutResult(name, detail, "", latency)
		}
		kind := classifyAPIError(err)
		e.logger.Error("api call failed",
			append(rc.LogAttrs(),
				slog.String("model", name),
				slog.String("kind", string(kind)),
				slog.Any("error", err))...)
		return models.ErrorResult(name, kind, err.Error(), latency)
	}

	norm := normalize.Normalize([]byte(content), e.desc.Parser, mergeRule(opts))
	res := models.ExecutionResult{
		Model:       name,
		Status:      models.StatusSuccess,
		Content:     norm.Content,
		ParseFailed: norm.ParseFailed,
		Temperature: temp,
		Latency:     latency,
		Usage:       usage,
	}
	e.logger.Info("api call complete",
		append(rc.LogAttrs(),
			slog.String("model", name),
			slog.Duration("latency", latency),
			slog.Bool("parse_failed", norm.ParseFailed))...)
	return res
}

func (e *APIExecutor) apiKey() (string, error) {
	envName := e.desc.APIKeyEnv
	if envName == "" {
		envName = providerKeyEnv[e.desc.Provider]
	}
	if envName == "" {
		return "", fmt.Errorf("no API key variable known for provider %s", e.desc.Provider)
	}
	key := os.Getenv(envName)
	if key == "" {
		return "", fmt.Errorf("credential %s is not set for model %s", envName, e.desc.CanonicalName)
	}
	return key, nil
}

func (e *APIExecutor) generateEino(ctx context.Context, prompt string, temp float64) (string, *models.Usage, error) {
	key, err := e.apiKey()
	if err != nil {
		return "", nil, err
	}

	var cm model.BaseChatModel
	switch e.desc.Provider {
	case "deepseek":
		cm, err = deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:  key,
			BaseURL: e.desc.BaseURL,
			Model:   e.desc.ProviderModel,
		})
	case "ark":
		cm, err = ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:  key,
			BaseURL: e.desc.BaseURL,
			Model:   e.desc.ProviderModel,
		})
	case "openai", "moonshot", "openrouter":
		cm, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  key,
			BaseURL: e.desc.BaseURL,
			Model:   e.desc.ProviderModel,
		})
	default:
		return "", nil, fmt.Errorf("unsupported api provider: %s", e.desc.Provider)
	}
	if err != nil {
		return "", nil, fmt.Errorf("build %s chat model: %w", e.desc.Provider, err)
	}

	messages := []*schema.Message{
		{Role: schema.User, Content: prompt},
	}
	resp, err := cm.Generate(ctx, messages, model.WithTemperature(float32(temp)))
	if err != nil {
		return "", nil, err
	}

	var usage *models.Usage
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		u := resp.ResponseMeta.Usage
		usage = &models.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return resp.Content, usage, nil
}

func (e *APIExecutor) generateGemini(ctx context.Context, prompt string, temp float64, search bool) (string, *models.Usage, error) {
	key, err := e.apiKey()
	if err != nil {
		return "", nil, err
	}

	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: key})
	if err != nil {
		return "", nil, fmt.Errorf("build gemini client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temp)),
	}
	if search {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	resp, err := cli.Models.GenerateContent(ctx, e.desc.ProviderModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, cfg)
	if err != nil {
		return "", nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil, fmt.Errorf("gemini returned no candidates")
	}

	var usage *models.Usage
	if resp.UsageMetadata != nil {
		usage = &models.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return resp.Candidates[0].Content.Parts[0].Text, usage, nil
}

// classifyAPIError buckets provider failures so callers can decide on
// retries. Provider SDKs do not share an error taxonomy, so matching is by
// status code markers in the error text.
func classifyAPIError(err error) models.ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "credential") && strings.Contains(msg, "not set"):
		return models.ErrKindAuth
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "permission denied"):
		return models.ErrKindAuth
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"):
		return models.ErrKindRateLimit
	default:
		return models.ErrKindNetwork
	}
}

func mergeRule(opts Options) normalize.MergeRule {
	if opts.MergeRule == string(normalize.MergeAppend) {
		return normalize.MergeAppend
	}
	return normalize.MergeLastWins
}
