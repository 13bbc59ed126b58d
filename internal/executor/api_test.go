package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/requestctx"
)

func TestAPIMissingCredentialIsAuthError(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	desc := models.ModelDescriptor{
		CanonicalName:  "deepseek-chat",
		Backend:        models.BackendAPI,
		Provider:       "deepseek",
		ProviderModel:  "deepseek-chat",
		Parser:         models.ParserText,
		TemperatureMax: 2.0,
	}
	exec := &APIExecutor{desc: desc, logger: discardLogger()}
	res := exec.Run(context.Background(), requestctx.New("test"), "hi", Options{Timeout: time.Second})

	require.Equal(t, models.StatusError, res.Status)
	assert.Equal(t, models.ErrKindAuth, res.ErrorKind)
	assert.Contains(t, res.ErrorDetail, "DEEPSEEK_API_KEY")
}

func TestAPIGeminiMissingCredentialIsAuthError(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	desc := models.ModelDescriptor{
		CanonicalName:  "gemini-2.5-pro",
		Backend:        models.BackendAPI,
		Provider:       "gemini",
		ProviderModel:  "gemini-2.5-pro",
		Parser:         models.ParserText,
		TemperatureMax: 2.0,
	}
	exec := &APIExecutor{desc: desc, logger: discardLogger()}
	res := exec.Run(context.Background(), requestctx.New("test"), "hi", Options{Timeout: time.Second})

	require.Equal(t, models.StatusError, res.Status)
	assert.Equal(t, models.ErrKindAuth, res.ErrorKind)
	assert.Contains(t, res.ErrorDetail, "GEMINI_API_KEY")
}

func TestAPIGeminiResolvesCustomCredentialEnv(t *testing.T) {
	// The credential named by the descriptor must win even when the
	// provider's own default variable is absent.
	t.Setenv("QUORUM_CUSTOM_GEMINI_KEY", "configured-credential")
	t.Setenv("GEMINI_API_KEY", "")

	exec := &APIExecutor{desc: models.ModelDescriptor{
		CanonicalName: "gemini-custom",
		Provider:      "gemini",
		APIKeyEnv:     "QUORUM_CUSTOM_GEMINI_KEY",
	}}
	key, err := exec.apiKey()
	require.NoError(t, err)
	assert.Equal(t, "configured-credential", key)
}

func TestAPIKeyPrefersDescriptorEnv(t *testing.T) {
	t.Setenv("CUSTOM_KEY", "from-custom")
	t.Setenv("OPENAI_API_KEY", "from-default")

	exec := &APIExecutor{desc: models.ModelDescriptor{Provider: "openai", APIKeyEnv: "CUSTOM_KEY"}}
	key, err := exec.apiKey()
	require.NoError(t, err)
	assert.Equal(t, "from-custom", key)

	exec = &APIExecutor{desc: models.ModelDescriptor{Provider: "openai"}}
	key, err = exec.apiKey()
	require.NoError(t, err)
	assert.Equal(t, "from-default", key)
}

func TestClassifyAPIError(t *testing.T) {
	cases := []struct {
		err  string
		want models.ErrorKind
	}{
		{"credential OPENAI_API_KEY is not set for model x", models.ErrKindAuth},
		{"request failed: 401 Unauthorized", models.ErrKindAuth},
		{"403 permission denied", models.ErrKindAuth},
		{"invalid api key provided", models.ErrKindAuth},
		{"429 Too Many Requests", models.ErrKindRateLimit},
		{"rate limit exceeded, retry later", models.ErrKindRateLimit},
		{"quota exhausted for project", models.ErrKindRateLimit},
		{"RESOURCE_EXHAUSTED: slow down", models.ErrKindRateLimit},
		{"dial tcp: connection refused", models.ErrKindNetwork},
		{"unexpected EOF", models.ErrKindNetwork},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyAPIError(fmt.Errorf("%s", tc.err)), tc.err)
	}
}
