package models

type BackendKind string

const (
	BackendAPI BackendKind = "api"
	BackendCLI BackendKind = "cli"
)

type ParserKind string

const (
	ParserJSON      ParserKind = "json"
	ParserJSONLines ParserKind = "jsonl"
	ParserText      ParserKind = "text"
)

type PromptInput string

const (
	PromptViaStdin PromptInput = "stdin"
	PromptViaArg   PromptInput = "arg"
)

// ModelDescriptor is the immutable configuration for one invokable backend.
// Descriptors are built once at registry load time and never mutated.
type ModelDescriptor struct {
	CanonicalName string
	Aliases       []string
	Backend       BackendKind

	// API backend fields.
	Provider          string
	ProviderModel     string
	BaseURL           string
	APIKeyEnv         string
	ProviderWebSearch bool

	// CLI backend fields. CLIEnv holds environment variable NAMES only;
	// values are resolved from the process environment at spawn time.
	CLICommand string
	CLIArgs    []string
	CLIEnv     []string
	CLIInput   PromptInput

	Parser         ParserKind
	TemperatureMin float64
	TemperatureMax float64
	Disabled       bool
	Notes          string
}

func (d ModelDescriptor) IsCLI() bool {
	return d.Backend == BackendCLI
}

// ClampTemperature folds a requested temperature into the descriptor's
// declared bounds. Out-of-range values are clamped, never rejected.
func (d ModelDescriptor) ClampTemperature(temp float64) float64 {
	if d.TemperatureMax > d.TemperatureMin {
		if temp < d.TemperatureMin {
			return d.TemperatureMin
		}
		if temp > d.TemperatureMax {
			return d.TemperatureMax
		}
	}
	return temp
}
