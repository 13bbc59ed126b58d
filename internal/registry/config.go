package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quorumlabs/quorum/internal/models"
)

const (
	defaultTemperatureMin = 0.0
	defaultTemperatureMax = 2.0
)

type modelEntry struct {
	Provider          string   `yaml:"provider"`
	Model             string   `yaml:"model"`
	BaseURL           string   `yaml:"base_url"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	Aliases           []string `yaml:"aliases"`
	Parser            string   `yaml:"parser"`
	TemperatureMin    *float64 `yaml:"temperature_min"`
	TemperatureMax    *float64 `yaml:"temperature_max"`
	ProviderWebSearch bool     `yaml:"provider_web_search"`
	Disabled          bool     `yaml:"disabled"`
	Notes             string   `yaml:"notes"`

	CLICommand string   `yaml:"cli_command"`
	CLIArgs    []string `yaml:"cli_args"`
	CLIEnv     []string `yaml:"cli_env"`
	CLIInput   string   `yaml:"cli_input"`
}

type configFile struct {
	DefaultModel string                `yaml:"default_model"`
	Models       map[string]modelEntry `yaml:"models"`
}

func parseConfig(data []byte) (*configFile, error) {
	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("model config declares no models")
	}
	return &cfg, nil
}

func loadConfigFile(path string) (*configFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config %s: %w", path, err)
	}
	return parseConfig(data)
}

func (e modelEntry) descriptor(name string) (models.ModelDescriptor, error) {
	desc := models.ModelDescriptor{
		CanonicalName:  name,
		Aliases:        append([]string(nil), e.Aliases...),
		Provider:       strings.ToLower(strings.TrimSpace(e.Provider)),
		ProviderModel:  e.Model,
		BaseURL:        e.BaseURL,
		APIKeyEnv:      e.APIKeyEnv,
		CLICommand:     e.CLICommand,
		CLIArgs:        append([]string(nil), e.CLIArgs...),
		CLIEnv:         append([]string(nil), e.CLIEnv...),
		TemperatureMin: defaultTemperatureMin,
		TemperatureMax: defaultTemperatureMax,
		Disabled:       e.Disabled,
		Notes:          e.Notes,

		ProviderWebSearch: e.ProviderWebSearch,
	}

	if desc.Provider == "" {
		return desc, fmt.Errorf("model %s: provider is required", name)
	}
	if desc.Provider == "cli" {
		desc.Backend = models.BackendCLI
		if desc.CLICommand == "" {
			return desc, fmt.Errorf("model %s: cli_command is required for CLI models", name)
		}
	} else {
		desc.Backend = models.BackendAPI
		if desc.ProviderModel == "" {
			desc.ProviderModel = name
		}
	}

	switch models.ParserKind(e.Parser) {
	case models.ParserJSON, models.ParserJSONLines, models.ParserText:
		desc.Parser = models.ParserKind(e.Parser)
	case "":
		desc.Parser = models.ParserText
	default:
		return desc, fmt.Errorf("model %s: unknown parser %q", name, e.Parser)
	}

	switch models.PromptInput(e.CLIInput) {
	case models.PromptViaStdin, models.PromptViaArg:
		desc.CLIInput = models.PromptInput(e.CLIInput)
	case "":
		desc.CLIInput = models.PromptViaStdin
	default:
		return desc, fmt.Errorf("model %s: unknown cli_input %q", name, e.CLIInput)
	}

	if e.TemperatureMin != nil {
		desc.TemperatureMin = *e.TemperatureMin
	}
	if e.TemperatureMax != nil {
		desc.TemperatureMax = *e.TemperatureMax
	}
	if desc.TemperatureMax < desc.TemperatureMin {
		return desc, fmt.Errorf("model %s: temperature_max below temperature_min", name)
	}

	return desc, nil
}
