// Package registry resolves model names and aliases to immutable backend
// descriptors. The registry is built once from configuration; a load error
// is atomic and leaves no partially usable registry behind.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quorumlabs/quorum/internal/models"
)

var (
	ErrUnknownModel  = errors.New("unknown model")
	ErrModelDisabled = errors.New("model is disabled")
)

// Providers an unrecognized model string may fall back to. Anything else
// is rejected rather than guessed.
var fallbackProviders = map[string]struct{}{
	"openai":     {},
	"deepseek":   {},
	"ark":        {},
	"gemini":     {},
	"moonshot":   {},
	"openrouter": {},
}

const fallbackCacheSize = 64

type Registry struct {
	defaultModel string
	descriptors  map[string]models.ModelDescriptor
	aliases      map[string]string
	fallbacks    *lru.Cache[string, models.ModelDescriptor]
	logger       *slog.Logger
}

// Load reads the YAML model configuration at path and builds the registry.
// Duplicate aliases or malformed descriptors fail the whole load.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	cfg, err := loadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return build(cfg, logger)
}

// LoadBytes builds a registry from in-memory YAML. Used by tests and by
// callers that embed their configuration.
func LoadBytes(data []byte, logger *slog.Logger) (*Registry, error) {
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}
	return build(cfg, logger)
}

func build(cfg *configFile, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	descriptors := make(map[string]models.ModelDescriptor, len(cfg.Models))
	aliases := make(map[string]string, len(cfg.Models)*2)

	names := make([]string, 0, len(cfg.Models))
	for name := range cfg.Models {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic duplicate reporting

	for _, name := range names {
		desc, err := cfg.Models[name].descriptor(name)
		if err != nil {
			return nil, err
		}
		lowered := strings.ToLower(name)
		if owner, exists := aliases[lowered]; exists {
			return nil, fmt.Errorf("model name %q collides with alias of %q", name, owner)
		}
		aliases[lowered] = name
		for _, alias := range desc.Aliases {
			key := strings.ToLower(strings.TrimSpace(alias))
			if key == "" {
				return nil, fmt.Errorf("model %s: empty alias", name)
			}
			if owner, exists := aliases[key]; exists {
				return nil, fmt.Errorf("alias %q claimed by both %q and %q", alias, owner, name)
			}
			aliases[key] = name
		}
		descriptors[name] = desc
	}

	if cfg.DefaultModel != "" {
		if _, ok := aliases[strings.ToLower(cfg.DefaultModel)]; !ok {
			return nil, fmt.Errorf("default_model %q is not a configured model", cfg.DefaultModel)
		}
	}

	cache, err := lru.New[string, models.ModelDescriptor](fallbackCacheSize)
	if err != nil {
		return nil, err
	}

	return &Registry{
		defaultModel: cfg.DefaultModel,
		descriptors:  descriptors,
		aliases:      aliases,
		fallbacks:    cache,
		logger:       logger,
	}, nil
}

// Resolve maps a name or alias to its descriptor. Unrecognized strings of
// the form provider/model synthesize a default API descriptor for known
// providers; that path is logged, never silent.
func (r *Registry) Resolve(nameOrAlias string) (models.ModelDescriptor, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrAlias))
	if key == "" {
		return models.ModelDescriptor{}, fmt.Errorf("%w: empty model name", ErrUnknownModel)
	}

	if canonical, ok := r.aliases[key]; ok {
		desc := r.descriptors[canonical]
		if desc.Disabled {
			return models.ModelDescriptor{}, fmt.Errorf("%w: %s", ErrModelDisabled, canonical)
		}
		return desc, nil
	}

	if desc, ok := r.fallbacks.Get(key); ok {
		return desc, nil
	}

	desc, ok := r.synthesize(nameOrAlias)
	if !ok {
		return models.ModelDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownModel, nameOrAlias)
	}
	r.logger.Info("model not in config, synthesized passthrough descriptor",
		slog.String("model", nameOrAlias),
		slog.String("provider", desc.Provider))
	r.fallbacks.Add(key, desc)
	return desc, nil
}

func (r *Registry) synthesize(nameOrAlias string) (models.ModelDescriptor, bool) {
	provider, rest, ok := strings.Cut(strings.TrimSpace(nameOrAlias), "/")
	if !ok || rest == "" {
		return models.ModelDescriptor{}, false
	}
	provider = strings.ToLower(provider)
	if _, known := fallbackProviders[provider]; !known {
		return models.ModelDescriptor{}, false
	}
	return models.ModelDescriptor{
		CanonicalName:  nameOrAlias,
		Backend:        models.BackendAPI,
		Provider:       provider,
		ProviderModel:  rest,
		Parser:         models.ParserText,
		TemperatureMin: defaultTemperatureMin,
		TemperatureMax: defaultTemperatureMax,
		Notes:          "synthesized passthrough descriptor",
	}, true
}

// Default returns the configured default model name, empty if unset.
func (r *Registry) Default() string {
	return r.defaultModel
}

// List returns all configured descriptors sorted by canonical name.
// Disabled descriptors are included so callers can surface them.
func (r *Registry) List() []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, 0, len(r.descriptors))
	for _, desc := range r.descriptors {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CanonicalName < out[j].CanonicalName
	})
	return out
}
