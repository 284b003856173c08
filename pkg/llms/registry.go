package llms

import (
	"fmt"

	"github.com/droverhq/drover/pkg/config"
)

// NewProvider builds the provider adapter selected by the config. API keys
// come from the environment; the openai-compatible provider may run keyless.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		key, err := config.RequireAPIKey(cfg.Provider)
		if err != nil {
			return nil, err
		}
		opts := []OpenAIOption{}
		if base := config.OpenAIBaseURL(); base != "" {
			opts = append(opts, WithOpenAIBaseURL(base))
		}
		return NewOpenAIProvider(key, cfg.Model, opts...), nil

	case config.ProviderOpenAICompatible:
		return NewOpenAIProvider(
			config.ProviderAPIKey(cfg.Provider),
			cfg.Model,
			WithOpenAIBaseURL(cfg.OpenAICompatibleEndpoint),
		), nil

	case config.ProviderAnthropic:
		key, err := config.RequireAPIKey(cfg.Provider)
		if err != nil {
			return nil, err
		}
		return NewAnthropicProvider(key, cfg.Model)

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
