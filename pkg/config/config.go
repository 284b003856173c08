// Package config loads and validates the agent configuration: provider
// selection, model, endpoint overrides, and loop budgets. Values support
// ${VAR} and ${VAR:-default} environment expansion, and API keys come from
// the environment (optionally via .env files).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
	ProviderOpenAICompatible = "openai-compatible"
)

const (
	DefaultMaxIterations = 20
	DefaultMaxTokens     = 4096

	defaultOpenAIModel    = "gpt-4o"
	defaultAnthropicModel = "claude-sonnet-4-20250514"
)

type Config struct {
	Provider                 string   `yaml:"provider"`
	Model                    string   `yaml:"model"`
	OpenAICompatibleEndpoint string   `yaml:"openaiCompatibleEndpoint"`
	SystemPrompt             string   `yaml:"systemPrompt"`
	MaxIterations            int      `yaml:"maxIterations"`
	MaxTokens                int      `yaml:"maxTokens"`
	Temperature              *float64 `yaml:"temperature"`
}

// rawConfig accepts the accepted spellings of the endpoint key.
type rawConfig struct {
	Provider                  string   `yaml:"provider"`
	Model                     string   `yaml:"model"`
	EndpointCamel             string   `yaml:"openaiCompatibleEndpoint"`
	EndpointSnake             string   `yaml:"openai_compatible_endpoint"`
	EndpointKebab             string   `yaml:"openai-compatible-endpoint"`
	SystemPrompt              string   `yaml:"systemPrompt"`
	SystemPromptSnake         string   `yaml:"system_prompt"`
	MaxIterations             int      `yaml:"maxIterations"`
	MaxIterationsSnake        int      `yaml:"max_iterations"`
	MaxTokens                 int      `yaml:"maxTokens"`
	MaxTokensSnake            int      `yaml:"max_tokens"`
	Temperature               *float64 `yaml:"temperature"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// Load reads a YAML config file, expands environment references, applies
// defaults, and validates. An empty path yields a default config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		var raw rawConfig
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg = &Config{
			Provider:                 raw.Provider,
			Model:                    raw.Model,
			OpenAICompatibleEndpoint: firstNonEmpty(raw.EndpointCamel, raw.EndpointSnake, raw.EndpointKebab),
			SystemPrompt:             firstNonEmpty(raw.SystemPrompt, raw.SystemPromptSnake),
			MaxIterations:            firstNonZero(raw.MaxIterations, raw.MaxIterationsSnake),
			MaxTokens:                firstNonZero(raw.MaxTokens, raw.MaxTokensSnake),
			Temperature:              raw.Temperature,
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultModel(c.Provider)
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	case ProviderOpenAICompatible:
		if c.OpenAICompatibleEndpoint == "" {
			return fmt.Errorf("provider %s requires an explicit endpoint (openaiCompatibleEndpoint)", c.Provider)
		}
		if c.Model == "" {
			return fmt.Errorf("provider %s requires an explicit model", c.Provider)
		}
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	return nil
}

// DefaultModel returns the provider-specific default model. The
// openai-compatible provider has no default: the model must be explicit.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return defaultOpenAIModel
	case ProviderAnthropic:
		return defaultAnthropicModel
	default:
		return ""
	}
}

// RequireAPIKey returns the API key for the provider, or an error when the
// provider needs one and none is set. The openai-compatible provider may run
// keyless against local endpoints.
func RequireAPIKey(provider string) (string, error) {
	key := ProviderAPIKey(provider)
	switch provider {
	case ProviderOpenAI:
		if key == "" {
			return "", fmt.Errorf("OPENAI_API_KEY is required for provider %s", provider)
		}
	case ProviderAnthropic:
		if key == "" {
			return "", fmt.Errorf("ANTHROPIC_API_KEY is required for provider %s", provider)
		}
	}
	return key, nil
}
