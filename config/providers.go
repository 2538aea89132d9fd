package config

import (
	"fmt"
	"time"

	"github.com/hal9ai/dspy/dispatch"
	"github.com/hal9ai/dspy/llm"
	llmollama "github.com/hal9ai/dspy/llm/ollama"
	llmopenai "github.com/hal9ai/dspy/llm/openai"
)

// NewProvider creates the provider client selected by cfg.Provider and returns it with
// the resolved model (the deployment name for azure).
func NewProvider(cfg *Config) (llm.Provider, string, error) {
	registry := llm.NewProviderRegistry(cfg.ProviderConfig())

	if !registry.IsProviderConfigured(cfg.Provider) {
		_, cause := registry.Resolve(cfg.Provider, cfg.Model())
		return nil, "", llm.NewConfigurationError(fmt.Sprintf("provider %s not configured", cfg.Provider), cause)
	}

	key, err := registry.Resolve(cfg.Provider, cfg.Model())
	if err != nil {
		return nil, "", err
	}

	switch key.Provider {
	case llm.ProviderOllama:
		client, err := llmollama.NewOllamaClient(key.Host)
		if err != nil {
			return nil, "", err
		}
		return client, key.Model, nil
	default:
		client, err := llmopenai.NewFromKey(key)
		if err != nil {
			return nil, "", err
		}
		return client, key.Model, nil
	}
}

// RetryPolicy returns the dispatch policy described by cfg.Retry.
func (c *Config) RetryPolicy() dispatch.Policy {
	policy := dispatch.DefaultPolicy()
	if c.Retry.InitialInterval > 0 {
		policy.InitialInterval = seconds(c.Retry.InitialInterval)
	}
	if c.Retry.MaxInterval > 0 {
		policy.MaxInterval = seconds(c.Retry.MaxInterval)
	}
	if c.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = seconds(c.Retry.MaxElapsedTime)
	}
	return policy
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// RequestDefaults returns the configured option defaults as llm.Options.
func (c *Config) RequestDefaults() llm.Options {
	return llm.Options(c.Options)
}
