package llm

import (
	"fmt"
	"os"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"
)

// ClientKey uniquely identifies a provider client configuration.
type ClientKey struct {
	Provider     string
	Model        string // For azure this is the deployment name
	APIKey       string
	BaseURL      string // OpenAI base URL or Azure endpoint
	Organization string // For OpenAI
	APIVersion   string // For Azure
	Host         string // For Ollama
}

// ProviderConfig holds the settings the registry resolves client keys from.
// This avoids import cycles by not importing the config package.
type ProviderConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIOrg     string

	AzureAPIKey     string
	AzureEndpoint   string
	AzureAPIVersion string
	AzureDeployment string

	OllamaHost string
}

// ProviderRegistry validates provider selection and resolves the settings for it.
// Client construction is left to the caller to avoid import cycles.
type ProviderRegistry struct {
	config *ProviderConfig
}

// NewProviderRegistry creates a new ProviderRegistry.
func NewProviderRegistry(providerConfig *ProviderConfig) *ProviderRegistry {
	if providerConfig == nil {
		providerConfig = &ProviderConfig{}
	}
	return &ProviderRegistry{config: providerConfig}
}

// IsProviderConfigured checks if a provider has the required credentials and endpoints.
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	switch provider {
	case ProviderOpenAI:
		return r.config.OpenAIAPIKey != "" || os.Getenv("OPENAI_API_KEY") != ""
	case ProviderAzure:
		return r.config.AzureAPIKey != "" && r.config.AzureEndpoint != "" && r.config.AzureAPIVersion != ""
	case ProviderOllama:
		// Ollama doesn't require an API key and the host has a default
		return true
	default:
		return false
	}
}

// Resolve returns the ClientKey for provider. model overrides the configured default;
// for azure it falls back to the configured deployment.
func (r *ProviderRegistry) Resolve(provider, model string) (*ClientKey, error) {
	key := &ClientKey{
		Provider: provider,
		Model:    model,
	}

	switch provider {
	case ProviderOpenAI:
		apiKey := r.config.OpenAIAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, NewConfigurationError("openai API key not configured", nil)
		}
		key.APIKey = apiKey
		key.BaseURL = r.config.OpenAIBaseURL
		key.Organization = r.config.OpenAIOrg

	case ProviderAzure:
		if r.config.AzureAPIKey == "" {
			return nil, NewConfigurationError("azure API key not configured", nil)
		}
		if r.config.AzureEndpoint == "" {
			return nil, NewConfigurationError("must specify azure endpoint for Azure API", nil)
		}
		if r.config.AzureAPIVersion == "" {
			return nil, NewConfigurationError("must specify api version for Azure API", nil)
		}
		if key.Model == "" {
			key.Model = r.config.AzureDeployment
		}
		if key.Model == "" {
			return nil, NewConfigurationError("must specify deployment for Azure API instead of model", nil)
		}
		key.APIKey = r.config.AzureAPIKey
		key.BaseURL = r.config.AzureEndpoint
		key.APIVersion = r.config.AzureAPIVersion

	case ProviderOllama:
		host := r.config.OllamaHost
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		key.Host = host

	default:
		return nil, NewConfigurationError(fmt.Sprintf("unknown provider: %s", provider), nil)
	}

	if key.Model == "" {
		return nil, NewConfigurationError(fmt.Sprintf("%s model not specified", provider), nil)
	}
	return key, nil
}
