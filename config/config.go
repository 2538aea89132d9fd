package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/hal9ai/dspy/llm"
	"gopkg.in/yaml.v3"
)

// OpenAIConfig represents configuration for the default OpenAI provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Model        string `yaml:"model,omitempty"`        // Default model name
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// AzureConfig represents configuration for an Azure OpenAI deployment.
type AzureConfig struct {
	APIKey     string `yaml:"api_key,omitempty"`
	Endpoint   string `yaml:"endpoint,omitempty"`    // e.g. https://my-resource.openai.azure.com
	APIVersion string `yaml:"api_version,omitempty"` // e.g. 2024-02-01
	Deployment string `yaml:"deployment,omitempty"`  // Used in place of a model name
}

// OllamaConfig represents configuration for a local Ollama server.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"`  // Ollama host (default: "http://localhost:11434")
	Model string `yaml:"model,omitempty"` // Default model name
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`   // default: true
	Dir      string `yaml:"dir,omitempty"`       // Directory holding the SQLite cache
	RedisURL string `yaml:"redis_url,omitempty"` // When set, Redis replaces SQLite as the persistent tier
}

// RetryConfig controls backoff for transient provider errors. Durations are in seconds.
type RetryConfig struct {
	InitialInterval float64 `yaml:"initial_interval,omitempty"`
	MaxInterval     float64 `yaml:"max_interval,omitempty"`
	MaxElapsedTime  float64 `yaml:"max_elapsed_time,omitempty"`
}

// LogConfig controls logger output.
type LogConfig struct {
	File   string `yaml:"file,omitempty"`   // Empty logs to stdout
	Pretty bool   `yaml:"pretty,omitempty"` // Human readable console output
}

// Config is the configuration for the lmc client.
type Config struct {
	Provider string         `yaml:"provider,omitempty"` // "openai", "azure" or "ollama"
	Mode     string         `yaml:"mode,omitempty"`     // "chat" or "text"; empty selects by model name
	Options  map[string]any `yaml:"options,omitempty"`  // Request option defaults (temperature, max_tokens, ...)

	OpenAI OpenAIConfig `yaml:"openai,omitempty"`
	Azure  AzureConfig  `yaml:"azure,omitempty"`
	Ollama OllamaConfig `yaml:"ollama,omitempty"`

	Cache CacheConfig `yaml:"cache,omitempty"`
	Retry RetryConfig `yaml:"retry,omitempty"`
	Log   LogConfig   `yaml:"log,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	enabled := true
	return Config{
		Provider: llm.ProviderOpenAI,
		Options:  map[string]any{},
		OpenAI: OpenAIConfig{
			Model: "gpt-3.5-turbo-instruct",
		},
		Ollama: OllamaConfig{
			Host:  "http://localhost:11434",
			Model: "llama3.2:3b",
		},
		Cache: CacheConfig{
			Enabled: &enabled,
			Dir:     defaultCacheDir(),
		},
		Retry: RetryConfig{
			InitialInterval: 1,
			MaxInterval:     60,
			MaxElapsedTime:  1000,
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via LM_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("LM_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.lmc/config.yaml"
	}
	return filepath.Join(homeDir, ".lmc", "config.yaml")
}

func defaultCacheDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.lmc/cache"
	}
	return filepath.Join(homeDir, ".lmc", "cache")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load reads the config file at path, merges it onto Defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}

		// WithoutDereference lets an explicit "enabled: false" replace the default
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.Cache.Dir = expandPath(cfg.Cache.Dir)
	if cfg.Log.File != "" {
		cfg.Log.File = expandPath(cfg.Log.File)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config may hold API keys
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg. Set variables always win.
func applyEnv(cfg *Config) error {
	overrides := []struct {
		name   string
		target *string
	}{
		{"LM_PROVIDER", &cfg.Provider},
		{"LM_MODE", &cfg.Mode},
		{"OPENAI_API_KEY", &cfg.OpenAI.APIKey},
		{"OPENAI_BASE_URL", &cfg.OpenAI.BaseURL},
		{"OPENAI_MODEL", &cfg.OpenAI.Model},
		{"OPENAI_ORG_ID", &cfg.OpenAI.Organization},
		{"AZURE_OPENAI_API_KEY", &cfg.Azure.APIKey},
		{"AZURE_OPENAI_ENDPOINT", &cfg.Azure.Endpoint},
		{"AZURE_OPENAI_API_VERSION", &cfg.Azure.APIVersion},
		{"AZURE_OPENAI_DEPLOYMENT", &cfg.Azure.Deployment},
		{"OLLAMA_HOST", &cfg.Ollama.Host},
		{"OLLAMA_MODEL", &cfg.Ollama.Model},
		{"LM_CACHE_DIR", &cfg.Cache.Dir},
		{"LM_REDIS_URL", &cfg.Cache.RedisURL},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.name); v != "" {
			*o.target = v
		}
	}

	if v := os.Getenv("LM_CACHE_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return llm.NewConfigurationError(fmt.Sprintf("invalid LM_CACHE_ENABLED value %q", v), err)
		}
		cfg.Cache.Enabled = &enabled
	}
	return nil
}

// Validate checks that provider and mode names are known.
func (c *Config) Validate() error {
	switch c.Provider {
	case llm.ProviderOpenAI, llm.ProviderAzure, llm.ProviderOllama:
	default:
		return llm.NewConfigurationError(fmt.Sprintf("unknown provider: %s", c.Provider), nil)
	}
	if c.Mode != "" {
		if _, err := llm.ParseMode(c.Mode); err != nil {
			return err
		}
	}
	return nil
}

// CacheEnabled reports whether the response cache is turned on.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// CachePath returns the SQLite cache file location.
func (c *Config) CachePath() string {
	return filepath.Join(c.Cache.Dir, "responses.db")
}

// Model returns the model for the selected provider. For azure this is the deployment.
func (c *Config) Model() string {
	switch c.Provider {
	case llm.ProviderAzure:
		return c.Azure.Deployment
	case llm.ProviderOllama:
		return c.Ollama.Model
	default:
		return c.OpenAI.Model
	}
}

// ProviderConfig returns the settings needed to resolve provider clients.
func (c *Config) ProviderConfig() *llm.ProviderConfig {
	return &llm.ProviderConfig{
		OpenAIAPIKey:    c.OpenAI.APIKey,
		OpenAIBaseURL:   c.OpenAI.BaseURL,
		OpenAIOrg:       c.OpenAI.Organization,
		AzureAPIKey:     c.Azure.APIKey,
		AzureEndpoint:   c.Azure.Endpoint,
		AzureAPIVersion: c.Azure.APIVersion,
		AzureDeployment: c.Azure.Deployment,
		OllamaHost:      c.Ollama.Host,
	}
}
