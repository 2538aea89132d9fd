package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hal9ai/dspy/cache"
	"github.com/hal9ai/dspy/config"
	"github.com/hal9ai/dspy/dispatch"
	"github.com/hal9ai/dspy/llm"
	"github.com/hal9ai/dspy/lm"
	lmclogger "github.com/hal9ai/dspy/logger"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", config.GetConfigPath(), "Path to config file")
		provider    = flag.String("provider", "", "Provider to use: openai, azure or ollama")
		model       = flag.String("model", "", "Model name (deployment name for azure)")
		mode        = flag.String("mode", "", "Request mode: chat or text. Defaults by model name")
		n           = flag.Int("n", 0, "Number of completions to request")
		temperature = flag.Float64("temperature", -1, "Sampling temperature")
		maxTokens   = flag.Int("max-tokens", 0, "Maximum tokens per completion")
		sorted      = flag.Bool("sorted", false, "Rank completions by mean token log-probability (requires -n > 1)")
		noCache     = flag.Bool("no-cache", false, "Bypass the response cache")
		clearCache  = flag.Bool("clear-cache", false, "Remove every cached response and exit")
		rawOutput   = flag.Bool("raw", false, "Print the raw provider response as JSON")
		stats       = flag.Bool("stats", false, "Print cache statistics to stderr after the request")
		initConfig  = flag.Bool("init-config", false, "Write the default config file and exit")
		logFile     = flag.String("logfile", "", "Path to log file. If not set, logs to stderr")
		pretty      = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if *initConfig {
		defaults := config.Defaults()
		if err := config.Save(&defaults, *configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", *configPath)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg, *provider, *model, *mode, *noCache)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *logFile == "" && cfg.Log.File != "" {
		*logFile = cfg.Log.File
	}
	logger, err := lmclogger.InitWithOptions(*logFile, *pretty || (*logFile == "" && cfg.Log.Pretty))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cacheService, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cacheService.Close() //nolint:errcheck // No remedy for close errors at exit

	if *clearCache {
		if err := cacheService.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("Cache cleared")
		return nil
	}

	prompt, err := readPrompt(flag.Args())
	if err != nil {
		return err
	}

	providerClient, resolvedModel, err := config.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create %s provider: %w", cfg.Provider, err)
	}
	providerClient = llm.WrapWithMiddleware(providerClient, dispatch.NewLoggingMiddleware(logger))

	dispatcher := dispatch.NewDispatcher(providerClient, cacheService, cfg.RetryPolicy(), cfg.Provider, logger)
	client, err := lm.New(dispatcher, lm.Config{
		Model:    resolvedModel,
		Mode:     llm.Mode(cfg.Mode),
		Defaults: cfg.RequestDefaults(),
	}, logger)
	if err != nil {
		return err
	}

	overrides := llm.Options{}
	if *n > 0 {
		overrides["n"] = *n
	}
	if *temperature >= 0 {
		overrides["temperature"] = *temperature
	}
	if *maxTokens > 0 {
		overrides["max_tokens"] = *maxTokens
	}

	logger.Info().
		Str("provider", cfg.Provider).
		Str("model", resolvedModel).
		Str("mode", string(client.Mode())).
		Bool("cache", cacheService.Enabled()).
		Msg("Sending prompt")

	if *rawOutput {
		resp, err := client.Request(ctx, prompt, overrides)
		if err != nil {
			return err
		}
		if err := printJSON(os.Stdout, resp); err != nil {
			return err
		}
	} else {
		completions, err := client.Complete(ctx, prompt, overrides, lm.WithReturnSorted(*sorted))
		if err != nil {
			return err
		}
		for i, text := range completions {
			if len(completions) > 1 {
				fmt.Printf("--- %d ---\n", i+1)
			}
			fmt.Println(text)
		}
	}

	if *stats {
		s := cacheService.Stats()
		fmt.Fprintf(os.Stderr, "cache: memo_hits=%d persistent_hits=%d misses=%d bypasses=%d\n",
			s.MemoHits, s.PersistentHits, s.Misses, s.Bypasses)
	}
	return nil
}

func applyFlags(cfg *config.Config, provider, model, mode string, noCache bool) {
	if provider != "" {
		cfg.Provider = provider
	}
	if model != "" {
		switch cfg.Provider {
		case llm.ProviderAzure:
			cfg.Azure.Deployment = model
		case llm.ProviderOllama:
			cfg.Ollama.Model = model
		default:
			cfg.OpenAI.Model = model
		}
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if noCache {
		disabled := false
		cfg.Cache.Enabled = &disabled
	}
}

// openCache builds the cache service. Redis is preferred over SQLite when configured.
func openCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*cache.Service, error) {
	var store cache.PersistentTier = cache.NopStore{}

	if cfg.CacheEnabled() {
		if cfg.Cache.RedisURL != "" {
			redisStore, err := cache.OpenRedisStore(ctx, cfg.Cache.RedisURL, logger)
			if err != nil {
				return nil, err
			}
			store = redisStore
		} else {
			if err := os.MkdirAll(cfg.Cache.Dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create cache directory: %w", err)
			}
			sqliteStore, err := cache.OpenSQLiteStore(cfg.CachePath(), logger)
			if err != nil {
				return nil, err
			}
			store = sqliteStore
		}
	}

	return cache.NewService(cache.ServiceConfig{
		Enabled:    cfg.CacheEnabled(),
		Persistent: store,
		Logger:     logger.With().Str("component", "cache").Logger(),
		Registerer: prometheus.DefaultRegisterer,
	})
}

// readPrompt joins the positional arguments, or reads stdin when there are none.
func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	prompt := strings.TrimRight(string(data), "\n")
	if prompt == "" {
		return "", fmt.Errorf("no prompt given")
	}
	return prompt, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
