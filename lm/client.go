package lm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hal9ai/dspy/completion"
	"github.com/hal9ai/dspy/llm"
	"github.com/rs/zerolog"
)

// DefaultRankingLogProbs is requested from text models when ranked output is asked for.
const DefaultRankingLogProbs = 5

// Dispatcher sends a normalized request and returns the (possibly cached) response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req llm.NormalizedRequest) (*llm.RawResponse, error)
}

// Config configures a Client.
type Config struct {
	// Model is the model identifier, or the deployment name for azure.
	Model string
	// Mode forces chat or text requests. Empty selects by model name.
	Mode llm.Mode
	// Defaults are layered over llm.DefaultOptions and under per-call overrides.
	Defaults llm.Options
}

// HistoryEntry records one request made through a Client.
// RawOptions are the caller's overrides without model_type. Response is shared with the cache.
type HistoryEntry struct {
	ID         string
	Time       time.Time
	Prompt     string
	RawOptions llm.Options
	Options    llm.Options
	Request    llm.NormalizedRequest
	Response   *llm.RawResponse
}

// Client turns prompts into completions using a provider behind a cache and retry policy.
type Client struct {
	dispatcher Dispatcher
	model      string
	mode       llm.Mode
	defaults   llm.Options
	logger     zerolog.Logger

	mu      sync.Mutex
	history []HistoryEntry
}

// New creates a Client.
func New(dispatcher Dispatcher, cfg Config, logger zerolog.Logger) (*Client, error) {
	if dispatcher == nil {
		return nil, llm.NewConfigurationError("dispatcher is required", nil)
	}

	mode := llm.DefaultMode(cfg.Model)
	if cfg.Mode != "" {
		parsed, err := llm.ParseMode(string(cfg.Mode))
		if err != nil {
			return nil, err
		}
		mode = parsed
	}

	return &Client{
		dispatcher: dispatcher,
		model:      cfg.Model,
		mode:       mode,
		defaults:   llm.MergeOptions(llm.DefaultOptions(cfg.Model), cfg.Defaults),
		logger:     logger.With().Str("component", "lm").Str("model", cfg.Model).Logger(),
	}, nil
}

// Mode returns the request mode used by the client.
func (c *Client) Mode() llm.Mode {
	return c.mode
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// CallOption adjusts how Complete selects completions.
type CallOption func(*completion.Params)

// WithOnlyCompleted sets whether truncated choices are dropped. Only true is supported.
func WithOnlyCompleted(v bool) CallOption {
	return func(p *completion.Params) { p.OnlyCompleted = v }
}

// WithReturnSorted requests ranking by mean token log-probability. Requires n > 1.
func WithReturnSorted(v bool) CallOption {
	return func(p *completion.Params) { p.ReturnSorted = v }
}

// Complete sends prompt and returns the selected completion texts.
func (c *Client) Complete(ctx context.Context, prompt string, overrides llm.Options, callOpts ...CallOption) ([]string, error) {
	params := completion.DefaultParams()
	for _, opt := range callOpts {
		opt(&params)
	}

	merged := llm.MergeOptions(c.defaults, overrides)
	params.N = merged.Int("n", 1)

	if err := completion.CheckContract(params); err != nil {
		return nil, err
	}

	if params.ReturnSorted && c.mode == llm.ModeText {
		if _, ok := merged["logprobs"]; !ok {
			merged["logprobs"] = DefaultRankingLogProbs
		}
	}

	resp, err := c.request(ctx, prompt, overrides, merged)
	if err != nil {
		return nil, err
	}

	return completion.Select(resp, params)
}

// Request sends prompt with overrides and returns the raw provider response.
// The returned response is a copy, so callers may modify it without touching the cache.
func (c *Client) Request(ctx context.Context, prompt string, overrides llm.Options) (*llm.RawResponse, error) {
	resp, err := c.request(ctx, prompt, overrides, llm.MergeOptions(c.defaults, overrides))
	if err != nil {
		return nil, err
	}
	return resp.Clone(), nil
}

func (c *Client) request(ctx context.Context, prompt string, raw, merged llm.Options) (*llm.RawResponse, error) {
	req, err := llm.Normalize(prompt, c.mode, merged)
	if err != nil {
		return nil, err
	}

	resp, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}

	c.record(HistoryEntry{
		ID:         uuid.NewString(),
		Time:       time.Now(),
		Prompt:     prompt,
		RawOptions: llm.MergeOptions(nil, raw),
		Options:    merged,
		Request:    req,
		Response:   resp,
	})
	return resp, nil
}

func (c *Client) record(entry HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, entry)
	c.logger.Debug().Str("id", entry.ID).Str("key", entry.Request.Key()).Msg("Recorded request")
}

// History returns a copy of every recorded request, oldest first.
func (c *Client) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// LastEntry returns the most recent request, if any.
func (c *Client) LastEntry() (HistoryEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return HistoryEntry{}, false
	}
	return c.history[len(c.history)-1], true
}

// InspectHistory renders the last n prompts with their first completion.
func (c *Client) InspectHistory(n int) string {
	history := c.History()
	if n > 0 && n < len(history) {
		history = history[len(history)-n:]
	}

	var b strings.Builder
	for _, entry := range history {
		b.WriteString("\n\n\n")
		b.WriteString(entry.Prompt)
		if entry.Response != nil && len(entry.Response.Choices) > 0 {
			choice := entry.Response.Choices[0]
			b.WriteString(choice.Content())
			if len(entry.Response.Choices) > 1 {
				fmt.Fprintf(&b, " \t (and %d other completions)", len(entry.Response.Choices)-1)
			}
		}
	}
	b.WriteString("\n\n\n")
	return b.String()
}
