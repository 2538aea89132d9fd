package dispatch

import (
	"context"
	"fmt"

	"github.com/hal9ai/dspy/cache"
	"github.com/hal9ai/dspy/llm"
	"github.com/rs/zerolog"
)

// Dispatcher sends normalized requests to a provider through the response cache.
// Only the cache-miss path is retried; cache hits never touch the provider.
type Dispatcher struct {
	provider llm.Provider
	cache    *cache.Service
	policy   Policy
	target   string
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher. target names the provider in logs, e.g. "openai".
func NewDispatcher(provider llm.Provider, cacheService *cache.Service, policy Policy, target string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		cache:    cacheService,
		policy:   policy,
		target:   target,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch returns the response for req, from cache when possible.
func (d *Dispatcher) Dispatch(ctx context.Context, req llm.NormalizedRequest) (*llm.RawResponse, error) {
	return d.cache.GetOrCompute(ctx, req, func(ctx context.Context) (*llm.RawResponse, error) {
		return d.compute(ctx, req)
	})
}

func (d *Dispatcher) compute(ctx context.Context, req llm.NormalizedRequest) (*llm.RawResponse, error) {
	opts, err := req.Options()
	if err != nil {
		return nil, err
	}

	key := req.Key()
	target := fmt.Sprintf("%s.%s", d.target, req.Mode)

	policy := d.policy
	notify := policy.Notify
	policy.Notify = func(a Attempt) {
		a.Target = target
		a.Mode = req.Mode
		a.Key = key
		a.Options = llm.MergeOptions(nil, opts)
		d.logger.Warn().
			Err(a.Err).
			Str("target", a.Target).
			Str("key", a.Key).
			Str("request", req.Payload).
			Int("attempt", a.Attempt).
			Dur("wait", a.Wait).
			Msg("Transient provider error. Backing off before retry")
		if notify != nil {
			notify(a)
		}
	}

	d.logger.Debug().Str("target", target).Str("key", key).Msg("Calling provider")
	resp, err := RetryValue(ctx, policy, func(ctx context.Context) (*llm.RawResponse, error) {
		return llm.Call(ctx, d.provider, req.Mode, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", target, err)
	}
	return resp, nil
}
