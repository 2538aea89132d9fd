package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/hal9ai/dspy/llm"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

// Lookup results reported by the lookups counter.
const (
	ResultMemoHit       = "memo_hit"
	ResultPersistentHit = "persistent_hit"
	ResultMiss          = "miss"
	ResultBypass        = "bypass"
)

// ComputeFunc produces a response on a cache miss.
type ComputeFunc func(ctx context.Context) (*llm.RawResponse, error)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Enabled turns on both tiers. When false every lookup goes straight to compute.
	Enabled bool

	// Persistent is the durable tier. Nil means NopStore.
	Persistent PersistentTier

	Logger zerolog.Logger

	// Registerer receives the cache metrics. Nil disables registration.
	// Services registered on the same Registerer share one counter set.
	Registerer prometheus.Registerer
}

// Stats are cumulative lookup counts read from the lookups counter.
type Stats struct {
	MemoHits       int64
	PersistentHits int64
	Misses         int64
	Bypasses       int64
}

// Service is the two-tier response cache: an in-process memo in front of a persistent store.
//
// Concurrent misses on the same key are not de-duplicated. Both callers compute and the
// last writer wins in each tier.
type Service struct {
	enabled    bool
	memo       *MemoTier
	persistent PersistentTier
	logger     zerolog.Logger
	lookups    *prometheus.CounterVec
}

// NewService creates a cache service.
func NewService(cfg ServiceConfig) (*Service, error) {
	persistent := cfg.Persistent
	if persistent == nil {
		persistent = NopStore{}
	}

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_cache_lookups_total",
		Help: "Response cache lookups by result.",
	}, []string{"result"})

	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(lookups); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("failed to register cache metrics: %w", err)
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("cache metrics registered with unexpected type %T", are.ExistingCollector)
			}
			lookups = existing
		}
	}

	return &Service{
		enabled:    cfg.Enabled,
		memo:       NewMemoTier(cfg.Enabled),
		persistent: persistent,
		logger:     cfg.Logger,
		lookups:    lookups,
	}, nil
}

// Enabled reports whether the cache tiers are consulted.
func (s *Service) Enabled() bool {
	return s.enabled
}

// GetOrCompute returns the cached response for req, falling back to compute on a miss.
// A computed response is written to the persistent tier and then the memo. Errors from
// compute are returned as-is and nothing is stored.
func (s *Service) GetOrCompute(ctx context.Context, req llm.NormalizedRequest, compute ComputeFunc) (*llm.RawResponse, error) {
	if !s.enabled {
		s.record(ResultBypass)
		return compute(ctx)
	}

	key := req.Key()

	if resp, ok, _ := s.memo.Get(ctx, req); ok {
		s.record(ResultMemoHit)
		s.logger.Debug().Str("key", key).Msg("Response served from memo")
		return resp, nil
	}

	resp, ok, err := s.persistent.Get(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Persistent cache read failed, treating as miss")
	}
	if ok {
		s.record(ResultPersistentHit)
		s.logger.Debug().Str("key", key).Msg("Response served from persistent cache")
		_ = s.memo.Put(ctx, req, resp)
		return resp, nil
	}

	s.record(ResultMiss)
	resp, err = compute(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.persistent.Put(ctx, req, resp); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Persistent cache write failed")
	}
	_ = s.memo.Put(ctx, req, resp)

	return resp, nil
}

func (s *Service) record(result string) {
	s.lookups.WithLabelValues(result).Inc()
}

// Stats returns a snapshot of the lookups counter.
func (s *Service) Stats() Stats {
	return Stats{
		MemoHits:       s.count(ResultMemoHit),
		PersistentHits: s.count(ResultPersistentHit),
		Misses:         s.count(ResultMiss),
		Bypasses:       s.count(ResultBypass),
	}
}

func (s *Service) count(result string) int64 {
	var m dto.Metric
	if err := s.lookups.WithLabelValues(result).Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

// Clear drops every cached response from both tiers.
func (s *Service) Clear(ctx context.Context) error {
	s.memo.Reset()
	if err := s.persistent.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear persistent cache: %w", err)
	}
	return nil
}

// Close releases the persistent tier.
func (s *Service) Close() error {
	return s.persistent.Close()
}
