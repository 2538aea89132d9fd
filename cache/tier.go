package cache

import (
	"context"
	"sync"

	"github.com/hal9ai/dspy/llm"
)

// Tier is one level of the response cache, keyed by NormalizedRequest.Key.
type Tier interface {
	// Get returns the cached response for req. A miss is reported as (nil, false, nil).
	Get(ctx context.Context, req llm.NormalizedRequest) (*llm.RawResponse, bool, error)

	// Put stores resp for req, replacing any previous value.
	Put(ctx context.Context, req llm.NormalizedRequest, resp *llm.RawResponse) error
}

// PersistentTier is a Tier that outlives the process.
type PersistentTier interface {
	Tier

	// Clear removes every cached response.
	Clear(ctx context.Context) error

	// Close releases the underlying storage.
	Close() error
}

// MemoTier is the in-process memo table. It has unbounded capacity when enabled and
// zero capacity when disabled, in which case every Get misses and Put is a no-op.
type MemoTier struct {
	enabled bool
	mu      sync.RWMutex
	entries map[string]*llm.RawResponse
}

// NewMemoTier creates a process-memo tier.
func NewMemoTier(enabled bool) *MemoTier {
	return &MemoTier{
		enabled: enabled,
		entries: make(map[string]*llm.RawResponse),
	}
}

// Get implements Tier.Get.
func (m *MemoTier) Get(_ context.Context, req llm.NormalizedRequest) (*llm.RawResponse, bool, error) {
	if !m.enabled {
		return nil, false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.entries[req.Key()]
	return resp, ok, nil
}

// Put implements Tier.Put. The last writer wins.
func (m *MemoTier) Put(_ context.Context, req llm.NormalizedRequest, resp *llm.RawResponse) error {
	if !m.enabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[req.Key()] = resp
	return nil
}

// Len returns the number of memoized responses.
func (m *MemoTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Reset drops every memoized response.
func (m *MemoTier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*llm.RawResponse)
}

// NopStore is a PersistentTier that stores nothing.
type NopStore struct{}

func (NopStore) Get(context.Context, llm.NormalizedRequest) (*llm.RawResponse, bool, error) {
	return nil, false, nil
}

func (NopStore) Put(context.Context, llm.NormalizedRequest, *llm.RawResponse) error { return nil }

func (NopStore) Clear(context.Context) error { return nil }

func (NopStore) Close() error { return nil }

var (
	_ Tier           = (*MemoTier)(nil)
	_ PersistentTier = NopStore{}
)
