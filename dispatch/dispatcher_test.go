package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hal9ai/dspy/cache"
	"github.com/hal9ai/dspy/llm"
	"github.com/rs/zerolog"
)

// scriptedProvider returns queued errors before succeeding.
type scriptedProvider struct {
	mu        sync.Mutex
	errs      []error
	textCalls int
	chatCalls int
	lastOpts  llm.Options
}

func (p *scriptedProvider) next(opts llm.Options) error {
	p.lastOpts = opts
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func (p *scriptedProvider) CreateTextCompletion(_ context.Context, opts llm.Options) (*llm.RawResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.textCalls++
	if err := p.next(opts); err != nil {
		return nil, err
	}
	return &llm.RawResponse{Mode: llm.ModeText, Choices: []llm.Choice{llm.NewTextChoice(0, "stop", "Hello!", nil)}}, nil
}

func (p *scriptedProvider) CreateChatCompletion(_ context.Context, opts llm.Options) (*llm.RawResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatCalls++
	if err := p.next(opts); err != nil {
		return nil, err
	}
	return &llm.RawResponse{Mode: llm.ModeChat, Choices: []llm.Choice{llm.NewChatChoice(0, "stop", "Hello!")}}, nil
}

func newTestDispatcher(t *testing.T, provider llm.Provider, enabled bool, policy Policy) *Dispatcher {
	t.Helper()
	svc, err := cache.NewService(cache.ServiceConfig{Enabled: enabled, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return NewDispatcher(provider, svc, policy, "test", zerolog.Nop())
}

func normalize(t *testing.T, mode llm.Mode) llm.NormalizedRequest {
	t.Helper()
	req, err := llm.Normalize("Say hi", mode, llm.DefaultOptions("m"))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return req
}

func TestDispatchRoutesByMode(t *testing.T) {
	provider := &scriptedProvider{}
	d := newTestDispatcher(t, provider, true, fastPolicy())

	if _, err := d.Dispatch(context.Background(), normalize(t, llm.ModeChat)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Dispatch(context.Background(), normalize(t, llm.ModeText)); err != nil {
		t.Fatal(err)
	}
	if provider.chatCalls != 1 || provider.textCalls != 1 {
		t.Errorf("Expected one call per mode, got chat=%d text=%d", provider.chatCalls, provider.textCalls)
	}
	if provider.lastOpts["prompt"] != "Say hi" {
		t.Errorf("Expected prompt in text options, got %v", provider.lastOpts)
	}
}

func TestDispatchCacheHitSkipsProvider(t *testing.T) {
	provider := &scriptedProvider{}
	d := newTestDispatcher(t, provider, true, fastPolicy())
	req := normalize(t, llm.ModeText)

	first, err := d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if provider.textCalls != 1 {
		t.Errorf("Expected one provider call, got %d", provider.textCalls)
	}
	if first != second {
		t.Error("Expected identical cached response")
	}
}

func TestDispatchRetriesTransientErrors(t *testing.T) {
	provider := &scriptedProvider{errs: []error{
		llm.NewRateLimitError("slow down", nil, nil),
		llm.NewServerError("unavailable", 503, nil),
	}}
	var attempts []Attempt
	policy := fastPolicy()
	policy.Notify = func(a Attempt) { attempts = append(attempts, a) }
	d := newTestDispatcher(t, provider, true, policy)
	req := normalize(t, llm.ModeText)

	resp, err := d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if resp.Choices[0].Content() != "Hello!" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if provider.textCalls != 3 {
		t.Errorf("Expected 3 provider calls, got %d", provider.textCalls)
	}
	if len(attempts) != 2 {
		t.Fatalf("Expected 2 retry notifications, got %d", len(attempts))
	}
	if attempts[0].Target != "test.text" || attempts[0].Key != req.Key() || attempts[0].Mode != llm.ModeText {
		t.Errorf("Unexpected attempt %+v", attempts[0])
	}
	if attempts[0].Options["prompt"] != "Say hi" || attempts[0].Options["model"] != "m" {
		t.Errorf("Expected the call's arguments on the attempt, got %v", attempts[0].Options)
	}
}

func TestDispatchPermanentErrorNotCached(t *testing.T) {
	invalid := &llm.Error{Type: llm.ErrorTypeInvalidRequest, Message: "bad request"}
	provider := &scriptedProvider{errs: []error{invalid}}
	d := newTestDispatcher(t, provider, true, fastPolicy())
	req := normalize(t, llm.ModeText)

	if _, err := d.Dispatch(context.Background(), req); !errors.Is(err, invalid) {
		t.Fatalf("Expected invalid request error, got %v", err)
	}
	if provider.textCalls != 1 {
		t.Errorf("Expected no retry for permanent error, got %d calls", provider.textCalls)
	}

	if _, err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Expected second dispatch to succeed, got %v", err)
	}
	if provider.textCalls != 2 {
		t.Errorf("Expected failure not to be cached, got %d calls", provider.textCalls)
	}
}

func TestDispatchCacheDisabled(t *testing.T) {
	provider := &scriptedProvider{}
	d := newTestDispatcher(t, provider, false, fastPolicy())
	req := normalize(t, llm.ModeChat)

	for i := 0; i < 2; i++ {
		if _, err := d.Dispatch(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	if provider.chatCalls != 2 {
		t.Errorf("Expected two provider calls with caching disabled, got %d", provider.chatCalls)
	}
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	provider := &scriptedProvider{errs: []error{llm.NewNetworkError("reset", nil)}}
	wrapped := llm.WrapWithMiddleware(provider, NewLoggingMiddleware(zerolog.Nop()))

	if _, err := wrapped.CreateTextCompletion(context.Background(), llm.Options{"model": "m"}); !llm.IsTransientError(err) {
		t.Errorf("Expected error to pass through unchanged, got %v", err)
	}
	resp, err := wrapped.CreateTextCompletion(context.Background(), llm.Options{"model": "m"})
	if err != nil || resp.Choices[0].Content() != "Hello!" {
		t.Errorf("Expected response to pass through, got %v %v", resp, err)
	}
}
