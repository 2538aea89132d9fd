package llm

import (
	"context"
)

// Provider is the network client that actually talks to an LLM service.
// Implementations handle provider-specific details internally and translate their
// failures into *Error values so the dispatcher can tell transient errors apart.
type Provider interface {
	// CreateTextCompletion issues a classic completion request. opts carries a "prompt" field.
	CreateTextCompletion(ctx context.Context, opts Options) (*RawResponse, error)

	// CreateChatCompletion issues a chat request. opts carries a "messages" field.
	CreateChatCompletion(ctx context.Context, opts Options) (*RawResponse, error)
}

// Call invokes the provider operation matching mode.
func Call(ctx context.Context, p Provider, mode Mode, opts Options) (*RawResponse, error) {
	if mode == ModeChat {
		return p.CreateChatCompletion(ctx, opts)
	}
	return p.CreateTextCompletion(ctx, opts)
}

// Middleware provides hooks for decorating Provider calls.
// This allows adding cross-cutting concerns like logging without touching providers.
type Middleware interface {
	// BeforeRequest is called before making an API request.
	// It can modify the options or return an error to abort the request.
	BeforeRequest(ctx context.Context, mode Mode, opts Options) (Options, error)

	// AfterResponse is called after receiving a response.
	// It can modify the response or return an error.
	AfterResponse(ctx context.Context, mode Mode, opts Options, resp *RawResponse) (*RawResponse, error)

	// OnError is called when an error occurs.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, mode Mode, opts Options, err error) error
}

// MiddlewareFunc is a function type that implements Middleware.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, mode Mode, opts Options) (Options, error)
	AfterResponseFunc func(ctx context.Context, mode Mode, opts Options, resp *RawResponse) (*RawResponse, error)
	OnErrorFunc       func(ctx context.Context, mode Mode, opts Options, err error) error
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, mode Mode, opts Options) (Options, error) {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, mode, opts)
	}
	return opts, nil
}

// AfterResponse calls the AfterResponseFunc if set.
func (f MiddlewareFunc) AfterResponse(ctx context.Context, mode Mode, opts Options, resp *RawResponse) (*RawResponse, error) {
	if f.AfterResponseFunc != nil {
		return f.AfterResponseFunc(ctx, mode, opts, resp)
	}
	return resp, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, mode Mode, opts Options, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, mode, opts, err)
	}
	return err
}

// WrapWithMiddleware wraps a Provider with middleware and returns a new Provider.
func WrapWithMiddleware(provider Provider, middleware ...Middleware) Provider {
	if len(middleware) == 0 {
		return provider
	}
	return &providerWithMiddleware{
		provider:   provider,
		middleware: middleware,
	}
}

type providerWithMiddleware struct {
	provider   Provider
	middleware []Middleware
}

func (p *providerWithMiddleware) CreateTextCompletion(ctx context.Context, opts Options) (*RawResponse, error) {
	return p.call(ctx, ModeText, opts)
}

func (p *providerWithMiddleware) CreateChatCompletion(ctx context.Context, opts Options) (*RawResponse, error) {
	return p.call(ctx, ModeChat, opts)
}

func (p *providerWithMiddleware) call(ctx context.Context, mode Mode, opts Options) (*RawResponse, error) {
	for _, mw := range p.middleware {
		var err error
		opts, err = mw.BeforeRequest(ctx, mode, opts)
		if err != nil {
			return nil, err
		}
	}

	resp, err := Call(ctx, p.provider, mode, opts)
	if err != nil {
		for _, mw := range p.middleware {
			if handled := mw.OnError(ctx, mode, opts, err); handled != nil {
				err = handled
			}
		}
		return nil, err
	}

	// AfterResponse runs in reverse order
	for i := len(p.middleware) - 1; i >= 0; i-- {
		resp, err = p.middleware[i].AfterResponse(ctx, mode, opts, resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Ensure providerWithMiddleware implements Provider
var _ Provider = (*providerWithMiddleware)(nil)
