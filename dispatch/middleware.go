package dispatch

import (
	"context"

	"github.com/hal9ai/dspy/llm"
	"github.com/rs/zerolog"
)

// LoggingMiddleware logs every provider call and its outcome.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger.With().Str("component", "providerLogging").Logger(),
	}
}

// BeforeRequest implements llm.Middleware.BeforeRequest.
func (m *LoggingMiddleware) BeforeRequest(ctx context.Context, mode llm.Mode, opts llm.Options) (llm.Options, error) {
	m.logger.Debug().
		Str("mode", string(mode)).
		Interface("model", opts["model"]).
		Int("n", opts.Int("n", 1)).
		Msg("Provider request")
	return opts, nil
}

// AfterResponse implements llm.Middleware.AfterResponse.
func (m *LoggingMiddleware) AfterResponse(ctx context.Context, mode llm.Mode, opts llm.Options, resp *llm.RawResponse) (*llm.RawResponse, error) {
	event := m.logger.Debug().
		Str("mode", string(mode)).
		Str("model", resp.Model).
		Int("choices", len(resp.Choices))
	if resp.Usage != nil {
		event = event.
			Int64("input_tokens", resp.Usage.InputTokens).
			Int64("output_tokens", resp.Usage.OutputTokens)
	}
	event.Msg("Provider response")
	return resp, nil
}

// OnError implements llm.Middleware.OnError.
func (m *LoggingMiddleware) OnError(ctx context.Context, mode llm.Mode, opts llm.Options, err error) error {
	m.logger.Debug().
		Err(err).
		Str("mode", string(mode)).
		Bool("transient", llm.IsTransientError(err)).
		Msg("Provider error")
	return err
}

var _ llm.Middleware = (*LoggingMiddleware)(nil)
