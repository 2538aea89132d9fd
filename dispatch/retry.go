package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hal9ai/dspy/llm"
)

const (
	// DefaultInitialInterval is the first pause after a transient failure
	DefaultInitialInterval = 1 * time.Second
	// DefaultMaxInterval caps a single pause
	DefaultMaxInterval = 60 * time.Second
	// DefaultMultiplier grows the pause after each failure
	DefaultMultiplier = 2.0
	// DefaultRandomizationFactor jitters each pause by +/- 50%
	DefaultRandomizationFactor = 0.5
	// DefaultMaxElapsedTime is the total time budget across all attempts
	DefaultMaxElapsedTime = 1000 * time.Second
)

// Attempt describes one failed call that is about to be retried.
type Attempt struct {
	// Attempt is the 1-based number of the call that failed.
	Attempt int
	// Wait is the pause before the next call.
	Wait time.Duration
	// Target is the operation being retried, e.g. "openai.text".
	Target string
	Mode   llm.Mode
	Key    string
	// Options are the decoded request arguments of the failed call.
	Options llm.Options
	Err     error
}

// Policy configures retry behaviour. Attempts are unbounded; MaxElapsedTime is the only limit.
type Policy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxElapsedTime      time.Duration

	// Retryable reports whether err is transient. Nil means llm.IsTransientError.
	Retryable func(err error) bool

	// Notify is called before every pause. Optional.
	Notify func(Attempt)
}

// DefaultPolicy returns the exponential backoff policy used for provider calls.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     DefaultInitialInterval,
		MaxInterval:         DefaultMaxInterval,
		Multiplier:          DefaultMultiplier,
		RandomizationFactor: DefaultRandomizationFactor,
		MaxElapsedTime:      DefaultMaxElapsedTime,
		Retryable:           llm.IsTransientError,
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return llm.IsTransientError(err)
	}
	return p.Retryable(err)
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.RandomizationFactor
	eb.MaxElapsedTime = p.MaxElapsedTime
	eb.Reset()
	return eb
}

// retryAfterBackOff stretches a pause to the provider's Retry-After hint when one is known.
// A hint that would overrun the elapsed-time budget stops the retries instead.
type retryAfterBackOff struct {
	*backoff.ExponentialBackOff
	lastErr *error
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.ExponentialBackOff.NextBackOff()
	if next == backoff.Stop || b.lastErr == nil {
		return next
	}
	hint := llm.ExtractRetryAfter(*b.lastErr)
	if hint == nil || *hint <= next {
		return next
	}
	if budget := b.MaxElapsedTime; budget > 0 && b.GetElapsedTime()+*hint > budget {
		return backoff.Stop
	}
	return *hint
}

// Retry calls fn until it succeeds, returns a non-retryable error, the elapsed-time
// budget runs out, or ctx is done. On budget exhaustion the last error is returned.
func Retry(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var (
		attempt int
		lastErr error
	)

	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !policy.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if policy.Notify != nil {
			policy.Notify(Attempt{Attempt: attempt, Wait: wait, Err: err})
		}
	}

	b := backoff.WithContext(&retryAfterBackOff{ExponentialBackOff: policy.newBackOff(), lastErr: &lastErr}, ctx)
	err := backoff.RetryNotify(operation, b, notify)

	// A cancelled context surfaces the last provider error alongside the cancellation.
	if err != nil && lastErr != nil && errors.Is(err, ctx.Err()) && !errors.Is(lastErr, err) {
		return errors.Join(err, lastErr)
	}
	return err
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, policy, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
