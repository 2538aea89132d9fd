package llm

import (
	"errors"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	// Transient provider errors. These are retried by the dispatcher.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeNetwork   ErrorType = "network"

	// Permanent provider errors.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeProvider       ErrorType = "provider"

	// Local errors, never retried.
	ErrorTypeConfiguration     ErrorType = "configuration"
	ErrorTypeUnsupported       ErrorType = "unsupported"
	ErrorTypeContractViolation ErrorType = "contract_violation"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

func isType(err error, t ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == t
	}
	return false
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// IsTransientError reports whether err belongs to the closed set of transient provider
// failures: rate limiting, internal server errors and communication errors.
func IsTransientError(err error) bool {
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		return false
	}
	switch llmErr.Type {
	case ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// IsConfigurationError checks if an error is a configuration error.
func IsConfigurationError(err error) bool {
	return isType(err, ErrorTypeConfiguration)
}

// IsUnsupportedError checks if an error reports an unsupported operation.
func IsUnsupportedError(err error) bool {
	return isType(err, ErrorTypeUnsupported)
}

// IsContractViolation checks if an error reports a caller contract violation.
func IsContractViolation(err error) bool {
	return isType(err, ErrorTypeContractViolation)
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		ProviderErr: providerErr,
	}
}

// NewServerError creates a new transient server error.
func NewServerError(message string, statusCode int, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeServer,
		Message:     message,
		Retryable:   true,
		StatusCode:  statusCode,
		ProviderErr: providerErr,
	}
}

// NewNetworkError creates a new transient communication error.
func NewNetworkError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeConfiguration,
		Message:     message,
		ProviderErr: cause,
	}
}

// NewUnsupportedError creates a new unsupported operation error.
func NewUnsupportedError(message string) *Error {
	return &Error{
		Type:    ErrorTypeUnsupported,
		Message: message,
	}
}

// NewContractViolation creates a new contract violation error.
func NewContractViolation(message string) *Error {
	return &Error{
		Type:    ErrorTypeContractViolation,
		Message: message,
	}
}
