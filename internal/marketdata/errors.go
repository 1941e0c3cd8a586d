package marketdata

import (
	"errors"
	"fmt"
)

// Acquisition errors
var (
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrInvalidTimeframe   = errors.New("invalid timeframe")
	ErrInvalidPeriods     = errors.New("periods must be positive")
	ErrNoProviders        = errors.New("no providers configured")
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// Error codes carried by ProviderError.
const (
	ErrCodeRateLimit        = "RATE_LIMIT"
	ErrCodeBreakerOpen      = "BREAKER_OPEN"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeInvalidSymbol    = "INVALID_SYMBOL"
	ErrCodeInsufficientData = "INSUFFICIENT_DATA"
	ErrCodeAPIError         = "API_ERROR"
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeInvalidData      = "INVALID_DATA"
	ErrCodeCancelled        = "CANCELLED"
)

// ProviderError describes why one provider attempt failed. RateLimited
// failures are skipped silently by the fallback chain; Temporary failures
// leave the provider in rotation.
type ProviderError struct {
	Provider    string `json:"provider"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	RateLimited bool   `json:"rate_limited"`
	Temporary   bool   `json:"temporary"`
	Cause       error  `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError builds a temporary API-level failure.
func NewProviderError(provider, code, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Temporary: code == ErrCodeTimeout || code == ErrCodeNetworkError || code == ErrCodeAPIError,
		Cause:     cause,
	}
}
