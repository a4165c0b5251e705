package apperrors

import "errors"

// Standardized infrastructure errors
var (
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrFeedClosed        = errors.New("price feed closed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetwork           = errors.New("network error")
	ErrInvalidCoin       = errors.New("invalid coin")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrProfileCorrupt    = errors.New("profile data corrupt")
	ErrStoreClosed       = errors.New("store closed")
)
