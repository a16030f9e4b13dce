package models

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedAddress = errors.New("address not recognized by gateway")
	ErrNoRecipientFound = errors.New("missing recipient in mirror email")
	ErrUnknownChannel   = errors.New("bad channel token from email recipient")
	ErrNoBodyFound      = errors.New("unable to find plaintext or HTML message body")
	ErrEmptyBody        = errors.New("email has no nonempty body sections; ignoring")
	ErrConfiguration    = errors.New("email gateway is not configured")
	ErrThrottled        = errors.New("rate limit exceeded")
	ErrInactiveUser     = errors.New("sending user is not active")
	ErrDelivery         = errors.New("message delivery failed")
	ErrUpload           = errors.New("attachment upload failed")

	// ErrTokenUnusable is matched by every reply token failure; callers see a
	// single "expired or exhausted" outcome.
	ErrTokenUnusable  = errors.New("reply address expired or exhausted")
	ErrTokenNotFound  = errors.New("reply token not found")
	ErrTokenExpired   = errors.New("reply token expired")
	ErrTokenExhausted = errors.New("reply token out of uses")
)

// TokenError reports an unusable reply token. Reason keeps the precise cause
// for logs and metrics, Error() only ever shows the merged message.
type TokenError struct {
	Reason error
}

// Error returns the merged "expired or exhausted" message.
func (e *TokenError) Error() string {
	return ErrTokenUnusable.Error()
}

// Unwrap returns the precise reason.
func (e *TokenError) Unwrap() error {
	return e.Reason
}

// Is matches ErrTokenUnusable.
func (e *TokenError) Is(target error) bool {
	return target == ErrTokenUnusable
}

// NewTokenError wraps one of ErrTokenNotFound, ErrTokenExpired or ErrTokenExhausted.
func NewTokenError(reason error) error {
	return &TokenError{Reason: reason}
}

// TokenFailureReason returns a short label for the cause of a token error.
func TokenFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenExhausted):
		return "exhausted"
	}
	return "unknown"
}

// IsUserError reports whether err was caused by the content of the inbound
// email itself. Such errors are logged and the message is dropped without a report.
func IsUserError(err error) bool {
	for _, target := range []error{ErrMalformedAddress, ErrUnknownChannel, ErrTokenUnusable, ErrNoBodyFound, ErrEmptyBody} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsDomainError reports whether err belongs to the gateway error taxonomy.
func IsDomainError(err error) bool {
	if IsUserError(err) {
		return true
	}
	for _, target := range []error{ErrNoRecipientFound, ErrConfiguration, ErrThrottled, ErrInactiveUser, ErrDelivery, ErrUpload} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Errorf wraps a sentinel error with additional context.
func Errorf(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
