package domain

import "errors"

var (
	// ErrUnauthorized is returned for a missing, invalid or expired credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound covers both missing rows and rows the caller may not see.
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
	ErrInvalid   = errors.New("invalid input")
)

// Error codes carried by error frames and JSON error bodies.
const (
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeForbidden    = "forbidden"
	CodeConflict     = "conflict"
	CodeInvalid      = "invalid"
	CodeInternal     = "internal"
	CodeInvalidFrame = "invalid_frame"
	CodeRateLimited  = "rate_limited"
)

// ErrorCode classifies err by the sentinel it wraps.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrInvalid):
		return CodeInvalid
	default:
		return CodeInternal
	}
}

// PublicMessage returns the text safe to show a client for err. Internal
// failures are not described.
func PublicMessage(err error) string {
	if ErrorCode(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
