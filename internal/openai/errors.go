package openai

import (
	"errors"
	"fmt"
)

// RateLimitError means the service asked us to slow down.
type RateLimitError struct {
	Path string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s", e.Path)
}

// ServiceError is any transport or non-2xx failure other than a rate limit.
type ServiceError struct {
	Path   string
	Status int
	Reason string
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("service error on %s: status %d: %s", e.Path, e.Status, e.Reason)
	}
	return fmt.Sprintf("service error on %s: %s", e.Path, e.Reason)
}

// MalformedResponseError means the service answered 2xx with a body that does
// not match the expected shape.
type MalformedResponseError struct {
	Path   string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %s", e.Path, e.Reason)
}

// ErrDimensionMismatch marks an embedding whose length differs from the
// configured dimensionality. This is a configuration fault, never retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

func IsRateLimited(err error) bool {
	var rateLimitErr *RateLimitError
	return errors.As(err, &rateLimitErr)
}

func IsMalformedResponse(err error) bool {
	var malformedErr *MalformedResponseError
	return errors.As(err, &malformedErr)
}
