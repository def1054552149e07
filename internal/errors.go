package internal

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned by every backend operation invoked before
// credentials are set. It is never wrapped in an UpdateError.
var ErrNotConfigured = errors.New("web2wave: api key is not configured")

// ErrorKind classifies a failed property update.
type ErrorKind int

const (
	// KindInvalidRequest means the request URL or body could not be built.
	KindInvalidRequest ErrorKind = iota + 1
	// KindMalformedResponse means the backend answered 200 with a body that
	// did not decode or whose result was not "1".
	KindMalformedResponse
	// KindHTTP means the backend answered with a status other than 200.
	KindHTTP
	// KindTransport means the request never produced a response.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindMalformedResponse:
		return "malformed_response"
	case KindHTTP:
		return "http_error"
	case KindTransport:
		return "transport_error"
	}
	return "unknown"
}

// UpdateError describes why UpdateUserProperty did not succeed.
type UpdateError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *UpdateError) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("web2wave: unexpected status code: %d", e.Status)
	case KindMalformedResponse, KindInvalidRequest, KindTransport:
		if e.Err != nil {
			return fmt.Sprintf("web2wave: %s: %v", e.Kind, e.Err)
		}
	}
	return "web2wave: " + e.Kind.String()
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether repeating the same update may succeed.
func (e *UpdateError) IsRetryable() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindHTTP:
		return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
	}
	return false
}

// IsKind reports whether err is an UpdateError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ue *UpdateError
	return errors.As(err, &ue) && ue.Kind == kind
}
