package trust

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned when a target UUID or host matches no
	// trusted device.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrHostUnavailable is returned when a host is on the down-device list
	// and must not be signed for.
	ErrHostUnavailable = errors.New("host is unavailable")

	// ErrMissingCredentials is returned when a declared device that must be
	// (re)created carries no usable credential.
	ErrMissingCredentials = errors.New("declared device missing targetUsername or targetPassphrase")

	// ErrMissingDeclaration is returned when a declaration body has no
	// devices list.
	ErrMissingDeclaration = errors.New("missing declaration")
)

// RequestError pairs an error with the HTTP status code it should map to at
// the API surface.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a non-2xx answer from the local or remote management
// API. The upstream status and body are carried verbatim; they are logged and
// surfaced but never silently retried.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("request error: status: %d error: %s", e.StatusCode, e.Body)
}

// StatusCodeOf extracts the HTTP status a gateway error maps to. Unknown
// errors map to 500.
func StatusCodeOf(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return 404
	case errors.Is(err, ErrHostUnavailable):
		return 503
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrMissingDeclaration):
		return 400
	}
	return 500
}
