package puddle

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrAPI matches every error produced at the API layer
// (*APIResponseError and *APIDecodeError) via errors.Is.
var ErrAPI = errors.New("puddle: api error")

// TransportError is a failure below HTTP (dial, TLS, timeout, reset). It is
// returned unwrapped once retries are exhausted.
type TransportError = url.Error

// IsTransport reports whether err is, or wraps, a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// APIResponseError is a terminal non-2xx response.
type APIResponseError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIResponseError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("puddle: %s: http status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("puddle: http status %d", e.Status)
}

func (e *APIResponseError) Is(target error) bool { return target == ErrAPI }

// APIDecodeError is a 2xx response whose body is not the expected shape.
// It is never retried.
type APIDecodeError struct {
	Endpoint string
	Raw      string
	Err      error
}

func (e *APIDecodeError) Error() string {
	msg := "puddle: invalid response body"
	if e.Endpoint != "" {
		msg = "puddle: " + e.Endpoint + ": invalid response body"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIDecodeError) Unwrap() error { return e.Err }

func (e *APIDecodeError) Is(target error) bool { return target == ErrAPI }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *APIResponseError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
