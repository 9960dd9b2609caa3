package identity

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned by New when no API key is configured
var ErrMissingAPIKey = errors.New("identity: api key is required")

// NetworkError means the request never produced a response
type NetworkError struct {
	Op  Operation
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RejectedError means the provider answered and refused the request.
// Message is the provider's error message or the operation's default.
type RejectedError struct {
	Op         Operation
	StatusCode int
	Message    string
}

// Error returns Message unchanged so it can be shown to the user as is
func (e *RejectedError) Error() string {
	return e.Message
}

// IsNetwork reports whether err is a NetworkError
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRejected reports whether err is a RejectedError
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
