// Package errs holds error classifications shared across layers.
package errs

import "errors"

var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when input data is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when the bearer token is missing or rejected
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable is returned when the remote side fails or cannot be reached
	ErrUnavailable = errors.New("service unavailable")

	// ErrUnexpectedStatus is returned for any other non-2xx response
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrNoToken is returned when no bearer token is available
	ErrNoToken = errors.New("no authentication token")
)
