package errors

import "errors"

// Local errors.
var (
	ErrStorageUnavailable = errors.New("local storage unavailable")
	ErrUploadInFlight     = errors.New("upload already in progress")
)

// Identity errors.
var (
	ErrUnauthenticated = errors.New("not signed in")
	ErrInvalidToken    = errors.New("invalid or expired token")
)

// Remote store errors.
var (
	ErrNotFound = errors.New("document not found")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
