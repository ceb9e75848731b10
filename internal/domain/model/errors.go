package model

import "errors"

var (
	// ErrInvalidSubject is returned for identifiers that normalize to nothing.
	ErrInvalidSubject = errors.New("invalid subject")
	// ErrUnavailable marks operations refused because the service is not running.
	ErrUnavailable = errors.New("unavailable")
)
