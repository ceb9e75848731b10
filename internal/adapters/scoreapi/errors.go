package scoreapi

import "errors"

var (
	// ErrUnexpectedStatus is returned when the scoring API answers with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected status from scoring api")
	// ErrDecode is returned when the response body is not a score document.
	ErrDecode = errors.New("decode score response")
	// ErrBackpressure is returned when the server answers 429.
	ErrBackpressure = errors.New("server is applying backpressure")
	// ErrEmptyBaseURL is returned by New when no base URL is given.
	ErrEmptyBaseURL = errors.New("scoring api base url is empty")
)
