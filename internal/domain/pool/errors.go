package pool

import "errors"

// Sentinel kinds for pool errors.
var (
	ErrEmptySubject = errors.New("empty subject")
	ErrFetchFailed  = errors.New("fetch failed")
)
