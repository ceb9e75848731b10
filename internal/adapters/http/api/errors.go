package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/credscore/internal/adapters/repository"
	"github.com/okian/credscore/internal/domain/annotate"
	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/internal/domain/pool"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
)

// Error codes carried in errorResponse.Code.
const (
	codeBadRequest     = "bad_request"
	codeInvalidSubject = "invalid_subject"
	codeLimitExceeded  = "limit_exceeded"
	codeNotFound       = "not_found"
	codeFetchFailed    = "fetch_failed"
	codeTimeout        = "timeout"
	codeBackpressure   = "backpressure"
	codeUnavailable    = "unavailable"
	codeInternal       = "internal_error"
)

// classify maps domain sentinels to a status and code. A fetch failure wins
// over a deadline because the pool's own timeout wraps both.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidSubject), errors.Is(err, pool.ErrEmptySubject):
		return http.StatusBadRequest, codeInvalidSubject
	case errors.Is(err, repository.ErrInvalidLimit), errors.Is(err, annotate.ErrParseDocument):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, pool.ErrFetchFailed):
		return http.StatusBadGateway, codeFetchFailed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
