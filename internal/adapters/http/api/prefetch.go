package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/credscore/internal/domain/model"
)

const (
	maxPrefetchBody     = 1 << 20
	maxPrefetchSubjects = 1000
)

// PrefetchDependencies defines the interface for background lookups.
type PrefetchDependencies interface {
	Prefetch(ctx context.Context, subjects []string) (model.PrefetchResult, error)
}

// PrefetchHandler handles prefetch requests.
type PrefetchHandler struct {
	deps PrefetchDependencies
}

// prefetchRequest mirrors the OpenAPI schema for POST /prefetch.
type prefetchRequest struct {
	Subjects []string `json:"subjects"`
}

func (p prefetchRequest) validate() error {
	switch {
	case len(p.Subjects) == 0:
		return fmt.Errorf("%w: missing subjects", ErrBadRequest)
	case len(p.Subjects) > maxPrefetchSubjects:
		return fmt.Errorf("%w: at most %d subjects per request", ErrBadRequest, maxPrefetchSubjects)
	}
	return nil
}

// NewPrefetchHandler creates a new prefetch handler.
func NewPrefetchHandler(deps PrefetchDependencies) *PrefetchHandler {
	return &PrefetchHandler{deps: deps}
}

// HandlePrefetch handles POST /prefetch requests.
func (h *PrefetchHandler) HandlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req prefetchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPrefetchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
		return
	}

	res, err := h.deps.Prefetch(r.Context(), req.Subjects)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if res.Accepted == 0 && res.Rejected > 0 {
		writeError(w, http.StatusTooManyRequests, codeBackpressure,
			fmt.Errorf("%w: %d subjects rejected", ErrBackpressure, res.Rejected))
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
