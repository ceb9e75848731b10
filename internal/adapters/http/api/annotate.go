package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/okian/credscore/internal/domain/model"
)

const maxDocumentBody = 2 << 20

// AnnotateDependencies defines the interface for document annotation.
type AnnotateDependencies interface {
	Annotate(ctx context.Context, document io.Reader) ([]model.Badge, error)
}

// AnnotateHandler handles annotation requests.
type AnnotateHandler struct {
	deps    AnnotateDependencies
	timeout time.Duration
}

type annotateResponse struct {
	Badges []model.Badge `json:"badges"`
}

// NewAnnotateHandler creates a new annotate handler.
func NewAnnotateHandler(deps AnnotateDependencies, timeout time.Duration) *AnnotateHandler {
	return &AnnotateHandler{deps: deps, timeout: timeout}
}

// HandleAnnotate handles POST /annotate requests. The body is an HTML
// document; the response carries one badge per subject found in it.
func (h *AnnotateHandler) HandleAnnotate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	badges, err := h.deps.Annotate(ctx, http.MaxBytesReader(w, r.Body, maxDocumentBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, err)
			return
		}
		writeDomainError(w, r, err)
		return
	}
	if badges == nil {
		badges = []model.Badge{}
	}
	writeJSON(w, http.StatusOK, annotateResponse{Badges: badges})
}
