package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/internal/domain/pool"
)

// ScoresDependencies defines the interface for score lookups.
type ScoresDependencies interface {
	Score(ctx context.Context, subject string) (int, error)
	Snapshot() pool.Snapshot
}

// ScoresHandler handles score requests.
type ScoresHandler struct {
	deps    ScoresDependencies
	timeout time.Duration
}

type scoreResponse struct {
	Subject string `json:"subject"`
	Score   int    `json:"score"`
}

type scoresResponse struct {
	Scores pool.Snapshot `json:"scores"`
	Count  int           `json:"count"`
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps ScoresDependencies, timeout time.Duration) *ScoresHandler {
	return &ScoresHandler{deps: deps, timeout: timeout}
}

// HandleGetScore handles GET /scores/{subject} requests.
func (h *ScoresHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	score, err := h.deps.Score(ctx, subject)
	if err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			// client went away, nobody to answer
			return
		}
		writeDomainError(w, r, err)
		return
	}
	if normalized, ok := model.NormalizeSubject(subject); ok {
		subject = normalized
	}
	writeJSON(w, http.StatusOK, scoreResponse{Subject: subject, Score: score})
}

// HandleListScores handles GET /scores requests.
func (h *ScoresHandler) HandleListScores(w http.ResponseWriter, _ *http.Request) {
	snap := h.deps.Snapshot()
	writeJSON(w, http.StatusOK, scoresResponse{Scores: snap, Count: len(snap)})
}
