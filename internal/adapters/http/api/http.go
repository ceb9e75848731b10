// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/internal/domain/pool"
	"github.com/okian/credscore/pkg/logger"
)

const defaultMaxLimit = 100

// DefaultRequestTimeout applies when WithRequestTimeout is not given a
// positive duration.
const DefaultRequestTimeout = 5 * time.Second

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Score resolves a subject through the shared pool.
	Score(ctx context.Context, subject string) (int, error)
	Snapshot() pool.Snapshot
	Subscribe(fn pool.Listener) (cancel func(), err error)

	// Prefetch queues background lookups. Backpressure shows up as Rejected.
	Prefetch(ctx context.Context, subjects []string) (model.PrefetchResult, error)
	Annotate(ctx context.Context, document io.Reader) ([]model.Badge, error)

	// Read operations expose leaderboard data.
	TopN(ctx context.Context, n int) ([]Entry, error)
	Rank(ctx context.Context, subject string) (Entry, error)
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = model.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	scoresHandler      *ScoresHandler
	streamHandler      *StreamHandler
	prefetchHandler    *PrefetchHandler
	annotateHandler    *AnnotateHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler

	logger         logger.Logger
	requestTimeout time.Duration
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := config{
		maxLimit:       defaultMaxLimit,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Named("api")
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		scoresHandler:      NewScoresHandler(deps, cfg.requestTimeout),
		streamHandler:      NewStreamHandler(deps),
		prefetchHandler:    NewPrefetchHandler(deps),
		annotateHandler:    NewAnnotateHandler(deps, cfg.requestTimeout),
		leaderboardHandler: NewLeaderboardHandler(deps, cfg.maxLimit),
		rankHandler:        NewRankHandler(deps),
		logger:             cfg.logger,
		requestTimeout:     cfg.requestTimeout,
	}
}

// RequestTimeout is how long score and annotation handlers wait before
// answering 504. The HTTP server's write timeout must exceed it.
func (s *Server) RequestTimeout() time.Duration {
	return s.requestTimeout
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.Handle(pattern, RequestIDMiddleware(RequestLoggerMiddleware(MetricsMiddleware(h, endpoint), s.logger)))
	}
	route("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	route("GET /stats", "stats", s.statsHandler.HandleStats)
	route("GET /scores", "scores_list", s.scoresHandler.HandleListScores)
	route("GET /scores/stream", "scores_stream", s.streamHandler.HandleStream)
	route("GET /scores/{subject}", "scores_get", s.scoresHandler.HandleGetScore)
	route("POST /prefetch", "prefetch", s.prefetchHandler.HandlePrefetch)
	route("POST /annotate", "annotate", s.annotateHandler.HandleAnnotate)
	route("GET /leaderboard", "leaderboard", s.leaderboardHandler.HandleGetLeaderboard)
	route("GET /rank/{subject}", "rank", s.rankHandler.HandleGetRank)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps a domain error onto its HTTP status and code. Server
// side failures are logged with the request ID.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context()).Warn(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.String("code", code),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}
