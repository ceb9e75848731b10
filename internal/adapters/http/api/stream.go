package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/credscore/internal/domain/pool"
	"github.com/okian/credscore/pkg/logger"
)

const (
	streamEvent       = "snapshot"
	heartbeatInterval = 15 * time.Second
)

// StreamDependencies defines the interface for snapshot subscriptions.
type StreamDependencies interface {
	Snapshot() pool.Snapshot
	Subscribe(fn pool.Listener) (cancel func(), err error)
}

// StreamHandler pushes score snapshots to clients as Server-Sent Events.
type StreamHandler struct {
	deps      StreamDependencies
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps StreamDependencies) *StreamHandler {
	return &StreamHandler{deps: deps, heartbeat: heartbeatInterval}
}

// HandleStream handles GET /scores/stream requests. The client gets the
// current snapshot first and then every later one. A slow client skips
// intermediate snapshots and only sees the newest.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := requestLogger(ctx)
	rc := http.NewResponseController(w)

	// The notifying goroutine must never block on a client, so each client
	// owns a one-slot mailbox that always holds the latest snapshot.
	latest := make(chan pool.Snapshot, 1)
	cancel, err := h.deps.Subscribe(func(s pool.Snapshot) {
		for {
			select {
			case latest <- s:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	defer cancel()

	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	log.Debug(ctx, "stream opened")

	// Snapshots only grow, so their size orders them.
	sent := -1
	id := 0
	send := func(s pool.Snapshot) error {
		if len(s) <= sent {
			return nil
		}
		data, err := json.Marshal(scoresResponse{Scores: s, Count: len(s)})
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		id++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, streamEvent, data); err != nil {
			return err
		}
		sent = len(s)
		return rc.Flush()
	}

	if err := send(h.deps.Snapshot()); err != nil {
		log.Debug(ctx, "stream closed", logger.Error(err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-latest:
			if err := send(s); err != nil {
				log.Debug(ctx, "stream closed", logger.Error(err))
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
