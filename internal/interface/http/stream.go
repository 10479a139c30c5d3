package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/housecup/points-engine/internal/application/subscription"
	"github.com/housecup/points-engine/pkg/apierror"
	"github.com/housecup/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIVE UPDATES (SERVER-SENT EVENTS)
// ══════════════════════════════════════════════════════════════════════════════

// handleStream handles GET /api/v1/stream?topic=account:s1&topic=house:h1
//
// Each committed change is sent as an "update" event whose data is a
// subscription.Update. The first events carry the current values of the
// requested topics. Without a topic parameter every aggregate is streamed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		apierror.ServiceUnavailable("Live updates are disabled").Write(w)
		return
	}
	rc := http.NewResponseController(w)

	sub, err := s.deps.Hub.Subscribe(r.Context(), r.URL.Query()["topic"]...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "retry: 3000\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.FromContext(r.Context()).Warn("response does not support streaming", logger.Err(err))
		return
	}

	log := logger.FromContext(r.Context())
	heartbeat := time.NewTicker(s.config.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := writeEvent(w, u); err != nil {
				log.Debug("stream write failed", slog.String("topic", u.Topic), logger.Err(err))
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, u subscription.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s@%d\nevent: update\ndata: %s\n\n", u.Topic, u.Version, data)
	return err
}
