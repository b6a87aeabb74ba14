package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/lifecycle"
	"github.com/iliyamo/table-booking-session/internal/middleware"
	"github.com/iliyamo/table-booking-session/internal/session"
)

// StreamHandler pushes lifecycle snapshots and indicator changes to an open
// page as server-sent events.  An open stream is a lifecycle view: while
// one is connected the controller polls the payment and counts down.
type StreamHandler struct {
	heartbeat time.Duration
	log       *zap.Logger
}

// NewStreamHandler returns a StreamHandler that writes a keep-alive comment
// every heartbeat (15s when zero).
func NewStreamHandler(heartbeat time.Duration, log *zap.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamHandler{heartbeat: heartbeat, log: log}
}

type streamEvent struct {
	name string
	data any
}

// Stream handles GET /v1/session/stream.  Events:
//
//	state: a lifecycle.Snapshot
//	indicators: a session.Indicators
func (h *StreamHandler) Stream(c echo.Context) error {
	s := middleware.SessionFrom(c)
	ctx := c.Request().Context()

	events := make(chan streamEvent, 32)
	send := func(ev streamEvent) {
		select {
		case events <- ev:
		default:
			h.log.Debug("stream: dropping event for slow client", zap.String("profile", s.Profile), zap.String("event", ev.name))
		}
	}
	unsubState := s.Lifecycle.Subscribe(func(snap lifecycle.Snapshot) { send(streamEvent{"state", snap}) })
	defer unsubState()
	unsubInd := s.Sync.Subscribe(func(in session.Indicators) { send(streamEvent{"indicators", in}) })
	defer unsubInd()

	in := s.Sync.Resync(ctx)
	detach := s.Lifecycle.Attach(ctx)
	defer detach()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "retry: 2000\n\n")

	if err := writeEvent(w, "state", s.Lifecycle.Snapshot()); err != nil {
		return nil
	}
	if err := writeEvent(w, "indicators", in); err != nil {
		return nil
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := writeEvent(w, ev.name, ev.data); err != nil {
				h.log.Debug("stream closed", zap.String("profile", s.Profile), zap.Error(err))
				return nil
			}
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, name string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	w.Flush()
	return nil
}
