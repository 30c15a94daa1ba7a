package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"nhbmarket/core/events"
	"nhbmarket/observability"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// handleEventsWS streams sealed event records with a sequence above the
// optional cursor query parameter: backlog first, then live records.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	cursor, err := events.ParseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	observability.Events().SubscriberOpened()
	defer observability.Events().SubscriberClosed()

	// Reads are discarded; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream failed", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	updates, cancel, backlog, err := s.node.SubscribeEvents(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	last := cursor
	for _, rec := range backlog {
		if err := writeRecord(ctx, conn, rec); err != nil {
			return err
		}
		last = rec.Sequence
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				return nil
			}
			if rec.Sequence <= last {
				continue
			}
			// Publish drops records for slow subscribers; fill the gap from
			// the log before forwarding.
			if rec.Sequence > last+1 {
				missed, err := s.node.Events(last, int(rec.Sequence-last-1))
				if err != nil {
					return err
				}
				for _, m := range missed {
					if err := writeRecord(ctx, conn, m); err != nil {
						return err
					}
				}
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			last = rec.Sequence
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec events.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
