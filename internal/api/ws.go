package api

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// handleAlertStream pushes every bus message to the client as a JSON text
// frame. A client that falls behind loses messages instead of stalling the
// bus.
func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket accept error", "err", err)
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	id, ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	// Reads are discarded; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg.JSON())
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}
