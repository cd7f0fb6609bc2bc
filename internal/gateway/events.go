package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// eventWriteTimeout bounds one WebSocket write so a stalled client
// cannot wedge its bridge goroutine.
const eventWriteTimeout = 5 * time.Second

// eventBuffer is the per-client subscription depth. Clients that fall
// further behind lose events; the drop count is reported on close.
const eventBuffer = 64

// handleEvents upgrades to WebSocket and streams bus events as JSON
// until the client disconnects or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	sub := s.events.Subscribe("ws:"+r.RemoteAddr, eventBuffer)
	defer sub.Close()

	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("event stream connected")

	// Drain client frames so pings are answered and closes noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			msg, err := json.Marshal(ev)
			if err != nil {
				logger.Warn("event encode failed", "kind", ev.Kind, "err", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(r.Context(), eventWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				logger.Debug("event stream write failed", "err", err)
				return
			}
		case <-clientGone:
			logger.Info("event stream disconnected", "dropped", sub.Dropped())
			return
		case <-r.Context().Done():
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
	}
}
