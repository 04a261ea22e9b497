package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// handleWS pushes a [StatusView] every status interval, skipping ticks where
// nothing changed. The first message is sent immediately. Client messages
// are read and discarded so that close frames are processed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := s.log.With("remote", r.RemoteAddr)
	log.Debug("status stream opened")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last []byte
	for {
		data, err := json.Marshal(NewStatusView(s.player.Status()))
		if err != nil {
			conn.Close(websocket.StatusInternalError, "encode status")
			return
		}
		if string(data) != string(last) {
			if err := s.push(ctx, conn, data); err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
					log.Debug("status stream write failed", "err", err)
				}
				return
			}
			last = data
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			log.Debug("status stream closed")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
