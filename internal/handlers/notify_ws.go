// internal/handlers/notify_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sergioBarril/smashbot/internal/middleware"
	"github.com/sergioBarril/smashbot/internal/notify"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// notificationStream upgrades to a websocket and forwards every message the
// caller receives. With ?replay=1 the caller's live history is sent first.
func (s *Server) notificationStream(w http.ResponseWriter, r *http.Request) {
	player := identity(r).PlayerID
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{notifySubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Log.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != notifySubprotocol {
		c.Close(BadSubprotocolError, "client must speak the arena subprotocol")
		return
	}

	log := s.Log.WithField("player", player)
	middleware.LogWebSocketConnect(log, r.RemoteAddr, r.URL.Path)

	conn := s.Notify.Attach(player)
	defer s.Notify.Detach(conn)

	// clients never send anything; CloseRead handles control frames and
	// cancels ctx once the peer goes away
	ctx := c.CloseRead(r.Context())

	if r.URL.Query().Get("replay") == "1" {
		for _, m := range s.Notify.History(player) {
			if err := writeOutbound(ctx, c, notify.Outbound{Type: "message", Message: m}); err != nil {
				middleware.LogWebSocketDisconnect(log, r.RemoteAddr, r.URL.Path, err)
				return
			}
		}
	}

	err = writePump(ctx, c, conn, log)
	middleware.LogWebSocketDisconnect(log, r.RemoteAddr, r.URL.Path, err)
	if err == nil {
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// writePump drains conn.Out into the socket and pings periodically. It
// returns nil when ctx ends and the write error otherwise.
func writePump(ctx context.Context, c *websocket.Conn, conn *notify.Conn, log logrus.FieldLogger) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-conn.Out:
			if err := writeOutbound(ctx, c, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				log.WithError(err).Debug("websocket ping failed")
				return err
			}
		}
	}
}

func writeOutbound(ctx context.Context, c *websocket.Conn, msg notify.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}
