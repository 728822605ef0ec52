// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/middleware"
	"github.com/jason-s-yu/gamelobby/internal/notify"
	"github.com/sirupsen/logrus"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// snapshotMessage is the first frame sent on a lobby socket.
type snapshotMessage struct {
	Type  string         `json:"type"`
	Lobby lobby.Snapshot `json:"lobby"`
}

// LobbyWSHandler streams the lobby's domain events to a watcher. The socket
// is push-only; commands go through the REST endpoints.
func LobbyWSHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID, ok := pathID(w, r)
		if !ok {
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"lobby"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "lobby" {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}

		userID, ok := middleware.UserID(r.Context())
		if !ok {
			c.Close(InvalidUserIDError, "missing caller identity")
			return
		}

		l, err := s.Lobbies.Get(r.Context(), lobbyID)
		if err != nil {
			if !errors.Is(err, lobby.ErrNotFound) {
				s.Logger.WithError(err).WithField("lobby_id", lobbyID).Error("failed to load lobby for websocket")
			}
			c.Close(InvalidLobbyIDError, "lobby does not exist")
			return
		}
		if !mayWatch(l, userID) {
			c.Close(NotAllowedError, "user not invited to private lobby")
			return
		}

		log := s.Logger.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": userID})
		middleware.LogWebSocketConnect(log, r.RemoteAddr, r.URL.Path)

		conn, unsubscribe := s.Hub.Subscribe(lobbyID, userID)
		defer unsubscribe()

		// Reads only service control frames; the context ends when the peer goes away.
		ctx := c.CloseRead(r.Context())

		if err := writeFrame(ctx, c, snapshotMessage{Type: "lobby.snapshot", Lobby: l.Snapshot()}); err != nil {
			middleware.LogWebSocketDisconnect(log, r.RemoteAddr, r.URL.Path, err)
			return
		}

		err = writePump(ctx, c, conn)
		middleware.LogWebSocketDisconnect(log, r.RemoteAddr, r.URL.Path, err)
		if err == nil {
			c.Close(websocket.StatusNormalClosure, "")
		}
	}
}

func mayWatch(l *lobby.Lobby, userID uuid.UUID) bool {
	if l.Visibility() != lobby.VisibilityPrivate {
		return true
	}
	return l.HasPlayer(userID) || slices.Contains(l.InvitedIDs(), userID)
}

// writePump forwards hub notifications until the hub closes the connection or
// the peer disconnects. It returns nil when the hub side ended the stream.
func writePump(ctx context.Context, c *websocket.Conn, conn *notify.Conn) error {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-conn.Out:
			if !ok {
				return nil
			}
			if err := writeFrame(ctx, c, n); err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func writeFrame(ctx context.Context, c *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, c, v)
}
