// internal/handlers/server.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/gamelobby/internal/achievements"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/notify"
	"github.com/jason-s-yu/gamelobby/internal/players"
	"github.com/sirupsen/logrus"
)

// LobbyServer holds what the HTTP edge needs to serve lobby requests.
type LobbyServer struct {
	Lobbies      *lobby.Service
	Instances    lobby.InstanceStore
	Players      players.Directory
	Achievements *achievements.Service
	Hub          *notify.Hub
	Logger       logrus.FieldLogger
}

// Routes registers every endpoint on a new mux. Identity and request logging
// are applied by the caller.
func (s *LobbyServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/lobbies", CreateLobbyHandler(s))
	mux.HandleFunc("GET /api/lobbies/current", CurrentLobbyHandler(s))
	mux.HandleFunc("GET /api/lobbies/search", SearchLobbiesHandler(s))
	mux.HandleFunc("GET /api/lobbies/{id}", GetLobbyHandler(s))
	mux.HandleFunc("PATCH /api/lobbies/{id}", UpdateLobbyHandler(s))
	mux.HandleFunc("POST /api/lobbies/{id}/join", JoinLobbyHandler(s))
	mux.HandleFunc("POST /api/lobbies/{id}/leave", LeaveLobbyHandler(s))
	mux.HandleFunc("POST /api/lobbies/{id}/start", StartLobbyHandler(s))
	mux.HandleFunc("POST /api/lobbies/{id}/invite", InviteHandler(s))
	mux.HandleFunc("POST /api/lobbies/{id}/complete", CompleteLobbyHandler(s))
	mux.HandleFunc("GET /api/lobbies/{id}/external-game-instance", ExternalInstanceHandler(s))
	mux.HandleFunc("GET /api/lobbies/{id}/ws", LobbyWSHandler(s))

	if s.Achievements != nil {
		mux.HandleFunc("GET /api/players/{id}/achievements", PlayerAchievementsHandler(s))
	}
	return mux
}
