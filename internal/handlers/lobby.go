// internal/handlers/lobby.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/achievements"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/players"
)

const (
	defaultMaxPlayers = 4
	hostSearchLimit   = 50
)

type createLobbyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxPlayers  int    `json:"maxPlayers"`
	Private     bool   `json:"private"`
}

type updateLobbyRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	GameID      *uuid.UUID `json:"gameId"`
}

type startLobbyRequest struct {
	GameID uuid.UUID `json:"gameId"`
}

type inviteRequest struct {
	PlayerID uuid.UUID `json:"playerId"`
}

type searchResponse struct {
	Lobbies []lobby.Snapshot `json:"lobbies"`
	Total   int              `json:"total"`
	Page    int              `json:"page"`
	Size    int              `json:"size"`
}

// CreateLobbyHandler creates a WAITING lobby hosted by the caller.
func CreateLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hostID, ok := callerID(w, r)
		if !ok {
			return
		}
		var req createLobbyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.MaxPlayers == 0 {
			req.MaxPlayers = defaultMaxPlayers
		}

		l, err := s.Lobbies.Create(r.Context(), lobby.CreateParams{
			HostID:      hostID,
			Name:        req.Name,
			Description: req.Description,
			MaxPlayers:  req.MaxPlayers,
			Private:     req.Private,
		})
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, l.Snapshot())
	}
}

func GetLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID, ok := pathID(w, r)
		if !ok {
			return
		}
		l, err := s.Lobbies.Get(r.Context(), lobbyID)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Snapshot())
	}
}

// CurrentLobbyHandler returns the caller's active lobby.
func CurrentLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := callerID(w, r)
		if !ok {
			return
		}
		l, err := s.Lobbies.GetByPlayer(r.Context(), playerID)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Snapshot())
	}
}

func UpdateLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hostID, ok := callerID(w, r)
		if !ok {
			return
		}
		lobbyID, ok := pathID(w, r)
		if !ok {
			return
		}
		var req updateLobbyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		l, err := s.Lobbies.Update(r.Context(), lobbyID, hostID, lobby.UpdateParams{
			Name:        req.Name,
			Description: req.Description,
			GameID:      req.GameID,
		})
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Snapshot())
	}
}

// memberAction adapts a (lobby, caller) service call into a handler.
func memberAction(s *LobbyServer, fn func(r *http.Request, lobbyID, playerID uuid.UUID) (*lobby.Lobby, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := callerID(w, r)
		if !ok {
			return
		}
		lobbyID, ok := pathID(w, r)
		if !ok {
			return
		}
		l, err := fn(r, lobbyID, playerID)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Snapshot())
	}
}

func JoinLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return memberAction(s, func(r *http.Request, lobbyID, playerID uuid.UUID) (*lobby.Lobby, error) {
		return s.Lobbies.Join(r.Context(), lobbyID, playerID)
	})
}

func LeaveLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return memberAction(s, func(r *http.Request, lobbyID, playerID uuid.UUID) (*lobby.Lobby, error) {
		return s.Lobbies.Leave(r.Context(), lobbyID, playerID)
	})
}

func CompleteLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return memberAction(s, func(r *http.Request, lobbyID, hostID uuid.UUID) (*lobby.Lobby, error) {
		return s.Lobbies.Complete(r.Context(), lobbyID, hostID)
	})
}

// StartLobbyHandler starts the lobby. The body may select the game.
func StartLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hostID, ok := callerID(w, r)
		if !ok {
			return
		}
		lobbyID, ok := pathID(w, r)
		if !ok {
			return
		}
		var req startLobbyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		l, err := s.Lobbies.Start(r.Context(), lobbyID, hostID, req.GameID)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Snapshot())
	}
}

func InviteHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hostID, ok := callerID(w, r)
		if !ok {
			return
		}
		lobbyID, ok := pathID(w, r)
		if !ok {
			return
		}
		var req inviteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.PlayerID == uuid.Nil {
			http.Error(w, "playerId is required", http.StatusBadRequest)
			return
		}
		l, err := s.Lobbies.Invite(r.Context(), lobbyID, hostID, req.PlayerID)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Snapshot())
	}
}

// SearchLobbiesHandler lists open public lobbies, optionally narrowed by game
// and by a host username fragment.
func SearchLobbiesHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter lobby.SearchFilter

		if raw := q.Get("gameId"); raw != "" {
			gameID, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid gameId", http.StatusBadRequest)
				return
			}
			filter.GameID = gameID
		}
		page, ok := queryInt(w, q.Get("page"), "page")
		if !ok {
			return
		}
		size, ok := queryInt(w, q.Get("size"), "size")
		if !ok {
			return
		}
		p := lobby.Page{Number: page, Size: size}.Normalize()

		if name := q.Get("hostUsername"); name != "" {
			hosts, err := s.Players.SearchPlayers(r.Context(), name, players.Filter{}, hostSearchLimit)
			if err != nil {
				writeError(w, s.Logger, err)
				return
			}
			if len(hosts) == 0 {
				writeJSON(w, http.StatusOK, searchResponse{Lobbies: []lobby.Snapshot{}, Page: p.Number, Size: p.Size})
				return
			}
			for _, h := range hosts {
				filter.HostIDs = append(filter.HostIDs, h.ID)
			}
		}

		res, err := s.Lobbies.Search(r.Context(), filter, p)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		out := searchResponse{
			Lobbies: make([]lobby.Snapshot, 0, len(res.Lobbies)),
			Total:   res.Total,
			Page:    res.Page.Number,
			Size:    res.Page.Size,
		}
		for _, l := range res.Lobbies {
			out.Lobbies = append(out.Lobbies, l.Snapshot())
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// ExternalInstanceHandler returns the external game instance mapped to the
// lobby, if any.
func ExternalInstanceHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID, ok := pathID(w, r)
		if !ok {
			return
		}
		if _, err := s.Lobbies.Get(r.Context(), lobbyID); err != nil {
			writeError(w, s.Logger, err)
			return
		}
		inst, err := s.Instances.FindByLobbyID(r.Context(), lobbyID)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, inst)
	}
}

func PlayerAchievementsHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := pathID(w, r)
		if !ok {
			return
		}
		list, err := s.Achievements.ListForPlayer(r.Context(), playerID)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		if list == nil {
			list = []achievements.PlayerAchievement{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
