// internal/session/notice.go
package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// notice is the tolerant view of session lifecycle messages. Engines differ
// in which fields they send and how they format them, so ids are decoded as
// strings and parsed individually.
type notice struct {
	SessionID string   `json:"session_id"`
	LobbyID   *string  `json:"lobby_id"`
	GameID    *string  `json:"game_id"`
	GameType  string   `json:"game_type"`
	Status    string   `json:"status"`
	WinnerID  *string  `json:"winner_id"`
	PlayerIDs []string `json:"player_ids"`
}

func (n notice) sessionID() (uuid.UUID, error) {
	if strings.TrimSpace(n.SessionID) == "" {
		return uuid.Nil, fmt.Errorf("session_id is missing")
	}
	id, err := uuid.Parse(n.SessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session_id %q: %w", n.SessionID, err)
	}
	return id, nil
}

// optionalID parses an optional id. Missing, empty and unparsable values all
// yield uuid.Nil; ok is false only for values that were present but invalid.
func optionalID(s *string) (id uuid.UUID, ok bool) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (n notice) playerIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(n.PlayerIDs))
	for _, s := range n.PlayerIDs {
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}
