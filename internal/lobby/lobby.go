// internal/lobby/lobby.go
package lobby

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Lobby is a pre-game grouping of players. It is the only authority on which
// transitions are legal; callers mutate it exclusively through its methods and
// persist the result through a Store.
type Lobby struct {
	id          uuid.UUID
	hostID      uuid.UUID
	gameID      uuid.UUID // uuid.Nil when no game is selected
	sessionID   uuid.UUID // uuid.Nil unless STARTED or IN_PROGRESS
	name        string
	description string
	playerIDs   []uuid.UUID
	status      Status
	maxPlayers  int
	visibility  Visibility
	invitedIDs  []uuid.UUID
	createdAt   time.Time
	startedAt   *time.Time

	// version is bumped by stores on every successful save.
	version int64
}

// Snapshot is the persisted form of a Lobby. Stores and handlers read it;
// only Restore turns it back into a mutable aggregate.
type Snapshot struct {
	ID               uuid.UUID   `json:"id"`
	HostID           uuid.UUID   `json:"hostId"`
	GameID           *uuid.UUID  `json:"gameId"`
	SessionID        *uuid.UUID  `json:"sessionId"`
	Name             string      `json:"name"`
	Description      string      `json:"description,omitempty"`
	PlayerIDs        []uuid.UUID `json:"playerIds"`
	Status           Status      `json:"status"`
	MaxPlayers       int         `json:"maxPlayers"`
	Visibility       Visibility  `json:"visibility"`
	InvitedPlayerIDs []uuid.UUID `json:"invitedPlayerIds"`
	CreatedAt        time.Time   `json:"createdAt"`
	StartedAt        *time.Time  `json:"startedAt,omitempty"`
	Version          int64       `json:"version"`
}

// New creates a WAITING lobby with the host as its only member.
func New(hostID uuid.UUID, name, description string, maxPlayers int, visibility Visibility) (*Lobby, error) {
	if hostID == uuid.Nil {
		return nil, opError("create", ErrInvalidArgument, "host id is required")
	}
	if maxPlayers < 1 {
		return nil, opError("create", ErrInvalidArgument, "max players must be at least 1")
	}
	if visibility == "" {
		visibility = VisibilityPublic
	}
	if !visibility.Valid() {
		return nil, opError("create", ErrInvalidArgument, "unknown visibility %q", visibility)
	}
	return &Lobby{
		id:          uuid.New(),
		hostID:      hostID,
		name:        name,
		description: description,
		playerIDs:   []uuid.UUID{hostID},
		status:      StatusWaiting,
		maxPlayers:  maxPlayers,
		visibility:  visibility,
		createdAt:   time.Now().UTC(),
	}, nil
}

// Restore rebuilds an aggregate from persisted state.
func Restore(s Snapshot) *Lobby {
	l := &Lobby{
		id:          s.ID,
		hostID:      s.HostID,
		name:        s.Name,
		description: s.Description,
		playerIDs:   slices.Clone(s.PlayerIDs),
		status:      s.Status,
		maxPlayers:  s.MaxPlayers,
		visibility:  s.Visibility,
		invitedIDs:  slices.Clone(s.InvitedPlayerIDs),
		createdAt:   s.CreatedAt,
		version:     s.Version,
	}
	if s.GameID != nil {
		l.gameID = *s.GameID
	}
	if s.SessionID != nil {
		l.sessionID = *s.SessionID
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		l.startedAt = &t
	}
	return l
}

// Snapshot exports the current state. The returned value shares no memory
// with the aggregate.
func (l *Lobby) Snapshot() Snapshot {
	s := Snapshot{
		ID:               l.id,
		HostID:           l.hostID,
		Name:             l.name,
		Description:      l.description,
		PlayerIDs:        slices.Clone(l.playerIDs),
		Status:           l.status,
		MaxPlayers:       l.maxPlayers,
		Visibility:       l.visibility,
		InvitedPlayerIDs: slices.Clone(l.invitedIDs),
		CreatedAt:        l.createdAt,
		Version:          l.version,
	}
	if s.PlayerIDs == nil {
		s.PlayerIDs = []uuid.UUID{}
	}
	if s.InvitedPlayerIDs == nil {
		s.InvitedPlayerIDs = []uuid.UUID{}
	}
	if l.gameID != uuid.Nil {
		g := l.gameID
		s.GameID = &g
	}
	if l.sessionID != uuid.Nil {
		sid := l.sessionID
		s.SessionID = &sid
	}
	if l.startedAt != nil {
		t := *l.startedAt
		s.StartedAt = &t
	}
	return s
}

func (l *Lobby) ID() uuid.UUID               { return l.id }
func (l *Lobby) HostID() uuid.UUID           { return l.hostID }
func (l *Lobby) GameID() uuid.UUID           { return l.gameID }
func (l *Lobby) SessionID() uuid.UUID        { return l.sessionID }
func (l *Lobby) Name() string                { return l.name }
func (l *Lobby) Description() string         { return l.description }
func (l *Lobby) Status() Status              { return l.status }
func (l *Lobby) MaxPlayers() int             { return l.maxPlayers }
func (l *Lobby) Visibility() Visibility      { return l.visibility }
func (l *Lobby) CreatedAt() time.Time        { return l.createdAt }
func (l *Lobby) Version() int64              { return l.version }
func (l *Lobby) PlayerIDs() []uuid.UUID      { return slices.Clone(l.playerIDs) }
func (l *Lobby) InvitedIDs() []uuid.UUID     { return slices.Clone(l.invitedIDs) }
func (l *Lobby) PlayerCount() int            { return len(l.playerIDs) }
func (l *Lobby) IsHost(id uuid.UUID) bool    { return l.hostID == id }
func (l *Lobby) HasPlayer(id uuid.UUID) bool { return slices.Contains(l.playerIDs, id) }

// StartedAt returns the time the current game was started, if any.
func (l *Lobby) StartedAt() (time.Time, bool) {
	if l.startedAt == nil {
		return time.Time{}, false
	}
	return *l.startedAt, true
}

// FirstPlayer returns the earliest remaining member. It is deterministic for
// a given membership order.
func (l *Lobby) FirstPlayer() (uuid.UUID, bool) {
	if len(l.playerIDs) == 0 {
		return uuid.Nil, false
	}
	return l.playerIDs[0], true
}

// CanJoin reports whether Join would succeed, without mutating anything.
func (l *Lobby) CanJoin(playerID uuid.UUID) bool {
	return l.joinCheck(playerID) == nil
}

func (l *Lobby) joinCheck(playerID uuid.UUID) error {
	switch {
	case l.status.Running():
		return opError("join", ErrAlreadyStarted, "cannot join a lobby that has already started")
	case l.status == StatusCancelled:
		return opError("join", ErrCancelled, "cannot join a cancelled lobby")
	case l.status == StatusCompleted:
		return opError("join", ErrCompleted, "cannot join a completed lobby")
	case len(l.playerIDs) >= l.maxPlayers:
		return opError("join", ErrLobbyFull, "maximum players: %d", l.maxPlayers)
	case l.visibility == VisibilityPrivate && !slices.Contains(l.invitedIDs, playerID):
		return opError("join", ErrNotInvited, "private lobby requires an invitation")
	case slices.Contains(l.playerIDs, playerID):
		return opError("join", ErrAlreadyMember, "player %s is already in the lobby", playerID)
	}
	return nil
}

// Join adds a player. The status does not change.
func (l *Lobby) Join(playerID uuid.UUID) error {
	if err := l.joinCheck(playerID); err != nil {
		return err
	}
	l.playerIDs = append(l.playerIDs, playerID)
	return nil
}

// Leave removes a player from the member and invited sets. It is a no-op for
// non-members. A host leaving outside of a running game cancels the lobby.
func (l *Lobby) Leave(playerID uuid.UUID) {
	if !slices.Contains(l.playerIDs, playerID) {
		return
	}
	l.playerIDs = slices.DeleteFunc(l.playerIDs, func(id uuid.UUID) bool { return id == playerID })
	l.invitedIDs = slices.DeleteFunc(l.invitedIDs, func(id uuid.UUID) bool { return id == playerID })

	if playerID == l.hostID && !l.status.Running() {
		l.status = StatusCancelled
	}
}

// SelectGame sets the game to be played next. Only allowed while WAITING.
func (l *Lobby) SelectGame(gameID uuid.UUID) error {
	if l.status != StatusWaiting {
		return opError("select game", ErrNotWaiting, "lobby is %s", l.status)
	}
	l.gameID = gameID
	return nil
}

// Rename updates the display attributes. Only allowed while WAITING.
func (l *Lobby) Rename(name, description string) error {
	if l.status != StatusWaiting {
		return opError("update", ErrNotWaiting, "lobby is %s", l.status)
	}
	if name != "" {
		l.name = name
	}
	l.description = description
	return nil
}

// Start moves the lobby to STARTED and stamps the start time.
func (l *Lobby) Start() error {
	switch {
	case l.status.Running():
		return opError("start", ErrAlreadyStarted, "lobby has already been started")
	case l.status == StatusCancelled:
		return opError("start", ErrCancelled, "cannot start a cancelled lobby")
	case l.status == StatusCompleted:
		return opError("start", ErrCompleted, "cannot start a completed lobby")
	case l.gameID == uuid.Nil:
		return opError("start", ErrNoGameSelected, "cannot start a lobby without a game selected")
	case len(l.playerIDs) == 0:
		return opError("start", ErrNoPlayers, "cannot start a lobby without players")
	}
	now := time.Now().UTC()
	l.status = StatusStarted
	l.startedAt = &now
	return nil
}

// Invite records an invitation. Only private lobbies that have not started
// accept invitations.
func (l *Lobby) Invite(playerID uuid.UUID) error {
	switch {
	case l.visibility != VisibilityPrivate:
		return opError("invite", ErrNotPrivate, "can only invite players to private lobbies")
	case l.status != StatusWaiting && l.status != StatusReady:
		return opError("invite", ErrNotWaiting, "cannot invite players to a %s lobby", l.status)
	case slices.Contains(l.playerIDs, playerID):
		return opError("invite", ErrAlreadyMember, "player %s is already in the lobby", playerID)
	case slices.Contains(l.invitedIDs, playerID):
		return opError("invite", ErrAlreadyInvited, "player %s has already been invited", playerID)
	}
	l.invitedIDs = append(l.invitedIDs, playerID)
	return nil
}

// BindSession attaches the engine's session to a running lobby and advances
// STARTED to IN_PROGRESS. Binding the already-bound session again is a no-op.
func (l *Lobby) BindSession(sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return opError("bind session", ErrInvalidArgument, "session id is required")
	}
	if !l.status.Running() {
		return opError("bind session", ErrNotRunning, "lobby is %s", l.status)
	}
	if l.sessionID != uuid.Nil && l.sessionID != sessionID {
		return opError("bind session", ErrSessionConflict, "lobby is bound to session %s", l.sessionID)
	}
	l.sessionID = sessionID
	if l.status == StatusStarted {
		l.status = StatusInProgress
	}
	return nil
}

// Complete ends a running lobby for good. The session is released with it.
func (l *Lobby) Complete() error {
	if !l.status.Running() {
		return opError("complete", ErrNotRunning, "cannot complete a lobby that hasn't been started")
	}
	l.status = StatusCompleted
	l.sessionID = uuid.Nil
	return nil
}

// ResetAfterGameEnd returns a running lobby to WAITING so another game can be
// selected. It reports whether anything changed; outside STARTED/IN_PROGRESS
// it does nothing.
func (l *Lobby) ResetAfterGameEnd() bool {
	if !l.status.Running() {
		return false
	}
	l.sessionID = uuid.Nil
	l.gameID = uuid.Nil
	l.status = StatusWaiting
	return true
}
