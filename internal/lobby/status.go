// internal/lobby/status.go
package lobby

// Status is the lifecycle state of a Lobby.
type Status string

const (
	StatusWaiting Status = "WAITING"
	// StatusReady is reserved. No transition assigns it.
	StatusReady      Status = "READY"
	StatusStarted    Status = "STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Running reports whether a game session is (or is about to be) attached.
func (s Status) Running() bool {
	return s == StatusStarted || s == StatusInProgress
}

// Active reports whether the lobby still counts as a player's current lobby.
func (s Status) Active() bool {
	return s != StatusCancelled && s != StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusReady, StatusStarted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Visibility controls who may join a lobby.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}
