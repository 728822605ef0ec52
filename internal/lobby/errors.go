// internal/lobby/errors.go
package lobby

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lobby (or a lobby owning a session) does not exist.
	ErrNotFound = errors.New("lobby not found")
	// ErrConflict is returned by stores when the persisted version moved underneath a save.
	ErrConflict = errors.New("lobby was modified concurrently")

	ErrInvalidArgument    = errors.New("invalid argument")
	ErrLobbyFull          = errors.New("lobby is full")
	ErrAlreadyStarted     = errors.New("lobby already started")
	ErrCancelled          = errors.New("lobby is cancelled")
	ErrCompleted          = errors.New("lobby is completed")
	ErrNotInvited         = errors.New("player is not invited")
	ErrAlreadyMember      = errors.New("player is already a member")
	ErrAlreadyInvited     = errors.New("player is already invited")
	ErrNotPrivate         = errors.New("lobby is not private")
	ErrNotWaiting         = errors.New("lobby is not waiting")
	ErrNoGameSelected     = errors.New("no game selected")
	ErrNoPlayers          = errors.New("lobby has no players")
	ErrNotRunning         = errors.New("lobby is not running a game")
	ErrSessionConflict    = errors.New("lobby is bound to another session")
	ErrNotHost            = errors.New("only the host may do this")
	ErrNotMember          = errors.New("player is not a member")
	ErrPlayerInOtherLobby = errors.New("player is already in another lobby")
)

// OperationError is a rejected lobby operation. Kind is one of the sentinel
// errors above and is what errors.Is matches against.
type OperationError struct {
	Op     string
	Kind   error
	Detail string
}

func (e *OperationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("lobby %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("lobby %s: %v: %s", e.Op, e.Kind, e.Detail)
}

func (e *OperationError) Unwrap() error { return e.Kind }

func opError(op string, kind error, format string, args ...any) error {
	return &OperationError{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a rejected operation rather than a
// lookup or storage failure.
func IsValidation(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe)
}
