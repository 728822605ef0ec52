// internal/acl/chess_messages.go
package acl

import (
	"strings"

	"github.com/google/uuid"
)

// Routing keys published by the chess service on its own exchange.
const (
	KeyGameCreated         = "game.created"
	KeyPlayerNamesUpdated  = "game.player.names.updated"
	KeyGameEnded           = "game.ended"
	KeyGameRegistered      = "game.registered"
	KeyMoveMade            = "move.made"
	KeyAchievementAcquired = "achievement.acquired"
)

// Chess colors and end reasons as the chess service spells them.
const (
	ColorWhite = "WHITE"
	ColorBlack = "BLACK"

	EndCheckmate = "CHECKMATE"
	EndDraw      = "DRAW"
)

// Canonical game results.
const (
	ResultWin      = "WIN"
	ResultDraw     = "DRAW"
	ResultFinished = "FINISHED"
)

// The chess service's messages. Ids are kept as strings and parsed on use;
// the service is not under our control and its payloads are not validated
// upstream. Timestamps are ignored.

type ChessGameCreated struct {
	GameID      string `json:"gameId"`
	WhitePlayer string `json:"whitePlayer"`
	BlackPlayer string `json:"blackPlayer"`
	CurrentFEN  string `json:"currentFen"`
	Status      string `json:"status"`
}

type ChessGameUpdated struct {
	GameID      string `json:"gameId"`
	WhitePlayer string `json:"whitePlayer"`
	BlackPlayer string `json:"blackPlayer"`
	CurrentFEN  string `json:"currentFen"`
	Status      string `json:"status"`
	UpdateType  string `json:"updateType"`
}

type ChessGameEnded struct {
	GameID      string `json:"gameId"`
	WhitePlayer string `json:"whitePlayer"`
	BlackPlayer string `json:"blackPlayer"`
	FinalFEN    string `json:"finalFen"`
	EndReason   string `json:"endReason"`
	Winner      string `json:"winner"`
	TotalMoves  int    `json:"totalMoves"`
}

type ChessMoveMade struct {
	GameID       string `json:"gameId"`
	FromSquare   string `json:"fromSquare"`
	ToSquare     string `json:"toSquare"`
	SANNotation  string `json:"sanNotation"`
	FENAfterMove string `json:"fenAfterMove"`
	Player       string `json:"player"`
	MoveNumber   int    `json:"moveNumber"`
	WhitePlayer  string `json:"whitePlayer"`
	BlackPlayer  string `json:"blackPlayer"`
}

// PlayerName returns the name of the side that moved.
func (m ChessMoveMade) PlayerName() string {
	switch m.Player {
	case ColorWhite:
		return m.WhitePlayer
	case ColorBlack:
		return m.BlackPlayer
	}
	return ""
}

type ChessAchievement struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type ChessGameRegistered struct {
	RegistrationID        string             `json:"registrationId"`
	FrontendURL           string             `json:"frontendUrl"`
	PictureURL            string             `json:"pictureUrl"`
	AvailableAchievements []ChessAchievement `json:"availableAchievements"`
}

type ChessAchievementAcquired struct {
	GameID                 string `json:"gameId"`
	PlayerID               string `json:"playerId"`
	PlayerName             string `json:"playerName"`
	AchievementType        string `json:"achievementType"`
	AchievementDescription string `json:"achievementDescription"`
}

// GameResult maps a chess end reason to the canonical result.
func GameResult(endReason, winner string) string {
	switch {
	case endReason == EndCheckmate:
		return ResultWin
	case endReason == EndDraw || winner == EndDraw:
		return ResultDraw
	}
	return ResultFinished
}

// parseID returns uuid.Nil for empty or malformed ids.
func parseID(s string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
