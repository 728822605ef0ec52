// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby notification socket.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	InvalidUserIDError  = 3002 // No caller identity on the upgrade request.
	InvalidLobbyIDError = 3003 // Target lobby does not exist.
	NotAllowedError     = 3004 // Private lobby the caller is neither in nor invited to.
)
