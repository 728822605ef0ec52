// internal/handlers/util.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/achievements"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/middleware"
	"github.com/jason-s-yu/gamelobby/internal/players"
	"github.com/sirupsen/logrus"
)

// callerID returns the authenticated caller or writes a 401.
func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "missing "+middleware.UserIDHeader, http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return id, true
}

// pathID parses the {id} wildcard or writes a 400.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes an optional JSON body into v. An empty body is fine.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "bad request payload", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lobby.ErrNotFound),
		errors.Is(err, lobby.ErrInstanceNotFound),
		errors.Is(err, players.ErrNotFound),
		errors.Is(err, achievements.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lobby.ErrNotHost), errors.Is(err, lobby.ErrNotInvited):
		return http.StatusForbidden
	case errors.Is(err, lobby.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, lobby.ErrConflict), lobby.IsValidation(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
