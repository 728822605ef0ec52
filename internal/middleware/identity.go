// internal/middleware/identity.go

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// UserIDHeader carries the authenticated player id. Authentication happens
// at the gateway; this service trusts the header.
const UserIDHeader = "X-User-Id"

type userIDKey struct{}

// Identity reads UserIDHeader into the request context. Requests with a
// malformed id are rejected; requests without one pass through anonymous.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			http.Error(w, "invalid "+UserIDHeader, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}

// WithUserID returns a context carrying id.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserID returns the caller's id, if the request carried one.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey{}).(uuid.UUID)
	return id, ok
}
