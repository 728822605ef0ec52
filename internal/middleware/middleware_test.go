// internal/middleware/middleware_test.go

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	var seen uuid.UUID
	var present bool
	h := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, present = UserID(r.Context())
	}))

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, id.String())
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, present)
	assert.Equal(t, id, seen)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, present)

	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.Header.Set(UserIDHeader, "not-a-uuid")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogMiddlewareRecordsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := Identity(LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodPost, "/lobbies", nil)
	req.Header.Set(UserIDHeader, uuid.NewString())
	h.ServeHTTP(httptest.NewRecorder(), req)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "/lobbies", entry.Data["path"])
	assert.Contains(t, entry.Data, "user_id")
}
