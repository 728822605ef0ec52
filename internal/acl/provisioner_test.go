// internal/acl/provisioner_test.go
package acl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/jason-s-yu/gamelobby/internal/players"
	"github.com/jason-s-yu/gamelobby/internal/session"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineCall struct {
	method string
	path   string
	seats  Seats
}

// fakeChessService records calls and answers with status.
type fakeChessService struct {
	mu     sync.Mutex
	calls  []engineCall
	status int
}

func (s *fakeChessService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var seats Seats
	_ = json.NewDecoder(r.Body).Decode(&seats)
	s.mu.Lock()
	s.calls = append(s.calls, engineCall{method: r.Method, path: r.URL.Path, seats: seats})
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (s *fakeChessService) recorded() []engineCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engineCall(nil), s.calls...)
}

type provisionerFixture struct {
	ctx         context.Context
	chess       *fakeChessService
	broker      *recordingBroker
	instances   *lobby.MemoryInstanceStore
	provisioner *ChessProvisioner
	white       players.Player
	black       players.Player
}

func newProvisionerFixture(t *testing.T) *provisionerFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	chess := &fakeChessService{}
	srv := httptest.NewServer(chess)
	t.Cleanup(srv.Close)

	f := &provisionerFixture{
		ctx:       context.Background(),
		chess:     chess,
		broker:    &recordingBroker{},
		instances: lobby.NewMemoryInstanceStore(),
		white:     players.Player{ID: uuid.New(), Username: "magnus"},
		black:     players.Player{ID: uuid.New(), Username: "hikaru"},
	}
	f.provisioner = NewChessProvisioner(
		session.NewCatalog(session.DefaultChessGameID),
		players.NewMemoryDirectory(f.white, f.black),
		f.instances,
		NewHTTPEngineClient(srv.URL, time.Second, 0),
		f.broker,
		ProvisionerConfig{FrontendURL: "http://chess.local/"},
		logger,
	)
	return f
}

func TestProvisionerPreregistersFullChessLobby(t *testing.T) {
	f := newProvisionerFixture(t)
	lobbyID := uuid.New()
	joined := events.PlayerJoined{
		LobbyID:   lobbyID,
		PlayerID:  f.black.ID,
		GameID:    session.DefaultChessGameID,
		PlayerIDs: []uuid.UUID{f.white.ID, f.black.ID},
		Status:    string(lobby.StatusWaiting),
	}
	require.NoError(t, f.provisioner.OnPlayerJoined(f.ctx, joined))

	inst, err := f.instances.FindByLobbyID(f.ctx, lobbyID)
	require.NoError(t, err)
	assert.Equal(t, session.GameTypeChess, inst.GameType)

	calls := f.chess.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPut, calls[0].method)
	assert.Equal(t, "/api/games/"+inst.ExternalGameID.String(), calls[0].path)
	assert.Equal(t, "magnus", calls[0].seats.WhitePlayerName)
	assert.Equal(t, f.black.ID, calls[0].seats.BlackPlayerID)

	// A second notification for the same lobby does not mint another game.
	require.NoError(t, f.provisioner.OnPlayerJoined(f.ctx, joined))
	assert.Len(t, f.chess.recorded(), 1)
}

func TestProvisionerIgnoresOtherLobbies(t *testing.T) {
	f := newProvisionerFixture(t)
	cases := []events.PlayerJoined{
		{LobbyID: uuid.New(), GameID: uuid.New(), PlayerIDs: []uuid.UUID{f.white.ID, f.black.ID}, Status: string(lobby.StatusWaiting)},
		{LobbyID: uuid.New(), GameID: session.DefaultChessGameID, PlayerIDs: []uuid.UUID{f.white.ID}, Status: string(lobby.StatusWaiting)},
		{LobbyID: uuid.New(), GameID: uuid.Nil, PlayerIDs: []uuid.UUID{f.white.ID, f.black.ID}, Status: string(lobby.StatusWaiting)},
	}
	for _, ev := range cases {
		require.NoError(t, f.provisioner.OnPlayerJoined(f.ctx, ev))
	}
	require.NoError(t, f.provisioner.OnLobbyStarted(f.ctx, events.LobbyStarted{
		LobbyID: uuid.New(), GameID: uuid.New(), PlayerIDs: []uuid.UUID{f.white.ID, f.black.ID},
	}))
	assert.Empty(t, f.chess.recorded())
	assert.Empty(t, f.broker.all())
}

func TestProvisionerStartReusesPreregisteredGame(t *testing.T) {
	f := newProvisionerFixture(t)
	lobbyID := uuid.New()
	ids := []uuid.UUID{f.white.ID, f.black.ID}
	require.NoError(t, f.provisioner.OnPlayerJoined(f.ctx, events.PlayerJoined{
		LobbyID: lobbyID, GameID: session.DefaultChessGameID, PlayerIDs: ids, Status: string(lobby.StatusWaiting),
	}))
	inst, err := f.instances.FindByLobbyID(f.ctx, lobbyID)
	require.NoError(t, err)

	require.NoError(t, f.provisioner.OnLobbyStarted(f.ctx, events.LobbyStarted{
		LobbyID: lobbyID, GameID: session.DefaultChessGameID, PlayerIDs: ids,
	}))

	calls := f.chess.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPost, calls[1].method)
	assert.Equal(t, "/api/games/"+inst.ExternalGameID.String(), calls[1].path)

	msgs := f.broker.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, messaging.KeySessionStartRequested, msgs[0].routingKey)
	ev := msgs[0].event
	assert.Equal(t, inst.ExternalGameID, ev.SessionID)
	require.NotNil(t, ev.LobbyID)
	assert.Equal(t, lobbyID, *ev.LobbyID)
	assert.Equal(t, ids, ev.PlayerIDs)
	require.NotNil(t, ev.StartingPlayerID)
	assert.Equal(t, f.white.ID, *ev.StartingPlayerID)
	assert.Equal(t, "ACTIVE", ev.Configuration["status"])
	assert.Equal(t, inst.ExternalGameID.String(), ev.Configuration["externalGameId"])
	assert.Equal(t, "http://chess.local/game/"+inst.ExternalGameID.String(), ev.Configuration["frontendUrl"])
}

func TestProvisionerStartWithoutPreregistration(t *testing.T) {
	f := newProvisionerFixture(t)
	lobbyID := uuid.New()
	require.NoError(t, f.provisioner.OnLobbyStarted(f.ctx, events.LobbyStarted{
		LobbyID: lobbyID, GameID: session.DefaultChessGameID, PlayerIDs: []uuid.UUID{f.white.ID, f.black.ID},
	}))

	inst, err := f.instances.FindByLobbyID(f.ctx, lobbyID)
	require.NoError(t, err)
	msgs := f.broker.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, inst.ExternalGameID, msgs[0].event.SessionID)
}

func TestProvisionerDoesNotAnnounceFailedGame(t *testing.T) {
	f := newProvisionerFixture(t)
	f.chess.status = http.StatusBadRequest

	require.NoError(t, f.provisioner.OnLobbyStarted(f.ctx, events.LobbyStarted{
		LobbyID: uuid.New(), GameID: session.DefaultChessGameID, PlayerIDs: []uuid.UUID{f.white.ID, f.black.ID},
	}))
	assert.Len(t, f.chess.recorded(), 1, "client errors are not retried")
	assert.Empty(t, f.broker.all())
}

func TestHTTPEngineClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPEngineClient(srv.URL, time.Second, 5*time.Second)
	require.NoError(t, client.CreateGame(context.Background(), uuid.New(), Seats{}))
	assert.EqualValues(t, 2, calls.Load())
}
