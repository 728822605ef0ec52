// internal/session/session_test.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/achievements"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var connectFourGameID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440001")

type published struct {
	exchange   string
	routingKey string
	body       []byte
}

// recordingBroker captures publishes and never delivers anything.
type recordingBroker struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (b *recordingBroker) Publish(_ context.Context, exchange, routingKey string, payload any) error {
	if b.err != nil {
		return b.err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, published{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, messaging.Binding, messaging.Handler) error {
	return nil
}

func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.sent...)
}

type fixture struct {
	ctx       context.Context
	logger    *logrus.Logger
	bus       *events.Bus
	store     *lobby.MemoryStore
	instances *lobby.MemoryInstanceStore
	lobbies   *lobby.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	bus := events.NewBus(logger)
	store := lobby.NewMemoryStore()
	f := &fixture{
		ctx:       context.Background(),
		logger:    logger,
		bus:       bus,
		store:     store,
		instances: lobby.NewMemoryInstanceStore(),
		lobbies:   lobby.NewService(store, bus, logger),
	}
	NewLobbyCleanup(f.lobbies, f.instances, logger).Register(bus)
	return f
}

// startedLobby returns a two player lobby in STARTED.
func (f *fixture) startedLobby(t *testing.T, gameID uuid.UUID) *lobby.Lobby {
	t.Helper()
	host, guest := uuid.New(), uuid.New()
	l, err := f.lobbies.Create(f.ctx, lobby.CreateParams{HostID: host, Name: "saga", MaxPlayers: 4})
	require.NoError(t, err)
	_, err = f.lobbies.Join(f.ctx, l.ID(), guest)
	require.NoError(t, err)
	l, err = f.lobbies.Start(f.ctx, l.ID(), host, gameID)
	require.NoError(t, err)
	require.Equal(t, lobby.StatusStarted, l.Status())
	return l
}

func message(t *testing.T, v any) messaging.Message {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return messaging.Message{ID: "1", Body: body}
}

func TestStartRequestRoundTrip(t *testing.T) {
	lobbyID, p1, p2 := uuid.New(), uuid.New(), uuid.New()
	sessionID := uuid.New()
	catalog := NewCatalog(DefaultChessGameID)

	req := StartRequest(events.LobbyStarted{
		LobbyID:   lobbyID,
		GameID:    connectFourGameID,
		PlayerIDs: []uuid.UUID{p1, p2},
	}, catalog.Resolve(connectFourGameID), sessionID)

	var n notice
	require.NoError(t, message(t, req).Decode(&n))

	got, err := n.sessionID()
	require.NoError(t, err)
	assert.Equal(t, sessionID, got)
	assert.Equal(t, GameTypeConnectFour, n.GameType)
	gotLobby, ok := optionalID(n.LobbyID)
	assert.True(t, ok)
	assert.Equal(t, lobbyID, gotLobby)
	assert.Equal(t, []uuid.UUID{p1, p2}, n.playerIDs())

	require.NotNil(t, req.StartingPlayerID)
	assert.Equal(t, p1, *req.StartingPlayerID)
	assert.Equal(t, messaging.TypeSessionStartRequested, req.Type)
	assert.EqualValues(t, 6, req.Configuration["rows"])
	assert.EqualValues(t, 7, req.Configuration["columns"])
}

func TestCatalogResolveCopiesConfiguration(t *testing.T) {
	catalog := NewCatalog(DefaultChessGameID)
	k := catalog.Resolve(uuid.New())
	k.Configuration["rows"] = 99

	assert.EqualValues(t, 6, catalog.Resolve(uuid.New()).Configuration["rows"])
	assert.True(t, catalog.IsType(DefaultChessGameID, GameTypeChess))
	assert.True(t, catalog.Resolve(DefaultChessGameID).External)
}

func TestRequestPublisherPublishesOnLobbyStarted(t *testing.T) {
	f := newFixture(t)
	broker := &recordingBroker{}
	NewRequestPublisher(broker, NewCatalog(DefaultChessGameID), "game_events", f.logger).Register(f.bus)

	l := f.startedLobby(t, connectFourGameID)

	sent := broker.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "game_events", sent[0].exchange)
	assert.Equal(t, messaging.KeySessionStartRequested, sent[0].routingKey)

	var ev messaging.LifecycleEvent
	require.NoError(t, json.Unmarshal(sent[0].body, &ev))
	require.NotNil(t, ev.LobbyID)
	assert.Equal(t, l.ID(), *ev.LobbyID)
	assert.Equal(t, l.PlayerIDs(), ev.PlayerIDs)
	assert.NotEqual(t, uuid.Nil, ev.SessionID)
}

func TestRequestPublisherSkipsExternalGames(t *testing.T) {
	f := newFixture(t)
	broker := &recordingBroker{}
	NewRequestPublisher(broker, NewCatalog(DefaultChessGameID), "game_events", f.logger).Register(f.bus)

	f.startedLobby(t, DefaultChessGameID)
	assert.Empty(t, broker.messages())
}

func TestRequestPublisherSwallowsPublishFailure(t *testing.T) {
	f := newFixture(t)
	broker := &recordingBroker{err: errors.New("broker down")}
	p := NewRequestPublisher(broker, NewCatalog(DefaultChessGameID), "game_events", f.logger)

	err := p.OnLobbyStarted(f.ctx, events.LobbyStarted{LobbyID: uuid.New(), GameID: connectFourGameID})
	assert.NoError(t, err)
}

func TestStartedConsumerBindsSession(t *testing.T) {
	f := newFixture(t)
	c := NewStartedConsumer(f.lobbies, f.logger)
	l := f.startedLobby(t, connectFourGameID)
	sessionID := uuid.New()

	msg := message(t, map[string]any{
		"session_id": sessionID.String(),
		"lobby_id":   l.ID().String(),
		"status":     "STARTED",
		"timestamp":  "2026-10-18T12:00:00.000000Z",
	})
	require.NoError(t, c.Handle(f.ctx, msg))

	got, err := f.lobbies.Get(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusInProgress, got.Status())
	assert.Equal(t, sessionID, got.SessionID())
	version := got.Version()

	// Redelivery changes nothing.
	require.NoError(t, c.Handle(f.ctx, msg))
	got, err = f.lobbies.Get(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, version, got.Version())
}

func TestStartedConsumerDropsInapplicableMessages(t *testing.T) {
	f := newFixture(t)
	c := NewStartedConsumer(f.lobbies, f.logger)

	host := uuid.New()
	waiting, err := f.lobbies.Create(f.ctx, lobby.CreateParams{HostID: host, Name: "idle", MaxPlayers: 2})
	require.NoError(t, err)

	cases := map[string]messaging.Message{
		"malformed":       {Body: []byte("{not json")},
		"missing session": message(t, map[string]any{"lobby_id": waiting.ID().String()}),
		"no lobby":        message(t, map[string]any{"session_id": uuid.NewString(), "lobby_id": nil}),
		"bad lobby":       message(t, map[string]any{"session_id": uuid.NewString(), "lobby_id": "nope"}),
		"unknown lobby":   message(t, map[string]any{"session_id": uuid.NewString(), "lobby_id": uuid.NewString()}),
		"lobby waiting":   message(t, map[string]any{"session_id": uuid.NewString(), "lobby_id": waiting.ID().String()}),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, c.Handle(f.ctx, msg))
		})
	}

	got, err := f.lobbies.Get(f.ctx, waiting.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusWaiting, got.Status())
	assert.Equal(t, uuid.Nil, got.SessionID())
}

func TestEndedConsumerIgnoresUnknownSession(t *testing.T) {
	f := newFixture(t)
	l := f.startedLobby(t, connectFourGameID)
	c := NewEndedConsumer(f.lobbies, f.bus, f.logger)

	err := c.Handle(f.ctx, message(t, map[string]any{
		"session_id": uuid.NewString(),
		"status":     "FINISHED",
	}))
	require.NoError(t, err)

	got, err := f.lobbies.Get(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusStarted, got.Status())
	assert.Equal(t, l.Version(), got.Version())
}

func TestEndedConsumerResetsLobby(t *testing.T) {
	f := newFixture(t)
	l := f.startedLobby(t, connectFourGameID)
	sessionID := uuid.New()
	_, err := f.lobbies.BindSession(f.ctx, l.ID(), sessionID)
	require.NoError(t, err)
	_, err = f.instances.Create(f.ctx, lobby.ExternalGameInstance{
		ID: uuid.New(), LobbyID: l.ID(), ExternalGameID: sessionID, GameType: GameTypeChess,
	})
	require.NoError(t, err)

	var ended []events.GameEnded
	events.Subscribe(f.bus, func(_ context.Context, ev events.GameEnded) error {
		ended = append(ended, ev)
		return nil
	})

	c := NewEndedConsumer(f.lobbies, f.bus, f.logger)
	winner := l.PlayerIDs()[1]
	require.NoError(t, c.Handle(f.ctx, message(t, map[string]any{
		"event_id":   uuid.NewString(),
		"type":       "GAME_SESSION_ENDED",
		"session_id": sessionID.String(),
		"winner_id":  winner.String(),
		"status":     "FINISHED",
	})))

	require.Len(t, ended, 1)
	assert.Equal(t, winner, ended[0].WinnerID)
	assert.Equal(t, l.ID(), ended[0].LobbyID)

	got, err := f.lobbies.Get(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusWaiting, got.Status())
	assert.Equal(t, uuid.Nil, got.SessionID())
	assert.Equal(t, uuid.Nil, got.GameID())
	assert.ElementsMatch(t, l.PlayerIDs(), got.PlayerIDs())

	_, err = f.instances.FindByLobbyID(f.ctx, l.ID())
	assert.ErrorIs(t, err, lobby.ErrInstanceNotFound)
}

func TestEndedConsumerToleratesInvalidWinner(t *testing.T) {
	f := newFixture(t)
	l := f.startedLobby(t, connectFourGameID)
	sessionID := uuid.New()
	_, err := f.lobbies.BindSession(f.ctx, l.ID(), sessionID)
	require.NoError(t, err)

	var ended []events.GameEnded
	events.Subscribe(f.bus, func(_ context.Context, ev events.GameEnded) error {
		ended = append(ended, ev)
		return nil
	})

	c := NewEndedConsumer(f.lobbies, f.bus, f.logger)
	require.NoError(t, c.Handle(f.ctx, message(t, map[string]any{
		"session_id": sessionID.String(),
		"winner_id":  "draw",
	})))
	require.Len(t, ended, 1)
	assert.Equal(t, uuid.Nil, ended[0].WinnerID)
}

func TestCleanupIgnoresStaleSession(t *testing.T) {
	f := newFixture(t)
	l := f.startedLobby(t, connectFourGameID)
	current := uuid.New()
	_, err := f.lobbies.BindSession(f.ctx, l.ID(), current)
	require.NoError(t, err)

	cleanup := NewLobbyCleanup(f.lobbies, f.instances, f.logger)
	require.NoError(t, cleanup.OnGameEnded(f.ctx, events.GameEnded{LobbyID: l.ID(), SessionID: uuid.New()}))
	require.NoError(t, cleanup.OnGameEnded(f.ctx, events.GameEnded{LobbyID: uuid.New(), SessionID: current}))

	got, err := f.lobbies.Get(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusInProgress, got.Status())
	assert.Equal(t, current, got.SessionID())
}

func TestSagaOverMemoryBroker(t *testing.T) {
	f := newFixture(t)
	broker := messaging.NewMemoryBroker(f.logger)
	t.Cleanup(func() { _ = broker.Close() })
	topo := messaging.Topology{GameEvents: messaging.DefaultGameEventsExchange, Chess: messaging.DefaultChessExchange}

	NewRequestPublisher(broker, NewCatalog(DefaultChessGameID), topo.GameEvents, f.logger).Register(f.bus)
	require.NoError(t, NewStartedConsumer(f.lobbies, f.logger).Subscribe(f.ctx, broker, topo))
	require.NoError(t, NewEndedConsumer(f.lobbies, f.bus, f.logger).Subscribe(f.ctx, broker, topo))

	// A fake engine answers every start request with started.
	requests := make(chan messaging.LifecycleEvent, 1)
	engine := messaging.Binding{
		Exchange:   topo.GameEvents,
		RoutingKey: messaging.KeySessionStartRequested,
		Queue:      "engine.start",
	}
	require.NoError(t, broker.Subscribe(f.ctx, engine, func(ctx context.Context, msg messaging.Message) error {
		var req messaging.LifecycleEvent
		if err := msg.Decode(&req); err != nil {
			return err
		}
		started := messaging.NewEvent(messaging.TypeSessionStarted, req.SessionID)
		started.LobbyID = req.LobbyID
		started.Status = "STARTED"
		requests <- req
		return broker.Publish(ctx, topo.GameEvents, messaging.KeySessionStarted, started)
	}))

	l := f.startedLobby(t, connectFourGameID)

	var req messaging.LifecycleEvent
	select {
	case req = <-requests:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never received a start request")
	}

	require.Eventually(t, func() bool {
		got, err := f.lobbies.Get(f.ctx, l.ID())
		return err == nil && got.Status() == lobby.StatusInProgress && got.SessionID() == req.SessionID
	}, 2*time.Second, 10*time.Millisecond)

	ended := messaging.NewEvent(messaging.TypeSessionEnded, req.SessionID)
	ended.Status = "FINISHED"
	require.NoError(t, broker.Publish(f.ctx, topo.GameEvents, messaging.KeySessionEnded, ended))

	require.Eventually(t, func() bool {
		got, err := f.lobbies.Get(f.ctx, l.ID())
		return err == nil && got.Status() == lobby.StatusWaiting && got.SessionID() == uuid.Nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconcilerReleasesStuckLobbies(t *testing.T) {
	f := newFixture(t)
	stuck := f.startedLobby(t, connectFourGameID)

	running := f.startedLobby(t, connectFourGameID)
	_, err := f.lobbies.BindSession(f.ctx, running.ID(), uuid.New())
	require.NoError(t, err)

	r := NewReconciler(f.store, f.bus, ReconcilerConfig{
		Interval:     time.Minute,
		StartTimeout: 30 * time.Second,
		MaxDuration:  time.Hour,
	}, f.logger)

	n, err := r.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is stuck yet")

	r.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }
	n, err = r.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.lobbies.Get(f.ctx, stuck.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusWaiting, got.Status())

	got, err = f.lobbies.Get(f.ctx, running.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusInProgress, got.Status())

	r.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, err = r.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = f.lobbies.Get(f.ctx, running.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusWaiting, got.Status())
}

// racingStore runs afterFind once the sweep has taken its snapshot.
type racingStore struct {
	*lobby.MemoryStore
	afterFind func()
}

func (s *racingStore) FindRunningSince(ctx context.Context, status lobby.Status, cutoff time.Time) ([]*lobby.Lobby, error) {
	found, err := s.MemoryStore.FindRunningSince(ctx, status, cutoff)
	if s.afterFind != nil {
		s.afterFind()
		s.afterFind = nil
	}
	return found, err
}

func TestReconcilerSkipsLobbyBoundAfterSweepSnapshot(t *testing.T) {
	f := newFixture(t)
	l := f.startedLobby(t, connectFourGameID)
	sessionID := uuid.New()

	store := &racingStore{MemoryStore: f.store}
	store.afterFind = func() {
		_, err := f.lobbies.BindSession(f.ctx, l.ID(), sessionID)
		require.NoError(t, err)
	}
	r := NewReconciler(store, f.bus, ReconcilerConfig{Interval: time.Minute, StartTimeout: 30 * time.Second}, f.logger)
	r.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }

	n, err := r.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.lobbies.Get(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusInProgress, got.Status())
	assert.Equal(t, sessionID, got.SessionID())
}

func TestCleanupIgnoresAbandonedGameForRestartedLobby(t *testing.T) {
	f := newFixture(t)
	l := f.startedLobby(t, connectFourGameID)
	startedAt, ok := l.StartedAt()
	require.True(t, ok)

	cleanup := NewLobbyCleanup(f.lobbies, f.instances, f.logger)
	require.NoError(t, cleanup.OnGameEnded(f.ctx, events.GameEnded{
		LobbyID:           l.ID(),
		Abandoned:         true,
		ObservedStatus:    string(lobby.StatusStarted),
		ObservedStartedAt: startedAt.Add(-time.Minute),
	}))
	got, err := f.lobbies.Get(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusStarted, got.Status())

	require.NoError(t, cleanup.OnGameEnded(f.ctx, events.GameEnded{
		LobbyID:           l.ID(),
		Abandoned:         true,
		ObservedStatus:    string(lobby.StatusStarted),
		ObservedStartedAt: startedAt,
	}))
	got, err = f.lobbies.Get(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusWaiting, got.Status())
}

func TestCompletedLobbyDropsExternalInstance(t *testing.T) {
	f := newFixture(t)
	l := f.startedLobby(t, connectFourGameID)
	sessionID := uuid.New()
	_, err := f.lobbies.BindSession(f.ctx, l.ID(), sessionID)
	require.NoError(t, err)
	_, err = f.instances.Create(f.ctx, lobby.ExternalGameInstance{
		ID: uuid.New(), LobbyID: l.ID(), ExternalGameID: sessionID, GameType: GameTypeChess,
	})
	require.NoError(t, err)

	done, err := f.lobbies.Complete(f.ctx, l.ID(), l.HostID())
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusCompleted, done.Status())
	assert.Equal(t, uuid.Nil, done.SessionID())

	_, err = f.instances.FindByLobbyID(f.ctx, l.ID())
	assert.ErrorIs(t, err, lobby.ErrInstanceNotFound)
}

type recordingEvaluator struct {
	games []achievements.GameEndedContext
}

func (e *recordingEvaluator) Evaluate(_ context.Context, game achievements.GameEndedContext) error {
	e.games = append(e.games, game)
	return nil
}

func TestAchievementFeedEvaluatesEndedSessions(t *testing.T) {
	f := newFixture(t)
	eval := &recordingEvaluator{}
	feed := NewAchievementFeed(eval, f.logger)

	sessionID, winner, loser := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, feed.Handle(f.ctx, message(t, map[string]any{
		"session_id": sessionID.String(),
		"game_type":  GameTypeConnectFour,
		"winner_id":  winner.String(),
		"player_ids": []string{winner.String(), loser.String(), "garbage"},
		"status":     "FINISHED",
	})))
	require.NoError(t, feed.Handle(f.ctx, messaging.Message{Body: []byte("nope")}))

	require.Len(t, eval.games, 1)
	game := eval.games[0]
	assert.Equal(t, sessionID, game.SessionID)
	assert.Equal(t, winner, game.WinnerID)
	assert.Equal(t, []uuid.UUID{winner, loser}, game.PlayerIDs)
	assert.Equal(t, "FINISHED", game.Status)
}
