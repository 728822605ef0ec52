// internal/acl/adapter_test.go
package acl

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/achievements"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/jason-s-yu/gamelobby/internal/players"
	"github.com/jason-s-yu/gamelobby/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	exchange   string
	routingKey string
	event      messaging.LifecycleEvent
}

type recordingBroker struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (b *recordingBroker) Publish(_ context.Context, exchange, routingKey string, payload any) error {
	if b.err != nil {
		return b.err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var ev messaging.LifecycleEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, sent{exchange: exchange, routingKey: routingKey, event: ev})
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, messaging.Binding, messaging.Handler) error {
	return nil
}

func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) all() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.msgs...)
}

type panickingDirectory struct{}

func (panickingDirectory) GetPlayer(context.Context, uuid.UUID) (players.Player, error) {
	panic("directory exploded")
}

func (panickingDirectory) SearchPlayers(context.Context, string, players.Filter, int) ([]players.Player, error) {
	panic("directory exploded")
}

type adapterFixture struct {
	ctx       context.Context
	logger    *logrus.Logger
	broker    *recordingBroker
	directory *players.MemoryDirectory
	instances *lobby.MemoryInstanceStore
	achStore  *achievements.MemoryStore
	adapter   *ChessAdapter
	alice     players.Player
	bob       players.Player
}

func newAdapterFixture(t *testing.T) *adapterFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &adapterFixture{
		ctx:       context.Background(),
		logger:    logger,
		broker:    &recordingBroker{},
		instances: lobby.NewMemoryInstanceStore(),
		achStore:  achievements.NewMemoryStore(),
		alice:     players.Player{ID: uuid.New(), Username: "alice"},
		bob:       players.Player{ID: uuid.New(), Username: "bob"},
	}
	f.directory = players.NewMemoryDirectory(f.alice, f.bob, players.Player{ID: uuid.New(), Username: "alice2"})
	f.adapter = NewChessAdapter(
		f.broker,
		NewDirectoryResolver(f.directory, logger),
		f.instances,
		achievements.NewService(f.achStore, events.NewBus(logger), logger),
		AdapterConfig{},
		logger,
	)
	return f
}

func (f *adapterFixture) only(t *testing.T) sent {
	t.Helper()
	msgs := f.broker.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, messaging.DefaultGameEventsExchange, msgs[0].exchange)
	return msgs[0]
}

func TestDirectoryResolver(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	carol := players.Player{ID: uuid.New(), Username: "carol"}
	acarol := players.Player{ID: uuid.New(), Username: "acarol"}
	r := NewDirectoryResolver(players.NewMemoryDirectory(carol, acarol), logger)

	id, ok := r.Resolve(ctx, "  CAROL ")
	require.True(t, ok)
	assert.Equal(t, carol.ID, id, "exact match beats earlier results")

	id, ok = r.Resolve(ctx, "aro")
	require.True(t, ok)
	assert.Equal(t, acarol.ID, id, "first result when nothing matches exactly")

	_, ok = r.Resolve(ctx, "   ")
	assert.False(t, ok)
	_, ok = r.Resolve(ctx, "zed")
	assert.False(t, ok)

	broken := NewDirectoryResolver(panickingDirectory{}, logger)
	assert.NotPanics(t, func() {
		_, ok = broken.Resolve(ctx, "carol")
	})
	assert.False(t, ok)
}

func TestGameResult(t *testing.T) {
	cases := []struct {
		reason, winner, want string
	}{
		{EndCheckmate, ColorWhite, ResultWin},
		{EndDraw, "", ResultDraw},
		{"STALEMATE", EndDraw, ResultDraw},
		{"RESIGNATION", ColorBlack, ResultFinished},
		{"", "", ResultFinished},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, GameResult(c.reason, c.winner), "%s/%s", c.reason, c.winner)
	}
}

func TestGameCreatedPublishesSessionStarted(t *testing.T) {
	f := newAdapterFixture(t)
	chessID, lobbyID := uuid.New(), uuid.New()
	_, err := f.instances.Create(f.ctx, lobby.ExternalGameInstance{
		ID: uuid.New(), LobbyID: lobbyID, ExternalGameID: chessID, GameType: session.GameTypeChess,
	})
	require.NoError(t, err)

	require.NoError(t, f.adapter.GameCreated(f.ctx, ChessGameCreated{
		GameID:      chessID.String(),
		WhitePlayer: "alice",
		BlackPlayer: "Bob",
		Status:      "ACTIVE",
	}))

	msg := f.only(t)
	assert.Equal(t, messaging.KeySessionStarted, msg.routingKey)
	ev := msg.event
	assert.Equal(t, messaging.TypeSessionStarted, ev.Type)
	assert.Equal(t, chessID, ev.SessionID)
	require.NotNil(t, ev.LobbyID)
	assert.Equal(t, lobbyID, *ev.LobbyID)
	assert.Equal(t, session.GameTypeChess, ev.GameType)
	assert.Equal(t, []uuid.UUID{f.alice.ID, f.bob.ID}, ev.PlayerIDs)
	require.NotNil(t, ev.StartingPlayerID)
	assert.Equal(t, f.alice.ID, *ev.StartingPlayerID)
	assert.Equal(t, session.InitialChessFEN, ev.Configuration["initialFen"])
	assert.Equal(t, f.bob.ID.String(), ev.Configuration["blackPlayerId"])
}

func TestGameCreatedWithoutMappingOrPlayers(t *testing.T) {
	f := newAdapterFixture(t)
	require.NoError(t, f.adapter.GameCreated(f.ctx, ChessGameCreated{
		GameID:      uuid.NewString(),
		WhitePlayer: "alice",
		BlackPlayer: "nobody",
	}))

	ev := f.only(t).event
	assert.Nil(t, ev.LobbyID)
	assert.Empty(t, ev.PlayerIDs)
	assert.Nil(t, ev.StartingPlayerID)
	assert.Equal(t, f.alice.ID.String(), ev.Configuration["whitePlayerId"])
	assert.Equal(t, messaging.UnknownMarker, ev.Configuration["blackPlayerId"])
}

func TestMoveMadeWithUnknownPlayers(t *testing.T) {
	f := newAdapterFixture(t)
	chessID := uuid.New()

	err := f.adapter.MoveMade(f.ctx, ChessMoveMade{
		GameID:      chessID.String(),
		FromSquare:  "e2",
		ToSquare:    "e4",
		SANNotation: "e4",
		Player:      ColorWhite,
		MoveNumber:  1,
		WhitePlayer: "ghost",
		BlackPlayer: "phantom",
	})
	require.NoError(t, err)

	msg := f.only(t)
	assert.Equal(t, messaging.KeyMoveRequest, msg.routingKey)
	assert.Equal(t, messaging.TypeMoveRequest, msg.event.Type)
	assert.Nil(t, msg.event.PlayerID)
	assert.Equal(t, messaging.UnknownMarker, msg.event.Configuration["playerId"])
	assert.Equal(t, "ghost", msg.event.Configuration["playerName"])
	assert.Equal(t, "e4", msg.event.Configuration["sanNotation"])
}

func TestMoveMadeResolvesMover(t *testing.T) {
	f := newAdapterFixture(t)
	require.NoError(t, f.adapter.MoveMade(f.ctx, ChessMoveMade{
		GameID:      uuid.NewString(),
		Player:      ColorBlack,
		WhitePlayer: "alice",
		BlackPlayer: "bob",
	}))
	ev := f.only(t).event
	require.NotNil(t, ev.PlayerID)
	assert.Equal(t, f.bob.ID, *ev.PlayerID)
}

func TestGameEnded(t *testing.T) {
	cases := []struct {
		name       string
		black      string
		reason     string
		winner     string
		wantWinner bool
		wantResult string
	}{
		{"white mates", "bob", EndCheckmate, ColorWhite, true, ResultWin},
		{"draw", "bob", EndDraw, EndDraw, false, ResultDraw},
		{"unresolved loser hides winner", "nobody", EndCheckmate, ColorWhite, false, ResultWin},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newAdapterFixture(t)
			require.NoError(t, f.adapter.GameEnded(f.ctx, ChessGameEnded{
				GameID:      uuid.NewString(),
				WhitePlayer: "alice",
				BlackPlayer: c.black,
				EndReason:   c.reason,
				Winner:      c.winner,
				TotalMoves:  31,
			}))
			msg := f.only(t)
			assert.Equal(t, messaging.KeySessionEnded, msg.routingKey)
			assert.Equal(t, c.wantResult, msg.event.Result)
			if c.wantWinner {
				require.NotNil(t, msg.event.WinnerID)
				assert.Equal(t, f.alice.ID, *msg.event.WinnerID)
			} else {
				assert.Nil(t, msg.event.WinnerID)
			}
		})
	}
}

func TestAchievementAcquiredAwardsAndRepublishes(t *testing.T) {
	f := newAdapterFixture(t)
	msg := ChessAchievementAcquired{
		GameID:          uuid.NewString(),
		PlayerName:      "bob",
		AchievementType: "FIRST_CHECKMATE",
	}
	require.NoError(t, f.adapter.AchievementAcquired(f.ctx, msg))
	require.NoError(t, f.adapter.AchievementAcquired(f.ctx, msg))

	unlocked, err := f.achStore.ListForPlayer(f.ctx, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "FIRST_CHECKMATE", unlocked[0].Achievement.Code)
	assert.Equal(t, session.DefaultChessGameID, unlocked[0].Achievement.GameID)
	assert.Equal(t, "Chess achievement: FIRST_CHECKMATE", unlocked[0].Achievement.Description)

	msgs := f.broker.all()
	require.Len(t, msgs, 2)
	ev := msgs[0].event
	assert.Equal(t, messaging.KeyAchievementUnlocked, msgs[0].routingKey)
	require.NotNil(t, ev.PlayerID)
	assert.Equal(t, f.bob.ID, *ev.PlayerID)
	require.NotNil(t, ev.Achievement)
	assert.Equal(t, "FIRST_CHECKMATE", ev.Achievement.Code)
}

func TestAchievementAcquiredForUnknownPlayer(t *testing.T) {
	f := newAdapterFixture(t)
	require.NoError(t, f.adapter.AchievementAcquired(f.ctx, ChessAchievementAcquired{
		GameID:          uuid.NewString(),
		PlayerName:      "nobody",
		AchievementType: "FIRST_CHECKMATE",
	}))
	assert.Empty(t, f.broker.all())
}

func TestGameRegisteredRecordsDefinitions(t *testing.T) {
	f := newAdapterFixture(t)
	require.NoError(t, f.adapter.GameRegistered(f.ctx, ChessGameRegistered{
		RegistrationID: "reg-1",
		AvailableAchievements: []ChessAchievement{
			{Code: "FIRST_WIN", Description: "Win a game"},
			{Code: ""},
		},
	}))

	// Awarding afterwards keeps the advertised description.
	_, _, err := f.adapter.achievements.AwardThirdParty(f.ctx, session.DefaultChessGameID, f.alice.ID, achievements.Definition{Code: "FIRST_WIN"})
	require.NoError(t, err)
	unlocked, err := f.achStore.ListForPlayer(f.ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "Win a game", unlocked[0].Achievement.Description)
	assert.Empty(t, f.broker.all())
}

func TestHandlersSwallowFailures(t *testing.T) {
	f := newAdapterFixture(t)
	f.broker.err = errors.New("broker down")

	created := handle(f.adapter, KeyGameCreated, f.adapter.GameCreated)
	body, err := json.Marshal(ChessGameCreated{GameID: uuid.NewString(), WhitePlayer: "alice", BlackPlayer: "bob"})
	require.NoError(t, err)

	assert.NoError(t, created(f.ctx, messaging.Message{Body: body}))
	assert.NoError(t, created(f.ctx, messaging.Message{Body: []byte("{broken")}))
	assert.NoError(t, created(f.ctx, messaging.Message{Body: []byte(`{"gameId":"not-a-uuid"}`)}))

	panicky := handle(f.adapter, KeyMoveMade, func(context.Context, ChessMoveMade) error {
		panic("boom")
	})
	assert.NotPanics(t, func() {
		assert.NoError(t, panicky(f.ctx, messaging.Message{Body: []byte(`{}`)}))
	})
}
