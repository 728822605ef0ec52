// internal/players/players_test.go
package players

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectorySearch(t *testing.T) {
	ctx := context.Background()
	alice := Player{ID: uuid.New(), Username: "Alice", Rank: 1200}
	malice := Player{ID: uuid.New(), Username: "malice", Rank: 800}
	bob := Player{ID: uuid.New(), Username: "bob", Rank: 1500}
	d := NewMemoryDirectory(alice, malice, bob)

	got, err := d.SearchPlayers(ctx, " ALICE ", Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []Player{alice, malice}, got)

	got, err = d.SearchPlayers(ctx, "alice", Filter{MinRank: 1000}, 10)
	require.NoError(t, err)
	assert.Equal(t, []Player{alice}, got)

	got, err = d.SearchPlayers(ctx, "", Filter{}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = d.GetPlayer(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := d.GetPlayer(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, bob, p)
}
