// internal/acl/resolver.go
package acl

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/players"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

// Resolver maps an external display name to a platform player id. It is
// best effort: failures are reported as not found, never as errors.
type Resolver interface {
	Resolve(ctx context.Context, name string) (uuid.UUID, bool)
}

const resolveSearchLimit = 20

// DirectoryResolver resolves names through the player directory. An exact
// case-insensitive username match wins; otherwise the first search result is
// used.
type DirectoryResolver struct {
	players players.Directory
	logger  logrus.FieldLogger
}

var _ Resolver = (*DirectoryResolver)(nil)

func NewDirectoryResolver(directory players.Directory, logger logrus.FieldLogger) *DirectoryResolver {
	return &DirectoryResolver{players: directory, logger: logger}
}

func (r *DirectoryResolver) Resolve(ctx context.Context, name string) (id uuid.UUID, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, false
	}
	log := r.logger.WithField("player_name", name)

	var found []players.Player
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		found, err = r.players.SearchPlayers(ctx, name, players.Filter{}, resolveSearchLimit)
	})
	if rec := pc.Recovered(); rec != nil {
		err = rec.AsError()
	}
	if err != nil {
		log.WithError(err).Debug("player lookup failed")
		return uuid.Nil, false
	}
	if len(found) == 0 {
		log.Debug("no player found for name")
		return uuid.Nil, false
	}
	for _, p := range found {
		if strings.EqualFold(p.Username, name) {
			return p.ID, true
		}
	}
	return found[0].ID, true
}
