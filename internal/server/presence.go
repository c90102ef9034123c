package server

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"noto/internal/storage"
)

// Registry counts visitor sessions that pinged within the TTL.
type Registry struct {
	store *storage.Store
	ttl   time.Duration
	clock clockwork.Clock
}

func NewRegistry(store *storage.Store, ttl time.Duration, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{store: store, ttl: ttl, clock: clock}
}

func (r *Registry) Start(ctx context.Context, sessionID, page string) error {
	return errors.Wrap(r.store.UpsertVisitorSession(ctx, sessionID, page, r.clock.Now()), "upsert visitor session")
}

// Ping marks the session alive. Unknown ids are registered with an empty
// page, since a browser keeps pinging across a backend restart.
func (r *Registry) Ping(ctx context.Context, sessionID string) (created bool, err error) {
	now := r.clock.Now()
	err = r.store.TouchVisitorSession(ctx, sessionID, now)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return true, errors.Wrap(r.store.UpsertVisitorSession(ctx, sessionID, "", now), "register pinged session")
	}
	return false, errors.Wrap(err, "touch visitor session")
}

func (r *Registry) ActiveCount(ctx context.Context) (int, error) {
	count, err := r.store.CountActiveSessions(ctx, r.clock.Now().Add(-r.ttl))
	return count, errors.Wrap(err, "count active sessions")
}

// Prune drops sessions older than the TTL.
func (r *Registry) Prune(ctx context.Context) (int64, error) {
	n, err := r.store.PruneVisitorSessions(ctx, r.clock.Now().Add(-r.ttl))
	return n, errors.Wrap(err, "prune visitor sessions")
}
