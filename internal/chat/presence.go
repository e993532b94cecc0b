package chat

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/repository"
	"go.uber.org/zap"
)

const presenceStripes = 64

// Presence keeps the persisted online flag in step with the registry.
// A user is online exactly while at least one session is registered.
type Presence struct {
	registry *Registry
	users    repository.UserRepository
	out      *fanout
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	// Register/unregister of one user and the matching store write happen
	// under the same stripe so two connections of a user never interleave.
	stripes [presenceStripes]sync.Mutex

	// stale holds users whose offline write failed; retried on later
	// presence changes.
	staleMu sync.Mutex
	stale   map[int64]Identity
}

func (p *Presence) stripe(userID int64) *sync.Mutex {
	i := userID % presenceStripes
	if i < 0 {
		i = -i
	}
	return &p.stripes[i]
}

// Connect registers a session for connID and marks the user online.
// A failed store write rolls the registration back.
func (p *Presence) Connect(ctx context.Context, connID string, id Identity) (Session, error) {
	defer p.retryOffline(ctx)
	mu := p.stripe(id.UserID)
	mu.Lock()
	defer mu.Unlock()

	s, _, err := p.registry.Register(connID, id)
	if err != nil {
		return Session{}, err
	}
	if err := p.users.SetOnline(ctx, id.UserID, true, p.now()); err != nil {
		p.registry.Unregister(connID)
		return Session{}, errs.Persistence("set online", err)
	}
	p.clearStale(id.UserID)

	p.metrics.SetOnlineUsers(p.registry.UserCount())
	p.out.broadcast(Event{Type: EventUserStatus, Data: statusOf(id, true)})
	return s, nil
}

// Disconnect removes the session of connID. The user goes offline, and the
// change is announced, only when this was the last session.
// An unknown connID is a no-op.
func (p *Presence) Disconnect(ctx context.Context, connID string) (Session, bool, error) {
	s, ok := p.registry.Lookup(connID)
	if !ok {
		return Session{}, false, nil
	}
	// Runs after the stripe is released.
	retry := true
	defer func() {
		if retry {
			p.retryOffline(ctx)
		}
	}()
	mu := p.stripe(s.UserID)
	mu.Lock()
	defer mu.Unlock()

	s, remaining, ok := p.registry.Unregister(connID)
	if !ok {
		return Session{}, false, nil
	}
	p.metrics.SetOnlineUsers(p.registry.UserCount())

	at := p.now()
	if remaining > 0 {
		if err := p.users.Touch(ctx, s.UserID, at); err != nil {
			p.log.Warn("touch on disconnect", zap.Int64("user_id", s.UserID), zap.Error(err))
		}
		return s, true, nil
	}

	// The connection is gone either way; a failed write is retried on a
	// later presence change.
	if err := p.users.SetOnline(ctx, s.UserID, false, at); err != nil {
		p.log.Error("set offline", zap.Int64("user_id", s.UserID), zap.Error(err))
		p.markStale(s.Identity)
		retry = false
		return s, true, errs.Persistence("set offline", err)
	}
	p.announceOffline(s.Identity)
	return s, true, nil
}

func (p *Presence) announceOffline(id Identity) {
	p.out.broadcast(Event{Type: EventUserStatus, Data: statusOf(id, false)})
	p.out.broadcast(Event{Type: EventUserCount, Data: map[string]int{"count": p.registry.UserCount()}})
}

func (p *Presence) markStale(id Identity) {
	p.staleMu.Lock()
	defer p.staleMu.Unlock()
	if p.stale == nil {
		p.stale = make(map[int64]Identity)
	}
	p.stale[id.UserID] = id
}

func (p *Presence) clearStale(userID int64) {
	p.staleMu.Lock()
	defer p.staleMu.Unlock()
	delete(p.stale, userID)
}

// retryOffline repeats failed offline writes for users that are still
// without a session. Callers must not hold a stripe.
func (p *Presence) retryOffline(ctx context.Context) {
	p.staleMu.Lock()
	pending := make([]Identity, 0, len(p.stale))
	for _, id := range p.stale {
		pending = append(pending, id)
	}
	p.staleMu.Unlock()

	for _, id := range pending {
		p.retryUser(ctx, id)
	}
}

func (p *Presence) retryUser(ctx context.Context, id Identity) {
	mu := p.stripe(id.UserID)
	mu.Lock()
	defer mu.Unlock()

	if p.registry.SessionCount(id.UserID) > 0 {
		// Reconnected in the meantime; Connect wrote the flag.
		p.clearStale(id.UserID)
		return
	}
	if err := p.users.SetOnline(ctx, id.UserID, false, p.now()); err != nil {
		p.log.Warn("retry set offline", zap.Int64("user_id", id.UserID), zap.Error(err))
		return
	}
	p.clearStale(id.UserID)
	p.announceOffline(id)
}

// Reset clears online flags persisted by an earlier process. Only valid
// before the first Connect.
func (p *Presence) Reset(ctx context.Context) (int64, error) {
	n, err := p.users.ResetPresence(ctx)
	if err != nil {
		return 0, errs.Persistence("reset presence", err)
	}
	p.staleMu.Lock()
	p.stale = nil
	p.staleMu.Unlock()
	return n, nil
}

// Touch refreshes last_seen of userID.
func (p *Presence) Touch(ctx context.Context, userID int64) error {
	if err := p.users.Touch(ctx, userID, p.now()); err != nil {
		return errs.Persistence("touch", err)
	}
	return nil
}

func statusOf(id Identity, online bool) StatusPayload {
	return StatusPayload{UserID: id.UserID, UUID: id.UUID.String(), Username: id.Username, Online: online}
}
