package chat

import (
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/model"
	"go.uber.org/zap"
)

// DefaultTypingTimeout is how long a typing indicator lives without a
// refresh or an explicit stop.
const DefaultTypingTimeout = 5 * time.Second

type typingKey struct {
	conn  string
	scope model.Scope
}

type typingEntry struct {
	id    Identity
	timer *time.Timer
}

// Typing relays ephemeral typing indicators. Nothing is persisted.
type Typing struct {
	registry *Registry
	rooms    *Rooms
	out      *fanout
	metrics  *metrics.Metrics
	log      *zap.Logger
	ttl      time.Duration

	mu     sync.Mutex
	active map[typingKey]*typingEntry
}

func newTyping(reg *Registry, rooms *Rooms, out *fanout, m *metrics.Metrics, log *zap.Logger, ttl time.Duration) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTimeout
	}
	return &Typing{
		registry: reg,
		rooms:    rooms,
		out:      out,
		metrics:  m,
		log:      log,
		ttl:      ttl,
		active:   make(map[typingKey]*typingEntry),
	}
}

// Set relays a typing change of connID to everyone else in scope. A start
// arms an expiry timer that emits the stop if no refresh or stop arrives.
func (t *Typing) Set(connID string, scope model.Scope, typing bool) error {
	s, ok := t.registry.Lookup(connID)
	if !ok {
		return errs.ErrUnauthenticated
	}
	if !scope.IsGlobal() && !t.rooms.IsSubscribed(connID, scope) {
		return errs.ErrForbidden
	}

	key := typingKey{conn: connID, scope: scope}
	t.mu.Lock()
	entry, wasActive := t.active[key]
	if typing {
		if wasActive {
			entry.timer.Stop()
		}
		fresh := &typingEntry{id: s.Identity}
		fresh.timer = time.AfterFunc(t.ttl, func() { t.expire(key, fresh) })
		t.active[key] = fresh
	} else if wasActive {
		entry.timer.Stop()
		delete(t.active, key)
	}
	t.mu.Unlock()

	if !typing && !wasActive {
		return nil
	}
	t.emit(connID, scope, s.Identity, typing)
	return nil
}

func (t *Typing) expire(key typingKey, entry *typingEntry) {
	t.mu.Lock()
	if t.active[key] != entry {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	t.log.Debug("typing expired", zap.String("conn", key.conn), zap.String("room", key.scope.String()))
	t.emit(key.conn, key.scope, entry.id, false)
}

// Clear stops every indicator held by connID and announces the stops.
func (t *Typing) Clear(connID string) {
	type stopped struct {
		scope model.Scope
		id    Identity
	}
	var stops []stopped

	t.mu.Lock()
	for key, entry := range t.active {
		if key.conn != connID {
			continue
		}
		entry.timer.Stop()
		delete(t.active, key)
		stops = append(stops, stopped{scope: key.scope, id: entry.id})
	}
	t.mu.Unlock()

	for _, s := range stops {
		t.emit(connID, s.scope, s.id, false)
	}
}

// Active reports whether connID currently shows as typing in scope.
func (t *Typing) Active(connID string, scope model.Scope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{conn: connID, scope: scope}]
	return ok
}

func (t *Typing) emit(connID string, scope model.Scope, id Identity, typing bool) {
	t.metrics.Typing()
	t.out.publish(scope, Event{Type: EventUserTyping, Data: TypingPayload{
		UserID:   id.UserID,
		Username: id.Username,
		IsTyping: typing,
		RoomID:   roomRef(scope),
	}}, connID)
}
