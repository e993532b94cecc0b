package chat

import (
	"encoding/json"
	"sync"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/model"
	"go.uber.org/zap"
)

// Transport delivers encoded events to open connections. Implementations
// must not block: a full or closed connection drops the payload and
// reports false. SendAll skips except when it is non-empty and returns the
// number of connections the payload was queued to. Dropped payloads are
// counted by the transport, which alone knows why a send failed.
type Transport interface {
	Send(connID string, payload []byte) bool
	SendAll(payload []byte, except string) int
}

// fanout encodes events once and pushes them through the transport.
type fanout struct {
	transport Transport
	rooms     *Rooms
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func (f *fanout) encode(ev Event) ([]byte, bool) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.log.Error("encode event", zap.String("type", ev.Type), zap.Error(err))
		return nil, false
	}
	return payload, true
}

// sendTo delivers ev to a single connection.
func (f *fanout) sendTo(connID string, ev Event) bool {
	payload, ok := f.encode(ev)
	if !ok {
		return false
	}
	return f.deliver(connID, payload)
}

func (f *fanout) deliver(connID string, payload []byte) bool {
	if !f.transport.Send(connID, payload) {
		return false
	}
	f.metrics.Delivered()
	return true
}

// broadcast delivers ev to every open connection.
func (f *fanout) broadcast(ev Event) {
	payload, ok := f.encode(ev)
	if !ok {
		return
	}
	f.all(payload, "")
}

func (f *fanout) all(payload []byte, except string) {
	n := f.transport.SendAll(payload, except)
	for i := 0; i < n; i++ {
		f.metrics.Delivered()
	}
}

// publish delivers ev to the subscribers of scope. The global scope reaches
// every open connection. except is skipped when non-empty.
func (f *fanout) publish(scope model.Scope, ev Event, except string) {
	payload, ok := f.encode(ev)
	if !ok {
		return
	}
	if scope.IsGlobal() {
		f.all(payload, except)
		return
	}
	for _, id := range f.rooms.Subscribers(scope) {
		if id == except {
			continue
		}
		f.deliver(id, payload)
	}
}

// roomLocks serializes persist-then-fanout per scope.
type roomLocks struct {
	mu    sync.Mutex
	locks map[model.Scope]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[model.Scope]*roomLock)}
}

// lock acquires the lock of scope and returns its release func.
func (l *roomLocks) lock(s model.Scope) func() {
	l.mu.Lock()
	rl, ok := l.locks[s]
	if !ok {
		rl = &roomLock{}
		l.locks[s] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, s)
		}
		l.mu.Unlock()
	}
}
