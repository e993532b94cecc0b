package chat

import (
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/gofrs/uuid/v5"
)

// Identity is the authenticated user bound to a connection.
type Identity struct {
	UserID   int64
	UUID     uuid.UUID
	Username string
}

// Session binds one live connection to one identity.
type Session struct {
	Identity
	ConnID string
	Since  time.Time
}

// Registry maps open connections to sessions and counts sessions per user.
// The table is only reachable through the methods below.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	perUser  map[int64]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		perUser:  make(map[int64]int),
	}
}

// Register binds connID to id and returns the user's live session count
// including the new one. A bound connID yields errs.ErrDuplicateConnection.
func (r *Registry) Register(connID string, id Identity) (Session, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[connID]; exists {
		return Session{}, 0, errs.ErrDuplicateConnection
	}
	s := Session{Identity: id, ConnID: connID, Since: time.Now()}
	r.sessions[connID] = s
	r.perUser[id.UserID]++
	return s, r.perUser[id.UserID], nil
}

// Unregister drops the session of connID and returns it together with the
// number of sessions the user still has.
func (r *Registry) Unregister(connID string) (Session, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, 0, false
	}
	delete(r.sessions, connID)
	n := r.perUser[s.UserID] - 1
	if n <= 0 {
		delete(r.perUser, s.UserID)
		n = 0
	} else {
		r.perUser[s.UserID] = n
	}
	return s, n, true
}

// Lookup returns the session bound to connID.
func (r *Registry) Lookup(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// SessionCount returns the number of live sessions of userID.
func (r *Registry) SessionCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perUser[userID]
}

// UserCount returns the number of distinct users with a live session.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.perUser)
}

// Connections returns the connection ids bound to userID.
func (r *Registry) Connections(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, id)
		}
	}
	return out
}
