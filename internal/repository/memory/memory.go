// Package memory implements the repository interfaces in process memory.
// It backs the server when no database is configured and the chat core tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// DB holds all tables behind one lock.
type DB struct {
	mu       sync.RWMutex
	users    map[int64]*model.User
	groups   map[int64]*model.Group
	members  map[int64]map[int64]time.Time // groupID -> userID -> joinedAt
	messages []model.Message
	nextID   int64
	now      func() time.Time
}

// New returns an empty in-memory database.
func New() *DB {
	return &DB{
		users:   make(map[int64]*model.User),
		groups:  make(map[int64]*model.Group),
		members: make(map[int64]map[int64]time.Time),
		now:     time.Now,
	}
}

// Store exposes the database through the repository interfaces.
func (db *DB) Store() repository.Store {
	return repository.Store{
		Users:    (*UserRepo)(db),
		Groups:   (*GroupRepo)(db),
		Messages: (*MessageRepo)(db),
	}
}

func (db *DB) id() int64 {
	db.nextID++
	return db.nextID
}

// UserRepo implements repository.UserRepository.
type UserRepo DB

// Create inserts a user; username and uuid are unique.
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, ex := range db.users {
		if ex.Username == u.Username || ex.UUID == u.UUID {
			return errs.ErrAlreadyExists
		}
	}
	u.ID = db.id()
	u.CreatedAt = db.now()
	cpy := *u
	db.users[u.ID] = &cpy
	return nil
}

func (r *UserRepo) find(match func(*model.User) bool) (*model.User, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, u := range db.users {
		if match(u) {
			cpy := *u
			return &cpy, nil
		}
	}
	return nil, errs.ErrNotFound
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id })
}

// GetByUUID loads a user by uuid.
func (r *UserRepo) GetByUUID(_ context.Context, id uuid.UUID) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.UUID == id })
}

// GetByUsername loads a user by display name.
func (r *UserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == username })
}

// SetOnline stores the presence flag and last_seen.
func (r *UserRepo) SetOnline(_ context.Context, id int64, online bool, at time.Time) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = at
	return nil
}

// Touch updates last_seen.
func (r *UserRepo) Touch(_ context.Context, id int64, at time.Time) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.LastSeen = at
	return nil
}

// ResetPresence clears every online flag.
func (r *UserRepo) ResetPresence(_ context.Context) (int64, error) {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for _, u := range db.users {
		if u.IsOnline {
			u.IsOnline = false
			n++
		}
	}
	return n, nil
}

// ListOnline returns users flagged online ordered by username.
func (r *UserRepo) ListOnline(_ context.Context) ([]model.User, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []model.User
	for _, u := range db.users {
		if u.IsOnline {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// GroupRepo implements repository.GroupRepository.
type GroupRepo DB

// Create inserts a group and its creator membership.
func (r *GroupRepo) Create(_ context.Context, g *model.Group) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, ex := range db.groups {
		if ex.UUID == g.UUID {
			return errs.ErrAlreadyExists
		}
	}
	g.ID = db.id()
	g.CreatedAt = db.now()
	cpy := *g
	db.groups[g.ID] = &cpy
	db.members[g.ID] = make(map[int64]time.Time)
	if g.CreatedBy != nil {
		db.members[g.ID][*g.CreatedBy] = g.CreatedAt
	}
	return nil
}

// GetByUUID loads a live group.
func (r *GroupRepo) GetByUUID(_ context.Context, id uuid.UUID) (*model.Group, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, g := range db.groups {
		if g.UUID == id && g.DeletedAt == nil {
			cpy := *g
			return &cpy, nil
		}
	}
	return nil, errs.ErrNotFound
}

// ListVisible returns public groups and private groups userID belongs to.
func (r *GroupRepo) ListVisible(_ context.Context, userID int64) ([]model.Group, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []model.Group
	for _, g := range db.groups {
		if g.DeletedAt != nil {
			continue
		}
		if _, member := db.members[g.ID][userID]; g.IsPrivate && !member {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete soft-deletes a group.
func (r *GroupRepo) Delete(_ context.Context, id int64, at time.Time) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	g, ok := db.groups[id]
	if !ok || g.DeletedAt != nil {
		return errs.ErrNotFound
	}
	g.DeletedAt = &at
	return nil
}

// AddMember inserts a membership if absent.
func (r *GroupRepo) AddMember(_ context.Context, groupID, userID int64) (bool, error) {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	set, ok := db.members[groupID]
	if !ok {
		return false, errs.ErrNotFound
	}
	if _, exists := set[userID]; exists {
		return false, nil
	}
	set[userID] = db.now()
	return true, nil
}

// RemoveMember deletes a membership if present.
func (r *GroupRepo) RemoveMember(_ context.Context, groupID, userID int64) (bool, error) {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	set := db.members[groupID]
	if _, exists := set[userID]; !exists {
		return false, nil
	}
	delete(set, userID)
	return true, nil
}

// IsMember reports whether the membership exists.
func (r *GroupRepo) IsMember(_ context.Context, groupID, userID int64) (bool, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.members[groupID][userID]
	return ok, nil
}

// Members lists group users in join order.
func (r *GroupRepo) Members(_ context.Context, groupID int64) ([]model.User, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()
	type joined struct {
		u  model.User
		at time.Time
	}
	var rows []joined
	for uid, at := range db.members[groupID] {
		if u, ok := db.users[uid]; ok {
			rows = append(rows, joined{u: *u, at: at})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].at.Equal(rows[j].at) {
			return rows[i].u.ID < rows[j].u.ID
		}
		return rows[i].at.Before(rows[j].at)
	})
	out := make([]model.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.u)
	}
	return out, nil
}

// MessageRepo implements repository.MessageRepository.
type MessageRepo DB

// Create appends a message.
func (r *MessageRepo) Create(_ context.Context, m *model.Message) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.users[m.AuthorID]; !ok {
		return errs.ErrNotFound
	}
	m.ID = db.id()
	m.CreatedAt = db.now()
	cpy := *m
	if m.File != nil {
		f := *m.File
		cpy.File = &f
	}
	db.messages = append(db.messages, cpy)
	return nil
}

// ListRecent returns newest-first messages of one room.
func (r *MessageRepo) ListRecent(_ context.Context, groupID *int64, limit, offset int) ([]model.Message, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []model.Message
	skipped := 0
	for i := len(db.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := db.messages[i]
		if !sameRoom(m.GroupID, groupID) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if u, ok := db.users[m.AuthorID]; ok {
			m.AuthorUUID = u.UUID
			m.AuthorName = u.Username
		}
		out = append(out, m)
	}
	return out, nil
}

func sameRoom(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
