package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// MembershipResult reports what AddMember did.
type MembershipResult int

const (
	// Added means a new membership row was recorded.
	Added MembershipResult = iota
	// AlreadyMember means the user was a member before the call.
	AlreadyMember
)

const (
	minRoomName        = 2
	maxRoomName        = 100
	maxRoomDescription = 500
)

// reservedRoomWords may not appear anywhere in a room name.
var reservedRoomWords = []string{"admin", "system", "root", "official", "support"}

// Rooms owns runtime subscriptions and mediates persisted membership.
type Rooms struct {
	registry *Registry
	groups   repository.GroupRepository
	seq      *roomLocks
	log      *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	subs   map[model.Scope]map[string]struct{}
	byConn map[string]map[model.Scope]struct{}
}

func newRooms(reg *Registry, groups repository.GroupRepository, seq *roomLocks, log *zap.Logger, now func() time.Time) *Rooms {
	return &Rooms{
		registry: reg,
		groups:   groups,
		seq:      seq,
		log:      log,
		now:      now,
		subs:     make(map[model.Scope]map[string]struct{}),
		byConn:   make(map[string]map[model.Scope]struct{}),
	}
}

// Resolve loads the live group behind scope; the global scope yields nil.
func (r *Rooms) Resolve(ctx context.Context, scope model.Scope) (*model.Group, error) {
	if scope.IsGlobal() {
		return nil, nil
	}
	g, err := r.groups.GetByUUID(ctx, scope.RoomID())
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrRoomNotFound
	}
	if err != nil {
		return nil, errs.Persistence("load group", err)
	}
	return g, nil
}

// CanAccess returns errs.ErrForbidden when g is private and userID is not a
// recorded member. Public rooms and the global room are open to everyone.
func (r *Rooms) CanAccess(ctx context.Context, g *model.Group, userID int64) error {
	if g == nil || !g.IsPrivate {
		return nil
	}
	ok, err := r.groups.IsMember(ctx, g.ID, userID)
	if err != nil {
		return errs.Persistence("check membership", err)
	}
	if !ok {
		return errs.ErrForbidden
	}
	return nil
}

// Join subscribes connID to scope. Joining twice is a no-op.
// A room is resolved under its sequencing lock, so a join either completes
// before DeleteRoom evicts the subscribers or sees the room gone.
func (r *Rooms) Join(ctx context.Context, connID string, scope model.Scope) (*model.Group, error) {
	s, ok := r.registry.Lookup(connID)
	if !ok {
		return nil, errs.ErrUnauthenticated
	}
	if !scope.IsGlobal() {
		unlock := r.seq.lock(scope)
		defer unlock()
	}
	g, err := r.Resolve(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := r.CanAccess(ctx, g, s.UserID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// LeaveAll runs after the session is unregistered, so a join that lost
	// that race must not leave a subscription behind.
	if _, live := r.registry.Lookup(connID); !live {
		return nil, errs.ErrUnauthenticated
	}
	r.subscribeLocked(connID, scope)
	return g, nil
}

func (r *Rooms) subscribeLocked(connID string, scope model.Scope) {
	set, ok := r.subs[scope]
	if !ok {
		set = make(map[string]struct{})
		r.subs[scope] = set
	}
	set[connID] = struct{}{}
	conns, ok := r.byConn[connID]
	if !ok {
		conns = make(map[model.Scope]struct{})
		r.byConn[connID] = conns
	}
	conns[scope] = struct{}{}
}

func (r *Rooms) unsubscribeLocked(connID string, scope model.Scope) bool {
	set, ok := r.subs[scope]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.subs, scope)
	}
	if conns, ok := r.byConn[connID]; ok {
		delete(conns, scope)
		if len(conns) == 0 {
			delete(r.byConn, connID)
		}
	}
	return true
}

// Leave removes connID from scope and reports whether it was subscribed.
func (r *Rooms) Leave(connID string, scope model.Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked(connID, scope)
}

// LeaveAll drops every subscription of connID and returns the scopes left.
func (r *Rooms) LeaveAll(connID string) []model.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []model.Scope
	for scope := range r.byConn[connID] {
		left = append(left, scope)
	}
	for _, scope := range left {
		r.unsubscribeLocked(connID, scope)
	}
	return left
}

// Subscribers returns the connections subscribed to scope.
func (r *Rooms) Subscribers(scope model.Scope) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs[scope]))
	for id := range r.subs[scope] {
		out = append(out, id)
	}
	return out
}

// IsSubscribed reports whether connID is subscribed to scope.
func (r *Rooms) IsSubscribed(connID string, scope model.Scope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[scope][connID]
	return ok
}

// AddMember records userID as a member of the room on behalf of actorID.
// Anyone may enroll themselves in a public room. Private rooms are closed to
// self-enrollment; only the creator adds members there, and only the creator
// may enroll someone other than themselves. Repeating the call returns
// AlreadyMember and changes nothing.
func (r *Rooms) AddMember(ctx context.Context, actorID, userID int64, roomID uuid.UUID) (MembershipResult, *model.Group, error) {
	g, err := r.Resolve(ctx, model.Room(roomID))
	if err != nil {
		return 0, nil, err
	}
	if err := r.canEnroll(ctx, g, actorID, userID); err != nil {
		return 0, nil, err
	}
	added, err := r.groups.AddMember(ctx, g.ID, userID)
	if err != nil {
		return 0, nil, errs.Persistence("add member", err)
	}
	if !added {
		return AlreadyMember, g, nil
	}
	return Added, g, nil
}

func (r *Rooms) canEnroll(ctx context.Context, g *model.Group, actorID, userID int64) error {
	creator := g.CreatedBy != nil && *g.CreatedBy == actorID
	if actorID != userID {
		if !creator {
			return errs.ErrForbidden
		}
		return nil
	}
	if !g.IsPrivate || creator {
		return nil
	}
	// A member asking again is answered with AlreadyMember.
	return r.CanAccess(ctx, g, userID)
}

// RemoveMember deletes the membership of userID and drops the runtime
// subscriptions of that user's connections to the room.
func (r *Rooms) RemoveMember(ctx context.Context, userID int64, roomID uuid.UUID) (*model.Group, error) {
	scope := model.Room(roomID)
	g, err := r.Resolve(ctx, scope)
	if err != nil {
		return nil, err
	}
	removed, err := r.groups.RemoveMember(ctx, g.ID, userID)
	if err != nil {
		return nil, errs.Persistence("remove member", err)
	}
	if !removed {
		return nil, errs.ErrNotMember
	}
	if g.IsPrivate {
		r.mu.Lock()
		for _, connID := range r.registry.Connections(userID) {
			r.unsubscribeLocked(connID, scope)
		}
		r.mu.Unlock()
	}
	return g, nil
}

// RoomInput is the user-supplied part of a new room.
type RoomInput struct {
	Name        string
	Description string
	IsPrivate   bool
}

// Validate checks name and description bounds and the reserved-name list.
func (in *RoomInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	n := utf8.RuneCountInString(in.Name)
	if n < minRoomName || n > maxRoomName {
		return fmt.Errorf("%w: room name must be %d-%d characters", errs.ErrInvalidInput, minRoomName, maxRoomName)
	}
	if utf8.RuneCountInString(in.Description) > maxRoomDescription {
		return fmt.Errorf("%w: description exceeds %d characters", errs.ErrInvalidInput, maxRoomDescription)
	}
	lower := strings.ToLower(in.Name)
	for _, word := range reservedRoomWords {
		if strings.Contains(lower, word) {
			return fmt.Errorf("%w: room name %q is reserved", errs.ErrInvalidInput, in.Name)
		}
	}
	return nil
}

// CreateRoom persists a new room with creatorID as its first member.
func (r *Rooms) CreateRoom(ctx context.Context, creatorID int64, in RoomInput) (*model.Group, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("room id: %w", err)
	}
	g := &model.Group{
		UUID:        id,
		Name:        in.Name,
		Description: in.Description,
		IsPrivate:   in.IsPrivate,
		CreatedBy:   &creatorID,
	}
	if err := r.groups.Create(ctx, g); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, err
		}
		return nil, errs.Persistence("create group", err)
	}
	return g, nil
}

// DeleteRoom soft-deletes a room created by requestorID and evicts all of
// its subscribers. The evicted connection ids are returned. Posts holding the
// room's sequencing lock finish first; later posts see errs.ErrRoomNotFound.
func (r *Rooms) DeleteRoom(ctx context.Context, requestorID int64, roomID uuid.UUID) (*model.Group, []string, error) {
	scope := model.Room(roomID)
	unlock := r.seq.lock(scope)
	defer unlock()

	g, err := r.Resolve(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	if g.CreatedBy == nil || *g.CreatedBy != requestorID {
		return nil, nil, errs.ErrForbidden
	}
	if err := r.groups.Delete(ctx, g.ID, r.now()); err != nil {
		return nil, nil, errs.Persistence("delete group", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for connID := range r.subs[scope] {
		evicted = append(evicted, connID)
	}
	for _, connID := range evicted {
		r.unsubscribeLocked(connID, scope)
	}
	r.log.Info("room deleted", zap.String("room", scope.String()), zap.Int("evicted", len(evicted)))
	return g, evicted, nil
}
