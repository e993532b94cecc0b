// Package chat is the real-time coordination layer: it tracks connections
// and presence, owns room subscriptions, orders and fans out messages,
// relays typing indicators and serves history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Options tunes the core. Zero values select the defaults.
type Options struct {
	MaxContentLength    int
	HistoryMaxLimit     int
	HistoryDefaultLimit int
	TypingTimeout       time.Duration
	Now                 func() time.Time
}

// Service wires the components together and is what transports call into.
type Service struct {
	Registry *Registry
	Presence *Presence
	Rooms    *Rooms
	Pipeline *Pipeline
	Typing   *Typing
	History  *History

	store repository.Store
	out   *fanout
	log   *zap.Logger
}

// NewService builds the core over store, delivering events via transport.
func NewService(store repository.Store, transport Transport, opts Options, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	reg := NewRegistry()
	seq := newRoomLocks()
	rooms := newRooms(reg, store.Groups, seq, log.Named("rooms"), now)
	out := &fanout{transport: transport, rooms: rooms, metrics: m, log: log.Named("fanout")}
	presence := &Presence{
		registry: reg,
		users:    store.Users,
		out:      out,
		metrics:  m,
		log:      log.Named("presence"),
		now:      now,
	}
	pipeline := &Pipeline{
		registry: reg,
		rooms:    rooms,
		presence: presence,
		messages: store.Messages,
		out:      out,
		seq:      seq,
		metrics:  m,
		log:      log.Named("pipeline"),
		maxLen:   opts.MaxContentLength,
	}

	return &Service{
		Registry: reg,
		Presence: presence,
		Rooms:    rooms,
		Pipeline: pipeline,
		Typing:   newTyping(reg, rooms, out, m, log.Named("typing"), opts.TypingTimeout),
		History:  NewHistory(store.Messages, opts.HistoryMaxLimit, opts.HistoryDefaultLimit),
		store:    store,
		out:      out,
		log:      log,
	}
}

// ResetPresence clears online flags left over from a previous run. Call it
// before accepting connections.
func (s *Service) ResetPresence(ctx context.Context) error {
	n, err := s.Presence.Reset(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("cleared stale presence", zap.Int64("users", n))
	}
	return nil
}

// Connected greets a new transport connection with the online user count.
func (s *Service) Connected(connID string) {
	s.out.sendTo(connID, Event{Type: EventConnected, Data: map[string]int{"userCount": s.Registry.UserCount()}})
}

// Identify binds u to connID and marks the user online.
func (s *Service) Identify(ctx context.Context, connID string, u *model.User) (Session, error) {
	return s.Presence.Connect(ctx, connID, Identity{UserID: u.ID, UUID: u.UUID, Username: u.Username})
}

// AnnounceJoin tells everyone that id entered the chat.
func (s *Service) AnnounceJoin(id Identity) {
	s.out.broadcast(Event{Type: EventSystemMessage, Data: map[string]any{
		"content":   fmt.Sprintf("%s joined the chat", id.Username),
		"user_id":   id.UserID,
		"timestamp": time.Now().UTC(),
	}})
}

// Send delivers ev to one connection.
func (s *Service) Send(connID string, ev Event) bool {
	return s.out.sendTo(connID, ev)
}

// Disconnect tears down everything connID held: typing indicators, its
// session (recomputing presence) and its subscriptions.
func (s *Service) Disconnect(ctx context.Context, connID string) {
	s.Typing.Clear(connID)
	if _, _, err := s.Presence.Disconnect(ctx, connID); err != nil {
		s.log.Warn("disconnect presence", zap.String("conn", connID), zap.Error(err))
	}
	s.Rooms.LeaveAll(connID)
}

// JoinRoom subscribes connID to scope.
func (s *Service) JoinRoom(ctx context.Context, connID string, scope model.Scope) (RoomView, error) {
	g, err := s.Rooms.Join(ctx, connID, scope)
	if err != nil {
		return RoomView{}, err
	}
	s.touch(ctx, connID)
	return NewRoomView(g), nil
}

// LeaveRoom unsubscribes connID from scope. Leaving a room the connection
// never joined still succeeds.
func (s *Service) LeaveRoom(connID string, scope model.Scope) RoomView {
	if s.Typing.Active(connID, scope) {
		_ = s.Typing.Set(connID, scope, false)
	}
	s.Rooms.Leave(connID, scope)
	if scope.IsGlobal() {
		return NewRoomView(nil)
	}
	return RoomView{ID: scope.RoomID().String()}
}

// PostMessage runs a post from connID through the pipeline.
func (s *Service) PostMessage(ctx context.Context, connID string, p Post) (*model.Message, error) {
	return s.Pipeline.Post(ctx, connID, p)
}

// SetTyping relays a typing change.
func (s *Service) SetTyping(connID string, scope model.Scope, typing bool) error {
	return s.Typing.Set(connID, scope, typing)
}

// Heartbeat refreshes last_seen of the session bound to connID.
func (s *Service) Heartbeat(ctx context.Context, connID string) error {
	sess, ok := s.Registry.Lookup(connID)
	if !ok {
		return errs.ErrUnauthenticated
	}
	return s.Presence.Touch(ctx, sess.UserID)
}

func (s *Service) touch(ctx context.Context, connID string) {
	if err := s.Heartbeat(ctx, connID); err != nil {
		s.log.Debug("touch", zap.String("conn", connID), zap.Error(err))
	}
}

// HistoryFor returns a history page of scope as seen by userID. Private
// rooms require membership; userID 0 is an anonymous reader.
func (s *Service) HistoryFor(ctx context.Context, userID int64, scope model.Scope, limit, offset int) (Page, error) {
	g, err := s.Rooms.Resolve(ctx, scope)
	if err != nil {
		return Page{}, err
	}
	if err := s.Rooms.CanAccess(ctx, g, userID); err != nil {
		return Page{}, err
	}
	return s.History.Get(ctx, g, limit, offset)
}

// ListRooms returns the rooms visible to userID.
func (s *Service) ListRooms(ctx context.Context, userID int64) ([]model.Group, error) {
	groups, err := s.store.Groups.ListVisible(ctx, userID)
	if err != nil {
		return nil, errs.Persistence("list groups", err)
	}
	return groups, nil
}

// RoomDetail returns a room and its members.
func (s *Service) RoomDetail(ctx context.Context, userID int64, roomID uuid.UUID) (*model.Group, []model.User, error) {
	g, err := s.Rooms.Resolve(ctx, model.Room(roomID))
	if err != nil {
		return nil, nil, err
	}
	if err := s.Rooms.CanAccess(ctx, g, userID); err != nil {
		return nil, nil, err
	}
	members, err := s.store.Groups.Members(ctx, g.ID)
	if err != nil {
		return nil, nil, errs.Persistence("list members", err)
	}
	return g, members, nil
}

// CreateRoom creates a room owned by actor, posts the creation notice and
// announces public rooms to everyone.
func (s *Service) CreateRoom(ctx context.Context, actor Identity, in RoomInput) (*model.Group, error) {
	g, err := s.Rooms.CreateRoom(ctx, actor.UserID, in)
	if err != nil {
		return nil, err
	}
	s.system(ctx, g, actor, fmt.Sprintf("%s created the room %s", actor.Username, g.Name))
	if !g.IsPrivate {
		s.out.broadcast(Event{Type: EventRoomCreated, Data: NewRoomView(g)})
	}
	return g, nil
}

// JoinGroup records actor as a member of a public room. Private rooms
// answer errs.ErrForbidden unless actor already belongs to them.
func (s *Service) JoinGroup(ctx context.Context, actor Identity, roomID uuid.UUID) (MembershipResult, *model.Group, error) {
	res, g, err := s.Rooms.AddMember(ctx, actor.UserID, actor.UserID, roomID)
	if err != nil {
		return 0, nil, err
	}
	if res == Added {
		s.system(ctx, g, actor, fmt.Sprintf("%s joined the room", actor.Username))
	}
	return res, g, nil
}

// AddMember lets the creator of a room enroll the user with public id
// target. It is how members get into private rooms.
func (s *Service) AddMember(ctx context.Context, actor Identity, roomID, target uuid.UUID) (MembershipResult, *model.Group, *model.User, error) {
	u, err := s.store.Users.GetByUUID(ctx, target)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, nil, nil, fmt.Errorf("%w: user %s", errs.ErrNotFound, target)
	}
	if err != nil {
		return 0, nil, nil, errs.Persistence("load user", err)
	}
	res, g, err := s.Rooms.AddMember(ctx, actor.UserID, u.ID, roomID)
	if err != nil {
		return 0, nil, nil, err
	}
	if res == Added {
		s.system(ctx, g, actor, fmt.Sprintf("%s added %s to the room", actor.Username, u.Username))
	}
	return res, g, u, nil
}

// LeaveGroup removes actor's membership of the room.
func (s *Service) LeaveGroup(ctx context.Context, actor Identity, roomID uuid.UUID) (*model.Group, error) {
	g, err := s.Rooms.RemoveMember(ctx, actor.UserID, roomID)
	if err != nil {
		return nil, err
	}
	s.system(ctx, g, actor, fmt.Sprintf("%s left the room", actor.Username))
	return g, nil
}

// DeleteRoom deletes a room created by actor and notifies the connections
// that were subscribed to it.
func (s *Service) DeleteRoom(ctx context.Context, actor Identity, roomID uuid.UUID) (*model.Group, error) {
	g, evicted, err := s.Rooms.DeleteRoom(ctx, actor.UserID, roomID)
	if err != nil {
		return nil, err
	}
	ev := Event{Type: EventRoomDeleted, Data: NewRoomView(g)}
	for _, connID := range evicted {
		s.out.sendTo(connID, ev)
	}
	return g, nil
}

// OnlineUsers lists users flagged online.
func (s *Service) OnlineUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.store.Users.ListOnline(ctx)
	if err != nil {
		return nil, errs.Persistence("list online", err)
	}
	return users, nil
}

func (s *Service) system(ctx context.Context, g *model.Group, actor Identity, content string) {
	if _, err := s.Pipeline.PostSystem(ctx, model.Room(g.UUID), actor, content); err != nil {
		s.log.Warn("system message", zap.String("room", g.UUID.String()), zap.Error(err))
	}
}
