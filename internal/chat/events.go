package chat

import (
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
)

// Outbound event names.
const (
	EventConnected      = "connected"
	EventUserStatus     = "user_status"
	EventUserCount      = "user_count"
	EventJoinSuccess    = "join_success"
	EventSystemMessage  = "system_message"
	EventRoomJoined     = "room_joined"
	EventRoomLeft       = "room_left"
	EventRoomCreated    = "room_created"
	EventRoomDeleted    = "room_deleted"
	EventNewMessage     = "new_message"
	EventMessageError   = "message_error"
	EventMessageHistory = "message_history"
	EventUserTyping     = "user_typing"
	EventError          = "error"
)

// Event is the envelope written to WebSocket clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// UserView is the public projection of a user.
type UserView struct {
	ID       int64      `json:"id"`
	UUID     string     `json:"uuid"`
	Username string     `json:"username"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// RoomView is the public projection of a room; the global room has an empty ID.
type RoomView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"is_private"`
	CreatedBy   *int64 `json:"created_by,omitempty"`
}

// AuthorView identifies the author of a message.
type AuthorView struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
}

// MessageView is the wire form of a persisted message.
type MessageView struct {
	ID          int64      `json:"id"`
	UUID        string     `json:"uuid"`
	Content     string     `json:"content"`
	Type        string     `json:"message_type"`
	IsEncrypted bool       `json:"is_encrypted"`
	KeyRef      string     `json:"key_ref,omitempty"`
	FileURL     string     `json:"file_url,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	RoomID      string     `json:"room_id,omitempty"`
	Author      AuthorView `json:"author"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// StatusPayload announces a presence change.
type StatusPayload struct {
	UserID   int64  `json:"user_id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// TypingPayload is the body of user_typing.
type TypingPayload struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
	RoomID   string `json:"room_id,omitempty"`
}

// HistoryPayload is the body of message_history.
type HistoryPayload struct {
	RoomID   string        `json:"room_id,omitempty"`
	Messages []MessageView `json:"messages"`
	HasMore  bool          `json:"hasMore"`
}

// ErrorPayload carries a machine-checkable reason and a human message.
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// NewUserView projects a user.
func NewUserView(u model.User) UserView {
	v := UserView{ID: u.ID, UUID: u.UUID.String(), Username: u.Username, IsOnline: u.IsOnline}
	if !u.LastSeen.IsZero() {
		ls := u.LastSeen
		v.LastSeen = &ls
	}
	return v
}

// NewRoomView projects a group; nil is the global room.
func NewRoomView(g *model.Group) RoomView {
	if g == nil {
		return RoomView{Name: "global"}
	}
	return RoomView{
		ID:          g.UUID.String(),
		Name:        g.Name,
		Description: g.Description,
		IsPrivate:   g.IsPrivate,
		CreatedBy:   g.CreatedBy,
	}
}

// NewMessageView projects a message.
func NewMessageView(m model.Message) MessageView {
	v := MessageView{
		ID:          m.ID,
		UUID:        m.UUID.String(),
		Content:     m.Content,
		Type:        string(m.Type),
		IsEncrypted: m.IsEncrypted,
		KeyRef:      m.KeyRef,
		Author:      AuthorView{ID: m.AuthorID, UUID: m.AuthorUUID.String(), Username: m.AuthorName},
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.File != nil {
		v.FileURL, v.FileName = m.File.URL, m.File.Name
	}
	if !model.Room(m.GroupUUID).IsGlobal() {
		v.RoomID = m.GroupUUID.String()
	}
	return v
}

// ErrorEvent builds a typed error event for err.
func ErrorEvent(kind string, err error) Event {
	return Event{Type: kind, Data: ErrorPayload{Reason: errs.Reason(err), Message: errs.Message(err)}}
}

func roomRef(s model.Scope) string {
	if s.IsGlobal() {
		return ""
	}
	return s.RoomID().String()
}
