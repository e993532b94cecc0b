// Package model defines domain entities used by the chat core and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// User is a persisted chat identity. The codeword is never stored in plaintext.
type User struct {
	ID           int64
	UUID         uuid.UUID // public identity token
	Username     string    // unique display name
	CodewordHash []byte    // Argon2id(codeword, CodewordSalt)
	CodewordSalt []byte
	IsOnline     bool
	LastSeen     time.Time
	CreatedAt    time.Time
}

// Group is a persisted room. DeletedAt is set when the creator removes it.
type Group struct {
	ID          int64
	UUID        uuid.UUID
	Name        string
	Description string
	IsPrivate   bool
	CreatedBy   *int64 // nil if the creator was removed
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// MessageType is the closed set of message kinds.
type MessageType string

// Message kinds.
const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is one of the known message kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// FileRef points at an uploaded file stored outside the core.
type FileRef struct {
	URL  string
	Name string
}

// Message is an append-only chat message. GroupID nil denotes the global room.
type Message struct {
	ID          int64
	UUID        uuid.UUID
	Content     string
	IsEncrypted bool
	KeyRef      string
	Type        MessageType
	File        *FileRef
	AuthorID    int64
	AuthorUUID  uuid.UUID // filled on read
	AuthorName  string    // filled on read
	GroupID     *int64
	GroupUUID   uuid.UUID // uuid.Nil for the global room
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// Membership is a row of the user_groups association.
type Membership struct {
	UserID   int64
	GroupID  int64
	JoinedAt time.Time
}
