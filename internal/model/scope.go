package model

import "github.com/gofrs/uuid/v5"

// Scope is the broadcast scope of an event: the global room or one group.
// The zero value is the global room.
type Scope struct {
	room uuid.UUID
}

// Global returns the scope of the implicit global room.
func Global() Scope { return Scope{} }

// Room returns the scope of the group with the given public uuid.
// Room(uuid.Nil) is the global room.
func Room(id uuid.UUID) Scope { return Scope{room: id} }

// ParseScope resolves an optional room reference; an empty string is global.
func ParseScope(ref string) (Scope, error) {
	if ref == "" {
		return Global(), nil
	}
	id, err := uuid.FromString(ref)
	if err != nil {
		return Scope{}, err
	}
	return Room(id), nil
}

// IsGlobal reports whether s addresses the global room.
func (s Scope) IsGlobal() bool { return s.room == uuid.Nil }

// RoomID returns the group uuid; uuid.Nil for the global room.
func (s Scope) RoomID() uuid.UUID { return s.room }

// String renders the scope for logs and wire payloads.
func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return s.room.String()
}
