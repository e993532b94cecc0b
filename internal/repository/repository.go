// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to persisted chat identities.
type UserRepository interface {
	// Create inserts a new user and fills its ID/CreatedAt. Duplicate username or uuid → errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// GetByUUID loads a user by public uuid.
	GetByUUID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by display name.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetOnline persists the presence flag together with last_seen.
	SetOnline(ctx context.Context, id int64, online bool, at time.Time) error
	// Touch updates last_seen only.
	Touch(ctx context.Context, id int64, at time.Time) error
	// ListOnline returns users flagged online, ordered by username.
	ListOnline(ctx context.Context) ([]model.User, error)
	// ResetPresence clears every online flag and reports how many were set.
	// Run at startup, before any session exists.
	ResetPresence(ctx context.Context) (int64, error)
}

// GroupRepository provides access to persisted rooms and their members.
type GroupRepository interface {
	// Create inserts a group and records the creator as its first member.
	Create(ctx context.Context, g *model.Group) error
	// GetByUUID loads a live (not deleted) group.
	GetByUUID(ctx context.Context, id uuid.UUID) (*model.Group, error)
	// ListVisible returns public groups plus private groups userID belongs to.
	ListVisible(ctx context.Context, userID int64) ([]model.Group, error)
	// Delete soft-deletes a group; messages stay in place.
	Delete(ctx context.Context, id int64, at time.Time) error
	// AddMember inserts a membership row; added is false if it already existed.
	AddMember(ctx context.Context, groupID, userID int64) (added bool, err error)
	// RemoveMember deletes a membership row; removed is false if there was none.
	RemoveMember(ctx context.Context, groupID, userID int64) (removed bool, err error)
	// IsMember reports whether userID is a recorded member of groupID.
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	// Members returns the users of a group ordered by join time.
	Members(ctx context.Context, groupID int64) ([]model.User, error)
}

// MessageRepository provides append-only access to chat messages.
type MessageRepository interface {
	// Create inserts a message and fills its ID/CreatedAt.
	Create(ctx context.Context, m *model.Message) error
	// ListRecent returns up to limit messages of a room (nil = global) newest
	// first, skipping offset rows. Author fields are filled.
	ListRecent(ctx context.Context, groupID *int64, limit, offset int) ([]model.Message, error)
}

// Store bundles the repositories the chat core depends on.
type Store struct {
	Users    UserRepository
	Groups   GroupRepository
	Messages MessageRepository
}
