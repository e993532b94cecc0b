// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/chat/server layers.
var (
	// ErrInvalidInput indicates bad or missing request input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidContent indicates a message body rejected by validation.
	ErrInvalidContent = errors.New("invalid content")

	// ErrUnauthenticated indicates the connection or request carries no identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates the identity is not allowed to perform the action.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRoomNotFound indicates an unknown or deleted room.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotMember indicates a membership removal for a user outside the room.
	ErrNotMember = errors.New("not a member")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrDuplicateConnection indicates the connection id is already bound to a session.
	ErrDuplicateConnection = errors.New("duplicate connection")

	// ErrPersistence wraps failures of the durable store.
	ErrPersistence = errors.New("persistence failure")

	// ErrRateLimited indicates the caller exceeded its event budget.
	ErrRateLimited = errors.New("rate limited")
)
