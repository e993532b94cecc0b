package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason returns the machine-checkable reason code reported to clients.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidContent):
		return "invalid_content"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateConnection):
		return "duplicate_connection"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error onto the status code of the REST envelope.
func HTTPStatus(err error) int {
	switch Reason(err) {
	case "":
		return http.StatusOK
	case "invalid_content", "invalid_input", "already_exists", "not_member", "duplicate_connection":
		return http.StatusBadRequest
	case "unauthenticated":
		return http.StatusUnauthorized
	case "forbidden":
		return http.StatusForbidden
	case "room_not_found", "not_found":
		return http.StatusNotFound
	case "rate_limited":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the human-readable text sent alongside the reason.
// Internal failures never leak store details to clients.
func Message(err error) string {
	if Reason(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}

// Persistence marks err as a store failure while keeping it inspectable.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
