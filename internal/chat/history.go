package chat

import (
	"context"
	"slices"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/repository"
)

// History limits.
const (
	DefaultHistoryMaxLimit     = 100
	DefaultHistoryDefaultLimit = 50
)

// Page is one slice of a room's history in chronological order.
// HasMore is true when the page is full, which may over-report by one page.
type Page struct {
	Messages []model.Message
	HasMore  bool
}

// History reads persisted messages newest-first and returns them oldest-first.
type History struct {
	messages     repository.MessageRepository
	maxLimit     int
	defaultLimit int
}

// NewHistory returns a history reader with the given limits; zero values
// fall back to the defaults.
func NewHistory(messages repository.MessageRepository, maxLimit, defaultLimit int) *History {
	if maxLimit <= 0 {
		maxLimit = DefaultHistoryMaxLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(DefaultHistoryDefaultLimit, maxLimit)
	}
	return &History{messages: messages, maxLimit: maxLimit, defaultLimit: defaultLimit}
}

// Clamp normalizes caller-supplied paging values.
func (h *History) Clamp(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = h.defaultLimit
	case limit > h.maxLimit:
		limit = h.maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Get returns a page of room g; nil is the global room.
func (h *History) Get(ctx context.Context, g *model.Group, limit, offset int) (Page, error) {
	limit, offset = h.Clamp(limit, offset)

	var groupID *int64
	if g != nil {
		groupID = &g.ID
	}
	rows, err := h.messages.ListRecent(ctx, groupID, limit, offset)
	if err != nil {
		return Page{}, errs.Persistence("list messages", err)
	}
	slices.Reverse(rows)
	if g != nil {
		for i := range rows {
			rows[i].GroupUUID = g.UUID
		}
	}
	if rows == nil {
		rows = []model.Message{}
	}
	return Page{Messages: rows, HasMore: len(rows) == limit}, nil
}
