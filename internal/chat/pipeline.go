package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Pipeline validates, persists and fans out messages. For one room the
// order in which messages are stored is the order every subscriber receives
// them in.
type Pipeline struct {
	registry *Registry
	rooms    *Rooms
	presence *Presence
	messages repository.MessageRepository
	out      *fanout
	seq      *roomLocks
	metrics  *metrics.Metrics
	log      *zap.Logger
	maxLen   int
}

// Post submits a message from the session bound to connID.
// Rejected and failed posts reach nobody.
func (p *Pipeline) Post(ctx context.Context, connID string, post Post) (*model.Message, error) {
	s, ok := p.registry.Lookup(connID)
	if !ok {
		p.metrics.MessageResult("rejected")
		return nil, errs.ErrUnauthenticated
	}
	if err := post.validate(p.maxLen); err != nil {
		p.metrics.MessageResult("rejected")
		return nil, err
	}

	m := &model.Message{
		Content:     post.Content,
		IsEncrypted: post.IsEncrypted,
		KeyRef:      post.KeyRef,
		Type:        post.Type,
		File:        post.File,
		AuthorID:    s.UserID,
		AuthorUUID:  s.UUID,
		AuthorName:  s.Username,
	}
	if err := p.commit(ctx, post.Scope, m, true); err != nil {
		return nil, err
	}

	if err := p.presence.Touch(ctx, s.UserID); err != nil {
		p.log.Warn("touch after post", zap.Int64("user_id", s.UserID), zap.Error(err))
	}
	return m, nil
}

// PostSystem stores and broadcasts a system notice attributed to actor.
func (p *Pipeline) PostSystem(ctx context.Context, scope model.Scope, actor Identity, content string) (*model.Message, error) {
	m := &model.Message{
		Content:    content,
		Type:       model.MessageSystem,
		AuthorID:   actor.UserID,
		AuthorUUID: actor.UUID,
		AuthorName: actor.Username,
	}
	if err := p.commit(ctx, scope, m, false); err != nil {
		return nil, err
	}
	return m, nil
}

// commit runs the resolve, authorize, persist and fan-out steps under the
// room's sequencing lock.
func (p *Pipeline) commit(ctx context.Context, scope model.Scope, m *model.Message, checkAccess bool) error {
	unlock := p.seq.lock(scope)
	defer unlock()

	g, err := p.rooms.Resolve(ctx, scope)
	if err != nil {
		p.metrics.MessageResult("rejected")
		return err
	}
	if checkAccess {
		if err := p.rooms.CanAccess(ctx, g, m.AuthorID); err != nil {
			p.metrics.MessageResult("rejected")
			return err
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		p.metrics.MessageResult("failed")
		return fmt.Errorf("message id: %w", err)
	}
	m.UUID = id
	if g != nil {
		m.GroupID = &g.ID
		m.GroupUUID = g.UUID
	}
	if err := p.messages.Create(ctx, m); err != nil {
		p.metrics.MessageResult("failed")
		p.log.Error("persist message",
			zap.String("room", scope.String()),
			zap.Int64("user_id", m.AuthorID),
			zap.Error(err))
		return errs.Persistence("create message", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	p.metrics.MessageResult("ok")
	p.out.publish(scope, Event{Type: EventNewMessage, Data: NewMessageView(*m)}, "")
	return nil
}
