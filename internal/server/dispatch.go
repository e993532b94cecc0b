package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/service"
	"go.uber.org/zap"
)

// opened greets a new connection and, when the upgrade carried a valid
// session cookie, binds that identity right away.
func (s *Server) opened(ctx context.Context, c *Client) {
	s.chat.Connected(c.id)
	if c.cookieUser == nil {
		return
	}
	if _, err := s.chat.Identify(ctx, c.id, c.cookieUser); err != nil {
		c.log.Warn("identify from cookie", zap.Error(err))
		c.sendError(chat.EventError, err)
	}
}

// dispatch decodes one inbound frame and runs its handler. A failing or
// panicking handler only produces an error event for this connection.
func (s *Server) dispatch(ctx context.Context, c *Client, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.sendError(chat.EventError, fmt.Errorf("%w: malformed event", errs.ErrInvalidInput))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic",
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
				zap.String("event", string(in.Type)))
			c.sendError(chat.EventError, errors.New("internal"))
		}
	}()

	var err error
	errKind := chat.EventError
	switch in.Type {
	case KindUserJoin:
		err = s.onUserJoin(ctx, c, in.Data)
	case KindJoinRoom:
		err = s.onJoinRoom(ctx, c, in.Data)
	case KindLeaveRoom:
		err = s.onLeaveRoom(c, in.Data)
	case KindSendMessage:
		errKind = chat.EventMessageError
		err = s.onSendMessage(ctx, c, in.Data)
	case KindGetHistory:
		err = s.onGetHistory(ctx, c, in.Data)
	case KindTyping:
		err = s.onTyping(c, in.Data, true)
	case KindTypingStop:
		err = s.onTyping(c, in.Data, false)
	case KindHeartbeat:
		err = s.chat.Heartbeat(ctx, c.id)
	default:
		err = fmt.Errorf("%w: unknown event %q", errs.ErrInvalidInput, in.Type)
	}
	if err != nil {
		c.log.Debug("event failed", zap.String("event", string(in.Type)), zap.Error(err))
		c.sendError(errKind, err)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload", errs.ErrInvalidInput)
	}
	return nil
}

func parseScope(ref string) (model.Scope, error) {
	scope, err := model.ParseScope(ref)
	if err != nil {
		return model.Scope{}, fmt.Errorf("%w: malformed room id", errs.ErrInvalidInput)
	}
	return scope, nil
}

func (s *Server) onUserJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	var p userJoinPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	req := service.JoinRequest{UUID: p.UserUUID, Username: p.Username, Codeword: p.Codeword}
	if c.cookieUser != nil {
		req.SessionUser = c.cookieUser.UUID
	}
	u, err := s.identity.Join(ctx, req)
	if err != nil {
		return err
	}

	if sess, bound := s.chat.Registry.Lookup(c.id); bound {
		if sess.UserID != u.ID {
			return fmt.Errorf("%w: connection is bound to another user", errs.ErrDuplicateConnection)
		}
	} else if _, err := s.chat.Identify(ctx, c.id, u); err != nil {
		return err
	}

	c.sendEvent(chat.Event{Type: chat.EventJoinSuccess, Data: map[string]any{"user": chat.NewUserView(*u)}})
	s.chat.AnnounceJoin(chat.Identity{UserID: u.ID, UUID: u.UUID, Username: u.Username})
	return nil
}

func (s *Server) onJoinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return err
	}
	scope, err := parseScope(p.ref())
	if err != nil {
		return err
	}
	room, err := s.chat.JoinRoom(ctx, c.id, scope)
	if err != nil {
		return err
	}
	c.sendEvent(chat.Event{Type: chat.EventRoomJoined, Data: map[string]any{"room": room}})
	return nil
}

func (s *Server) onLeaveRoom(c *Client, data json.RawMessage) error {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return err
	}
	scope, err := parseScope(p.ref())
	if err != nil {
		return err
	}
	room := s.chat.LeaveRoom(c.id, scope)
	c.sendEvent(chat.Event{Type: chat.EventRoomLeft, Data: map[string]any{"room": room}})
	return nil
}

func (s *Server) onSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p sendMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	scope, err := parseScope(p.ref())
	if err != nil {
		return err
	}
	post := chat.Post{
		Scope:       scope,
		Content:     p.Content,
		Type:        model.MessageType(p.MessageType),
		IsEncrypted: p.IsEncrypted,
		KeyRef:      p.KeyRef,
	}
	if p.FileURL != "" || p.FileName != "" {
		post.File = &model.FileRef{URL: p.FileURL, Name: p.FileName}
	}
	_, err = s.chat.PostMessage(ctx, c.id, post)
	return err
}

func (s *Server) onGetHistory(ctx context.Context, c *Client, data json.RawMessage) error {
	var p historyRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	scope, err := parseScope(p.ref())
	if err != nil {
		return err
	}
	var userID int64
	if sess, ok := s.chat.Registry.Lookup(c.id); ok {
		userID = sess.UserID
	}
	page, err := s.chat.HistoryFor(ctx, userID, scope, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	views := make([]chat.MessageView, 0, len(page.Messages))
	for _, m := range page.Messages {
		views = append(views, chat.NewMessageView(m))
	}
	c.sendEvent(chat.Event{Type: chat.EventMessageHistory, Data: chat.HistoryPayload{
		RoomID:   p.ref(),
		Messages: views,
		HasMore:  page.HasMore,
	}})
	return nil
}

func (s *Server) onTyping(c *Client, data json.RawMessage, typing bool) error {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return err
	}
	scope, err := parseScope(p.ref())
	if err != nil {
		return err
	}
	return s.chat.SetTyping(c.id, scope, typing)
}
