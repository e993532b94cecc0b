package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendBufferSize  = 256
	pongWait        = 60 * time.Second
	pingPeriod      = 54 * time.Second
	writeWait       = 10 * time.Second
	teardownTimeout = 5 * time.Second
)

// Client is one WebSocket connection. Its read loop feeds the dispatcher;
// its write loop drains the send buffer filled by the hub.
type Client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	hub          *Hub
	srv          *Server
	addr         string
	closed       bool
	maxFrameSize int64
	limiter      *rate.Limiter
	// cookieUser is the identity proven by the session cookie at upgrade.
	cookieUser *model.User
	log        *zap.Logger
}

func newClient(id string, conn *websocket.Conn, srv *Server, addr string, cookieUser *model.User) *Client {
	if conn != nil {
		conn.SetReadLimit(srv.cfg.MaxFrameSize)
	}
	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		hub:          srv.hub,
		srv:          srv,
		addr:         addr,
		maxFrameSize: srv.cfg.MaxFrameSize,
		limiter:      newRateLimiter(srv.cfg.RateLimit),
		cookieUser:   cookieUser,
		log:          srv.log.With(zap.String("conn", id), zap.String("peer", addr)),
	}
}

// sendEvent encodes ev and queues it for this client only.
func (c *Client) sendEvent(ev chat.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	c.hub.Send(c.id, payload)
}

func (c *Client) sendError(kind string, err error) {
	c.sendEvent(chat.ErrorEvent(kind, err))
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("set read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// logReadError reports why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("frame exceeded maximum size", zap.Int64("limit", c.maxFrameSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket error", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.teardown()
		c.hub.leave(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()
	c.srv.opened(ctx, c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.limiter.Allow() {
			c.log.Debug("rate limit exceeded; discarding event")
			c.sendError(chat.EventError, errs.ErrRateLimited)
			continue
		}
		c.srv.dispatch(ctx, c, raw)
	}
}

// teardown releases the chat state of the connection: typing indicators,
// session and subscriptions.
func (c *Client) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	c.srv.chat.Disconnect(ctx, c.id)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection in writePump", zap.Error(err))
	}
}

// handleMessage writes one event frame; a closed buffer sends the close frame.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("set write deadline", zap.Error(err))
		return false
	}
	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("write close message", zap.Error(err))
		}
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("set write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("write ping", zap.Error(err))
		return false
	}
	return true
}
