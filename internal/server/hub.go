package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"go.uber.org/zap"
)

// Hub owns the set of open WebSocket clients keyed by connection id and
// implements chat.Transport on top of their send buffers.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// NewHub creates a hub. Run must be started before clients register.
func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
		metrics:    m,
	}
}

// Run starts the hub's event loop: registration starts the client pumps,
// unregistration closes the client's send buffer.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.metrics.SetConnections(clientCount)
			h.log.Info("client registered",
				zap.String("conn", client.id),
				zap.String("peer", client.addr),
				zap.Int("clients", clientCount))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			if h.remove(client) {
				h.log.Info("client unregistered",
					zap.String("conn", client.id),
					zap.String("peer", client.addr),
					zap.Int("clients", h.Count()))
			}
		}
	}
}

// remove drops client and closes its send buffer once.
func (h *Hub) remove(client *Client) bool {
	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.metrics.SetConnections(clientCount)
	return true
}

// leave hands client to the event loop for unregistration. After shutdown
// has begun the loop is gone and nothing needs to be done.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// join hands client to the event loop.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// safeSend queues message without blocking. It reports false when the
// client is gone or its buffer is full.
func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered from panic in safeSend", zap.Any("reason", r))
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if current, exists := h.clients[client.id]; !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

func (h *Hub) lookup(connID string) (*Client, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// Send queues payload for connID. A client whose buffer is full is
// disconnected rather than left with a gap in its event stream.
func (h *Hub) Send(connID string, payload []byte) bool {
	client, ok := h.lookup(connID)
	if !ok {
		return false
	}
	if h.safeSend(client, payload) {
		return true
	}
	h.metrics.Drop()
	h.evict(client)
	return false
}

// SendAll queues payload for every client except the one with id except.
func (h *Hub) SendAll(payload []byte, except string) int {
	clients := h.getClientSnapshot()
	sent := 0
	var failed []*Client
	for _, client := range clients {
		if client.id == except {
			continue
		}
		if h.safeSend(client, payload) {
			sent++
			continue
		}
		h.metrics.Drop()
		failed = append(failed, client)
	}
	for _, client := range failed {
		h.evict(client)
	}
	return sent
}

func (h *Hub) evict(client *Client) {
	if h.remove(client) {
		h.log.Warn("client removed due to full send buffer",
			zap.String("conn", client.id),
			zap.String("peer", client.addr))
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// shutdownClients closes every client's buffer and connection; the pumps
// then exit.
func (h *Hub) shutdownClients() {
	clients := h.getClientSnapshot()
	for _, client := range clients {
		h.remove(client)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing client connection", zap.String("peer", client.addr), zap.Error(err))
			}
		}
	}
	h.log.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the hub and waits for all client goroutines, or until
// timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
