package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestCreateServer verifies the address, handler and timeouts.
func TestCreateServer(t *testing.T) {
	handler := http.NewServeMux()
	srv := CreateServer(":8080", handler)

	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, http.Handler(handler), srv.Handler)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}

// TestShutdownServerWithoutListener verifies that shutting down an idle
// server succeeds.
func TestShutdownServerWithoutListener(t *testing.T) {
	srv := CreateServer(":0", http.NewServeMux())
	require.NoError(t, ShutdownServer(srv, time.Second, zap.NewNop()))
}

// TestGracefulShutdownWithClients verifies that hub shutdown disconnects
// every client and releases their chat sessions.
func TestGracefulShutdownWithClients(t *testing.T) {
	env := newTestEnv(t, nil)

	clients := []*websocket.Conn{
		env.login(t, "one"),
		env.login(t, "two"),
		env.login(t, "three"),
	}
	require.Equal(t, 3, env.chat.Registry.UserCount())

	require.NoError(t, env.hub.Shutdown(3*time.Second))

	for _, conn := range clients {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				assert.False(t, isTimeout(err), "client was not disconnected")
				break
			}
		}
	}
	assert.Equal(t, 0, env.hub.Count())
	assert.Equal(t, 0, env.chat.Registry.UserCount())
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
