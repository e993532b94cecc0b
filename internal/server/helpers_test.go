package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/repository/memory"
	"github.com/Tyrowin/roomchat/internal/service"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	ts       *httptest.Server
	wsURL    string
	hub      *Hub
	chat     *chat.Service
	identity *service.IdentityServiceImpl
	registry *prometheus.Registry
}

// newTestEnv starts a complete server over the in-memory store. mutate may
// adjust the configuration before the server is built.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.AllowedOrigins = []string{testOrigin}
	if mutate != nil {
		mutate(&cfg)
	}
	cfg = cfg.Sanitize()

	log := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := memory.New().Store()

	hub := NewHub(log, m)
	go hub.Run()

	core := chat.NewService(store, hub, chat.Options{
		MaxContentLength:    cfg.MaxMessageLength,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		TypingTimeout:       cfg.TypingTimeout,
	}, log, m)
	identity := service.NewIdentityService(store.Users, []byte("test-secret"), cfg.SessionTTL)

	srv := New(Deps{Config: cfg, Hub: hub, Chat: core, Identity: identity, Gatherer: reg, Log: log})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	return &testEnv{
		ts:       ts,
		wsURL:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		hub:      hub,
		chat:     core,
		identity: identity,
		registry: reg,
	}
}

// dial opens a WebSocket with the allowed origin and consumes the greeting.
func (e *testEnv) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Origin") == "" {
		header.Set("Origin", testOrigin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	readEvent(t, conn, chat.EventConnected)
	return conn
}

// login dials and identifies as a new user named username.
func (e *testEnv) login(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t, nil)
	send(t, conn, "user_join", map[string]any{"username": username, "codeword": "open sesame"})
	readEvent(t, conn, chat.EventJoinSuccess)
	return conn
}

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, kind string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": kind, "data": data}))
}

// readEvent reads frames until one of type typ arrives.
func readEvent(t *testing.T, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev wsEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", typ)
		if ev.Type == typ {
			return ev.Data
		}
	}
}

func readError(t *testing.T, conn *websocket.Conn, typ string) chat.ErrorPayload {
	t.Helper()
	var p chat.ErrorPayload
	require.NoError(t, json.Unmarshal(readEvent(t, conn, typ), &p))
	return p
}

// apiClient is an HTTP client that keeps the session cookie.
func (e *testEnv) apiClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

type envelope map[string]json.RawMessage

func (e *testEnv) call(t *testing.T, c *http.Client, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out := envelope{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (env envelope) success(t *testing.T) bool {
	t.Helper()
	var ok bool
	require.NoError(t, json.Unmarshal(env["success"], &ok))
	return ok
}

func (env envelope) str(t *testing.T, key string) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(env[key], &s))
	return s
}

func (env envelope) decode(t *testing.T, key string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env[key], v))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
