package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGlobalMessageReachesEveryone verifies that a message posted to the
// global room is delivered to all identified connections, sender included.
func TestGlobalMessageReachesEveryone(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	send(t, alice, "send_message", map[string]any{"content": "hello everyone"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var msg chat.MessageView
		require.NoError(t, json.Unmarshal(readEvent(t, conn, chat.EventNewMessage), &msg))
		assert.Equal(t, "hello everyone", msg.Content)
		assert.Equal(t, "alice", msg.Author.Username)
		assert.Equal(t, "text", msg.Type)
		assert.Empty(t, msg.RoomID)
	}
}

// TestUserJoinAnnouncesPresence verifies the status broadcast and the
// ephemeral join notice.
func TestUserJoinAnnouncesPresence(t *testing.T) {
	env := newTestEnv(t, nil)
	watcher := env.login(t, "watcher")

	env.login(t, "newcomer")

	var status chat.StatusPayload
	require.NoError(t, json.Unmarshal(readEvent(t, watcher, chat.EventUserStatus), &status))
	assert.Equal(t, "newcomer", status.Username)
	assert.True(t, status.Online)

	var notice struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, watcher, chat.EventSystemMessage), &notice))
	assert.Equal(t, "newcomer joined the chat", notice.Content)
}

// TestSendMessageRequiresIdentity verifies that an anonymous connection
// cannot post.
func TestSendMessageRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, nil)

	send(t, conn, "send_message", map[string]any{"content": "hi"})

	p := readError(t, conn, chat.EventMessageError)
	assert.Equal(t, "unauthenticated", p.Reason)
}

// TestRejectedContentReportsMessageError verifies validation failures.
func TestRejectedContentReportsMessageError(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.RateLimit = config.RateLimit{Burst: 50, RefillInterval: time.Second} })
	conn := env.login(t, "carol")

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"empty", map[string]any{"content": "   "}},
		{"script", map[string]any{"content": "<script>alert(1)</script>"}},
		{"too long", map[string]any{"content": strings.Repeat("x", 2001)}},
		{"system type", map[string]any{"content": "hi", "messageType": "system"}},
		{"image without file", map[string]any{"content": "", "messageType": "image"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, "send_message", tt.payload)
			p := readError(t, conn, chat.EventMessageError)
			assert.Equal(t, "invalid_content", p.Reason)
		})
	}
}

// TestMalformedFrames verifies that undecodable or unknown events produce
// an error event without closing the connection.
func TestMalformedFrames(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "invalid_input", readError(t, conn, chat.EventError).Reason)

	send(t, conn, "launch_rockets", nil)
	assert.Equal(t, "invalid_input", readError(t, conn, chat.EventError).Reason)

	send(t, conn, "join_room", map[string]any{"roomId": "not-a-uuid"})
	assert.Equal(t, "invalid_input", readError(t, conn, chat.EventError).Reason)

	send(t, conn, "heartbeat", nil)
	assert.Equal(t, "unauthenticated", readError(t, conn, chat.EventError).Reason)
}

// TestEventRateLimit verifies that events beyond the burst are refused.
func TestEventRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit = config.RateLimit{Burst: 1, RefillInterval: time.Hour}
	})
	conn := env.dial(t, nil)

	send(t, conn, "launch_rockets", nil)
	assert.Equal(t, "invalid_input", readError(t, conn, chat.EventError).Reason)

	send(t, conn, "launch_rockets", nil)
	assert.Equal(t, "rate_limited", readError(t, conn, chat.EventError).Reason)
}

// TestOversizedFrameClosesConnection verifies the frame size limit.
func TestOversizedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxFrameSize = 512 })
	conn := env.dial(t, nil)

	big := `{"type":"send_message","data":{"content":"` + strings.Repeat("a", 1024) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return env.hub.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

// TestOriginPolicyOnUpgrade verifies that disallowed origins are refused.
func TestOriginPolicyOnUpgrade(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, origin := range []string{"", "http://evil.example", "not-a-url"} {
		t.Run("origin="+origin, func(t *testing.T) {
			header := http.Header{}
			if origin != "" {
				header.Set("Origin", origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL, header)
			if conn != nil {
				_ = conn.Close()
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

// TestWebSocketEndpointRejectsPost verifies the method check.
func TestWebSocketEndpointRejectsPost(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Post(env.ts.URL+"/ws", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestSessionCookieIdentifiesConnection verifies that a connection opened
// with a session cookie can post without user_join.
func TestSessionCookieIdentifiesConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.apiClient(t)
	status, body := env.call(t, client, http.MethodPost, "/api/auth/join", map[string]any{
		"username": "dave", "codeword": "hunter22",
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, body.success(t))

	var token string
	for _, c := range client.Jar.Cookies(mustParseURL(t, env.ts.URL)) {
		if c.Name == SessionCookie {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)

	header := http.Header{}
	header.Set("Cookie", SessionCookie+"="+token)
	conn := env.dial(t, header)

	send(t, conn, "send_message", map[string]any{"content": "via cookie"})
	var msg chat.MessageView
	require.NoError(t, json.Unmarshal(readEvent(t, conn, chat.EventNewMessage), &msg))
	assert.Equal(t, "dave", msg.Author.Username)
}

// TestRoomLifecycleOverWebSocket covers joining a room, room-scoped
// delivery, history and eviction when the room is deleted.
func TestRoomLifecycleOverWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.apiClient(t)
	_, body := env.call(t, client, http.MethodPost, "/api/auth/join", map[string]any{
		"username": "erin", "codeword": "swordfish",
	})
	require.True(t, body.success(t))
	var owner chat.UserView
	body.decode(t, "user", &owner)

	status, body := env.call(t, client, http.MethodPost, "/api/rooms", map[string]any{"name": "general talk"})
	require.Equal(t, http.StatusCreated, status)
	var room chat.RoomView
	body.decode(t, "room", &room)

	member := env.dial(t, nil)
	send(t, member, "user_join", map[string]any{"userUuid": owner.UUID, "codeword": "swordfish"})
	readEvent(t, member, chat.EventJoinSuccess)
	outsider := env.login(t, "frank")

	send(t, member, "join_room", map[string]any{"roomId": room.ID})
	var joined struct {
		Room chat.RoomView `json:"room"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, member, chat.EventRoomJoined), &joined))
	assert.Equal(t, "general talk", joined.Room.Name)

	send(t, member, "send_message", map[string]any{"roomId": room.ID, "content": "room only"})
	var msg chat.MessageView
	require.NoError(t, json.Unmarshal(readEvent(t, member, chat.EventNewMessage), &msg))
	assert.Equal(t, room.ID, msg.RoomID)

	send(t, member, "get_message_history", map[string]any{"roomId": room.ID, "limit": 10})
	var page chat.HistoryPayload
	require.NoError(t, json.Unmarshal(readEvent(t, member, chat.EventMessageHistory), &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "system", page.Messages[0].Type)
	assert.Equal(t, "room only", page.Messages[1].Content)
	assert.False(t, page.HasMore)

	status, _ = env.call(t, client, http.MethodDelete, "/api/rooms/"+room.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var deleted chat.RoomView
	require.NoError(t, json.Unmarshal(readEvent(t, member, chat.EventRoomDeleted), &deleted))
	assert.Equal(t, room.ID, deleted.ID)

	send(t, member, "send_message", map[string]any{"roomId": room.ID, "content": "too late"})
	assert.Equal(t, "room_not_found", readError(t, member, chat.EventMessageError).Reason)

	// the outsider never saw room traffic; its next global event is the marker
	send(t, member, "send_message", map[string]any{"content": "marker"})
	for {
		var ev chat.MessageView
		require.NoError(t, json.Unmarshal(readEvent(t, outsider, chat.EventNewMessage), &ev))
		require.Empty(t, ev.RoomID)
		if ev.Content == "marker" {
			break
		}
	}
}

// TestTypingRelay verifies that typing indicators reach others but not
// the typist.
func TestTypingRelay(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	send(t, alice, "typing", map[string]any{})
	var p chat.TypingPayload
	require.NoError(t, json.Unmarshal(readEvent(t, bob, chat.EventUserTyping), &p))
	assert.Equal(t, "alice", p.Username)
	assert.True(t, p.IsTyping)

	send(t, alice, "typing_stop", map[string]any{})
	require.NoError(t, json.Unmarshal(readEvent(t, bob, chat.EventUserTyping), &p))
	assert.False(t, p.IsTyping)
}

// TestDisconnectMarksOffline verifies that closing the last connection of a
// user broadcasts the offline status and the new user count.
func TestDisconnectMarksOffline(t *testing.T) {
	env := newTestEnv(t, nil)
	watcher := env.login(t, "watcher")
	leaver := env.login(t, "leaver")

	require.NoError(t, leaver.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	for {
		var status chat.StatusPayload
		require.NoError(t, json.Unmarshal(readEvent(t, watcher, chat.EventUserStatus), &status))
		if status.Username == "leaver" && !status.Online {
			break
		}
	}
	var count struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, watcher, chat.EventUserCount), &count))
	assert.Equal(t, 1, count.Count)
}
