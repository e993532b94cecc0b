package server

import (
	"encoding/json"
	"strings"
)

// EventKind is the closed set of inbound WebSocket events.
type EventKind string

// Inbound event kinds.
const (
	KindUserJoin    EventKind = "user_join"
	KindJoinRoom    EventKind = "join_room"
	KindLeaveRoom   EventKind = "leave_room"
	KindSendMessage EventKind = "send_message"
	KindGetHistory  EventKind = "get_message_history"
	KindTyping      EventKind = "typing"
	KindTypingStop  EventKind = "typing_stop"
	KindHeartbeat   EventKind = "heartbeat"
)

// inbound is the client envelope: {"type": "...", "data": {...}}.
type inbound struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type userJoinPayload struct {
	UserUUID string `json:"userUuid"`
	Username string `json:"username"`
	Codeword string `json:"codeword"`
}

// roomRef accepts either spelling of the optional room reference.
type roomRef struct {
	RoomID    string `json:"roomId"`
	GroupUUID string `json:"groupUuid"`
}

func (r roomRef) ref() string {
	if r.RoomID != "" {
		return r.RoomID
	}
	return r.GroupUUID
}

type sendMessagePayload struct {
	roomRef
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
	IsEncrypted bool   `json:"isEncrypted"`
	KeyRef      string `json:"keyRef"`
}

type historyRequest struct {
	roomRef
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
