// Package server implements the HTTP and WebSocket surface of roomchat.
//
// The Hub tracks open connections and is the transport the chat core fans
// events out through. Each Client runs a read pump, which decodes inbound
// events and dispatches them to the chat core, and a write pump, which drains
// the client's send buffer. The REST API under /api shares the same core and
// authenticates with the session cookie issued by /api/auth/join.
package server
