package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the HTTP router: health, metrics, the WebSocket endpoint
// and the REST API.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(RecoverHTTP(s.log), LoggingHTTP(s.log))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.authed(s.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)

	api.HandleFunc("/rooms", s.authed(s.handleListRooms)).Methods(http.MethodGet)
	api.HandleFunc("/rooms", s.authed(s.handleCreateRoom)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}", s.authed(s.handleRoomDetail)).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}", s.authed(s.handleDeleteRoom)).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{id}/join", s.authed(s.handleJoinRoom)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/leave", s.authed(s.handleLeaveRoom)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/members", s.authed(s.handleAddMember)).Methods(http.MethodPost)

	api.HandleFunc("/messages", s.authed(s.handleMessages)).Methods(http.MethodGet)
	api.HandleFunc("/users/online", s.authed(s.handleOnlineUsers)).Methods(http.MethodGet)

	r.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	return r
}
