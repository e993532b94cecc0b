package server

import (
	"context"
	"net/http"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/service"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Config   config.Config
	Hub      *Hub
	Chat     *chat.Service
	Identity service.IdentityService
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

// Server serves the WebSocket endpoint and the REST API.
type Server struct {
	cfg         config.Config
	hub         *Hub
	chat        *chat.Service
	identity    service.IdentityService
	gatherer    prometheus.Gatherer
	log         *zap.Logger
	origins     *originPolicy
	joinLimiter *limiterPool
	upgrader    websocket.Upgrader
}

// New assembles a Server. The hub must be the transport d.Chat was built with.
func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := d.Config.Sanitize()
	s := &Server{
		cfg:         cfg,
		hub:         d.Hub,
		chat:        d.Chat,
		identity:    d.Identity,
		gatherer:    d.Gatherer,
		log:         log,
		origins:     newOriginPolicy(cfg.AllowedOrigins, log),
		joinLimiter: newLimiterPool(cfg.JoinRateLimit),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits.
func StartServer(srv *http.Server, log *zap.Logger) error {
	log.Info("server listening", zap.String("addr", srv.Addr))
	return srv.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting
// active requests, waiting at most timeout.
func ShutdownServer(srv *http.Server, timeout time.Duration, log *zap.Logger) error {
	log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	log.Info("HTTP server shutdown completed")
	return nil
}
