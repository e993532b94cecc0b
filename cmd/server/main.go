// Command roomchat starts the chat server: WebSocket endpoint, REST API and
// Prometheus metrics.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	pkgcrypto "github.com/Tyrowin/roomchat/internal/crypto"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/migrate"
	"github.com/Tyrowin/roomchat/internal/repository"
	"github.com/Tyrowin/roomchat/internal/repository/memory"
	"github.com/Tyrowin/roomchat/internal/repository/postgres"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults to $CHAT_CONFIG_FILE)")
	port := flag.String("port", "", "listen port, overrides the configuration")
	dev := flag.Bool("dev", false, "human-readable development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// the logger depends on the configuration
		panic(err)
	}
	if *port != "" {
		cfg.Port = *port
		cfg = cfg.Sanitize()
	}

	logger, err := newLogger(cfg.LogLevel, *dev)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Port),
	)

	if cfg.SessionSecret == "" {
		secret, err := pkgcrypto.RandBytes(32)
		if err != nil {
			logger.Fatal("generate session secret", zap.Error(err))
		}
		cfg.SessionSecret = hex.EncodeToString(secret)
		logger.Warn("SESSION_SECRET not set; using a random secret, sessions will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := server.NewHub(logger.Named("hub"), m)
	go hub.Run()

	core := chat.NewService(store, hub, chat.Options{
		MaxContentLength:    cfg.MaxMessageLength,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		TypingTimeout:       cfg.TypingTimeout,
	}, logger.Named("chat"), m)
	if err := core.ResetPresence(ctx); err != nil {
		logger.Fatal("reset presence", zap.Error(err))
	}
	identity := service.NewIdentityService(store.Users, []byte(cfg.SessionSecret), cfg.SessionTTL)

	app := server.New(server.Deps{
		Config:   cfg,
		Hub:      hub,
		Chat:     core,
		Identity: identity,
		Gatherer: reg,
		Log:      logger.Named("http"),
	})
	httpServer := server.CreateServer(cfg.Port, app.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			closeStore()
			os.Exit(1)
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("hub shutdown incomplete", zap.Error(err))
	}
	logger.Info("stopped")
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if dev {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

// openStore connects to PostgreSQL when a DSN is configured, running the
// migrations first, and falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.Store, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using the in-memory store")
		return memory.New().Store(), func() {}
	}

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	return postgres.NewStore(db), db.Close
}
