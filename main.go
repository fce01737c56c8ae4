package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"collabsync-backend/infrastructure/config"
	"collabsync-backend/infrastructure/replication"
	ws "collabsync-backend/interfaces/websocket"
	"collabsync-backend/internal/observability"
	"collabsync-backend/internal/presence"
	"collabsync-backend/internal/relay"
	"collabsync-backend/pkg/auth"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewCollector("collabsync")
	store := presence.NewStore(logger)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer)

	var persister relay.Persister = relay.NopPersister{}
	if cfg.PersistenceEnabled() {
		persister = relay.NewHTTPPersister(cfg.PersistEndpoint, logger)
	} else {
		logger.Warn("No persistence endpoint configured, mutation history will not be stored")
	}
	mutations := relay.NewRelay(persister, logger, metrics.PersistFailures.Inc)

	var bridge replication.Bridge = replication.NopBridge{}
	if cfg.ReplicationEnabled() {
		bridge = replication.NewRedisBridge(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	} else {
		logger.Info("No broker address configured, running with single-instance visibility")
	}
	defer bridge.Close()

	hub := ws.NewHub(store, mutations, bridge, metrics, logger)
	if err := bridge.Subscribe(ctx, hub.ApplyRemote); err != nil {
		logger.Warn("Failed to subscribe to replication broker", zap.Error(err))
	}

	serverCfg := ws.DefaultServerConfig()
	serverCfg.AllowedOrigins = cfg.AllowedOrigins
	server := ws.NewServer(hub, jwtService, serverCfg, metrics.Handler(), logger)

	logger.Info("Presence coordinator starting",
		zap.String("address", cfg.ServerAddress),
		zap.String("environment", cfg.Environment),
		zap.Bool("replication", cfg.ReplicationEnabled()),
		zap.Bool("persistence", cfg.PersistenceEnabled()),
	)

	if err := server.StartWithContext(ctx, cfg.ServerAddress, cfg.AllowedOrigins); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zapCfg.Build()
}
