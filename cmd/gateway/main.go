package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/convoyhq/gateway/internal/config"
	"github.com/convoyhq/gateway/internal/logging"
	"github.com/convoyhq/gateway/internal/server"
	"github.com/convoyhq/gateway/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	configPath := os.Getenv("GATEWAY_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	redis := storage.NewRedis(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer redis.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	if err := redis.Ping(pingCtx); err != nil {
		// The gateway serves anyway; the limiter's fail mode takes over
		// until the store comes back.
		logger.Warn("counter store unreachable at startup", zap.Error(err))
	} else {
		logger.Info("connected to counter store", zap.String("addr", cfg.Redis.Addr()))
	}
	cancel()

	srv := server.New(cfg, redis, logger)

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("exited")
}
