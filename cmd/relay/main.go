package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/secaudit/findings-relay/config"
	"github.com/secaudit/findings-relay/src/auth"
	"github.com/secaudit/findings-relay/src/bridge"
	"github.com/secaudit/findings-relay/src/hub"
	"github.com/secaudit/findings-relay/src/server"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.FromEnv()
	busCfg := bridge.RedisConfigFromEnv()

	verifier := auth.NewVerifier(cfg.PublicKeyPath, logger)
	if err := verifier.EnsureKey(); err != nil {
		logger.Fatal().Err(err).Msg("failed to read verification key")
	}

	h := hub.New(verifier, logger)
	go h.Run()

	sub := bridge.NewRedisSubscriber(busCfg, h, logger)
	if err := sub.Start(); err != nil {
		// Bus loss is non-fatal: connected clients stay, broadcasting
		// resumes once the subscription comes back.
		logger.Error().Err(err).Str("addr", busCfg.Addr()).Msg("event bus unavailable, retrying in background")
		sub.StartWithRetry()
	} else {
		logger.Info().Str("addr", busCfg.Addr()).Str("channel", busCfg.Channel).Msg("event bus connected")
	}

	srv := server.New(cfg, h, sub, logger)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		logger.Fatal().Err(err).Int("port", cfg.Port).Msg("failed to bind port")
	}

	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Error().Err(err).Msg("server stopped")
		}
	}()
	logger.Info().Int("port", cfg.Port).Msg("relay listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if err := sub.Stop(); err != nil {
		logger.Error().Err(err).Msg("bus stop error")
	}
	h.Stop()
}
