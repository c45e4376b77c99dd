package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/huyvnnb/tanin/internal/adapter/driven/gateway/ws"
	limit "github.com/huyvnnb/tanin/internal/adapter/driven/limit/redis"
	match "github.com/huyvnnb/tanin/internal/adapter/driven/match/redis"
	"github.com/huyvnnb/tanin/internal/adapter/handler"
	"github.com/huyvnnb/tanin/internal/config"
	"github.com/huyvnnb/tanin/internal/core/service"
	"github.com/huyvnnb/tanin/internal/identity"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()

	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to load config")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		l.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to reach redis")
	}

	matcher := match.NewMatcher(rdb)
	hub := ws.NewHub(rdb)
	limiter := limit.NewTokenBucket(rdb, cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	resolver := identity.NewResolver(cfg.JWTSecret)

	sessionService := service.NewSessionService(matcher, hub)
	h := handler.NewHandler(sessionService, limiter, resolver)

	// The fan-out listener must be up before any connection is accepted.
	listenCtx, stopListener := context.WithCancel(context.Background())
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := hub.Listen(listenCtx); err != nil {
			l.Fatal().Err(err).Msg("Fan-out listener failed")
		}
	}()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.ListenAddr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Cancel and await the listener; a message already received is fully
	// processed before it exits.
	stopListener()
	<-listenerDone

	if err := rdb.Close(); err != nil {
		l.Error().Err(err).Msg("Error closing redis client")
	}
	l.Info().Msg("Server exited")
}
