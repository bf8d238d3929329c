// Package main our entry point.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/chatrelay/internal/broker"
	"github.com/johndosdos/chatrelay/internal/chat"
	"github.com/johndosdos/chatrelay/internal/config"
	"github.com/johndosdos/chatrelay/internal/handler"
	"github.com/johndosdos/chatrelay/internal/presence"
	"github.com/johndosdos/chatrelay/internal/provider"
	ratelimiter "github.com/johndosdos/chatrelay/internal/rate_limiter"
	"github.com/johndosdos/chatrelay/internal/store"
	ws "github.com/johndosdos/chatrelay/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting application...",
		"addr", cfg.Addr(),
		"gateway_configured", cfg.ExternalAPIURL != "")

	// State lives in memory only; restarts start from an empty history.
	messages := store.New(store.WithHistoryLimit(cfg.HistoryLimit))
	rooms := presence.NewRegistry()

	transport := ws.NewTransport(
		ws.WithLogger(logger),
		ws.WithLimits(ws.Limits{
			Messages: cfg.WSMessageLimit,
			Typing:   cfg.WSTypingLimit,
			Window:   cfg.WSLimitWindow,
		}))

	// hub.Run is our central hub that is always listening for client related events.
	hub := chat.NewHub(messages, rooms, transport,
		chat.WithLogger(logger),
		chat.WithRecentMessages(cfg.RecentMessages))

	dispatcher := broker.NewDispatcher(cfg.DispatchWorkers, cfg.DispatchBuffer, logger)

	gateway := provider.NewClient(provider.ClientConfig{
		BaseURL:     cfg.ExternalAPIURL,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.APITimeout,
		MaxAttempts: cfg.APIMaxAttempts,
		RetryDelay:  cfg.APIRetryDelay,
	}, logger)

	limiter := ratelimiter.NewIPRateLimiter(cfg.HTTPRateLimit, cfg.HTTPRateWindow,
		ratelimiter.WithLogger(logger))

	api := handler.New(messages, rooms, hub, transport, gateway, dispatcher, logger, handler.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.Origins(),
		StaticDir:      cfg.StaticDir,
		AckDelay:       cfg.AckDelay,
		AckText:        cfg.AckText,
		Limiter:        limiter,
	})

	g, gctx := errgroup.WithContext(ctx)

	// No read or write timeouts: they would also apply to hijacked websocket
	// connections.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Routes(gctx),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		return limiter.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received; shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped",
		"messages", messages.Len(),
		"jobs", dispatcher.Stats())
}
