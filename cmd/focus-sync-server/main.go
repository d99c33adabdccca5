package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/config"
	"github.com/alexjbarnes/focus-sync/internal/docstore"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/alexjbarnes/focus-sync/internal/logging"
	"github.com/alexjbarnes/focus-sync/internal/realtime"
	"github.com/alexjbarnes/focus-sync/internal/server"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("focus-sync-server starting",
		slog.String("version", Version),
		slog.String("backend", cfg.StoreBackend),
		slog.Bool("redis_fanout", cfg.RedisURL != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, docstore.Options{
		Backend:     docstore.Backend(cfg.StoreBackend),
		Path:        cfg.StorePath,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
	})
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer store.Close()

	tokens, err := identity.NewTokenIssuer(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	resolver := identity.NewResolver(tokens, identity.NewGoogleResolver(nil, cfg.GoogleUserinfoURL), logger)

	hub := realtime.NewHub()

	g, gctx := errgroup.WithContext(ctx)

	var publisher realtime.Publisher = hub

	if cfg.RedisURL != "" {
		rdb, err := docstore.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting realtime fanout: %w", err)
		}
		defer rdb.Close()

		fanout := realtime.NewRedisFanout(rdb, hub, logger)
		publisher = fanout

		g.Go(func() error {
			if err := fanout.Run(gctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("realtime fanout: %w", err)
			}

			return nil
		})
	}

	mux := server.NewMux(server.MuxConfig{
		Store:            store,
		Resolver:         resolver,
		Hub:              hub,
		Publisher:        publisher,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}

		return nil
	})

	// Shutdown when context is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
