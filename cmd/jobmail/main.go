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

	"github.com/joho/godotenv"

	"github.io/infrasutra/jobmail/internal/api"
	"github.io/infrasutra/jobmail/internal/backend"
	"github.io/infrasutra/jobmail/internal/config"
	"github.io/infrasutra/jobmail/internal/dispatch"
	"github.io/infrasutra/jobmail/internal/gmail"
	"github.io/infrasutra/jobmail/internal/identity"
	"github.io/infrasutra/jobmail/internal/notify"
	"github.io/infrasutra/jobmail/internal/relay"
	"github.io/infrasutra/jobmail/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	if cfg.OAuthClientID == "" {
		logger.Warn("OAUTH_CLIENT_ID not set; interactive sign-in will fail")
	}

	identityManager := identity.NewManager(db, logger, identity.Options{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		FreshnessTTL: cfg.TokenFreshnessTTL,
	})

	dispatcher := dispatch.NewService(gmail.NewGoogleClient, logger)
	backendClient := backend.NewClient(cfg.BackendURL, logger)
	hub := notify.NewHub()

	relayRouter := relay.New(db, identityManager, dispatcher, backendClient, hub, logger)
	apiServer := api.NewServer(relayRouter, hub, logger)

	httpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: apiServer,
	}

	go func() {
		logger.Info("relay listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
}
