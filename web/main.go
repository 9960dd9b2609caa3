package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devilmonastery/authgate/internal/identity"
	"github.com/devilmonastery/authgate/internal/pkg/logger"
	"github.com/devilmonastery/authgate/internal/session"
	"github.com/devilmonastery/authgate/internal/storage"
	"github.com/devilmonastery/authgate/web/internal/config"
	"github.com/devilmonastery/authgate/web/internal/flash"
	"github.com/devilmonastery/authgate/web/internal/handlers"
	"github.com/devilmonastery/authgate/web/internal/middleware"
	"github.com/devilmonastery/authgate/web/internal/render"
)

// setupWebLogging configures the global logger for the web service
func setupWebLogging(logLevel, logFormat string) error {
	cfg := logger.Config{
		Level:       logger.ParseLevel(logLevel),
		LogToStderr: true, // Web service always logs to stderr
		Format:      logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging (must be done before any logging calls)
	if err = setupWebLogging(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	log := slog.Default().With("component", "web")

	if err := run(cfg, log); err != nil {
		log.Error("web service stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.WebServerConfig, log *slog.Logger) error {
	log.Info("starting authgate web service")

	templates, err := render.LoadTemplates(cfg.Templates.Path)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	render.LogTemplateNames(templates, log)

	flashSecret, err := sessionSecret(cfg, log)
	if err != nil {
		return err
	}

	kv, closeKV, err := storage.Open(cfg.Storage, cfg.Session.Context)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeKV()

	storeOpts := []session.Option{session.WithLogger(slog.Default())}
	if cfg.Session.MinLifetime != "" {
		storeOpts = append(storeOpts, session.WithMinLifetime(cfg.MinLifetime()))
	}
	store := session.NewStore(kv, storeOpts...)
	defer store.Close()

	store.OnChange(func(state session.State) {
		log.Info("session state changed", slog.String("state", state.String()))
	})
	store.Restore(context.Background())

	client, err := identity.New(cfg.IdentityConfig(), identity.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("failed to create identity client: %w", err)
	}

	h := handlers.New(store, client, flash.NewManager(flashSecret), templates, log)
	authMw := middleware.NewAuthMiddleware(store, log)
	router := h.Router(authMw, promhttp.Handler(), log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// sessionSecret picks the flash cookie key - priority: env var > config file > random
func sessionSecret(cfg *config.WebServerConfig, log *slog.Logger) ([]byte, error) {
	if envSecret := os.Getenv("SESSION_SECRET"); envSecret != "" {
		secret, err := base64.StdEncoding.DecodeString(envSecret)
		if err == nil {
			log.Info("using session secret", slog.String("source", "environment variable"))
			return secret, nil
		}
		log.Warn("failed to decode SESSION_SECRET env var, trying config", slog.Any("error", err))
	}

	if cfg.Session.Secret != "" {
		secret, err := base64.StdEncoding.DecodeString(cfg.Session.Secret)
		if err == nil {
			log.Info("using session secret", slog.String("source", "config file"))
			return secret, nil
		}
		log.Warn("failed to decode session secret from config", slog.Any("error", err))
	}

	// Flash cookies only have to survive one redirect
	log.Debug("no session secret configured, generating random one")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return secret, nil
}
