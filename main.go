package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"tasklist-api/api"
	"tasklist-api/config"
	"tasklist-api/storage"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.JSONLogs {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Debug: cfg.Debug}); err != nil {
			logger.Fatalf("sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	store, err := storage.Open(startCtx, cfg.Store)
	cancel()
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	logger.Infof("store backend: %s", cfg.Store.Backend)

	var auth api.Authenticator
	if cfg.Store.Persistent() {
		a, stop, err := newAuth(cfg.Auth, logger)
		if err != nil {
			logger.Fatalf("auth: %v", err)
		}
		defer stop()
		auth = a
	}

	var events *api.EventSender
	if cfg.Events.Enabled() {
		startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		publisher, err := storage.NewQueuePublisher(startCtx, cfg.Events.ConnectionString, cfg.Events.Queue)
		cancel()
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		events = api.NewEventSender(publisher, logger, cfg.Events.Workers, cfg.Events.Buffer, cfg.Events.Timeout)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(echoprometheus.NewMiddleware("tasklist"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, store, auth, events, logger, api.Options{
		Persistent:   cfg.Store.Persistent(),
		ScopeByOwner: cfg.ScopeByOwner,
	})

	e.Server.ReadHeaderTimeout = 10 * time.Second

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if events != nil {
		events.Close()
	}
	if err := store.Close(ctx); err != nil {
		logger.WithError(err).Error("store close")
	}
}

// newAuth builds the token verifier. The returned stop function releases
// the background JWKS refresh, if any.
func newAuth(cfg config.AuthConfig, logger *log.Logger) (*api.Auth, func(), error) {
	if cfg.Local() {
		logger.Warn("verifying tokens with a local shared secret")
		return api.NewLocalAuth([]byte(cfg.SharedSecret), cfg.Audience, cfg.Issuer()), func() {}, nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval:   cfg.JWKSCacheTTL,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return api.NewAuth(jwks, cfg.Audience, cfg.Issuer(), cfg.JWKSCacheTTL), jwks.EndBackground, nil
}
