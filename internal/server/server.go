// Package server wires the stores, the LinkedIn client, the services and
// the handlers together and runs the HTTP server.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → New():
//	  DATABASE_URL → mongodb.Store | sqlite.DB  (repository.ProfileRepository)
//	  REDIS_ADDR   → session.RedisStore | session.MemoryStore
//	  LinkedIn     → auth.LinkedInProvider (+ auth.IDTokenVerifier)
//	  all of the above → service.AuthService → handler.AuthHandler / ProfileHandler
//
// This is the composition root: nothing below this package constructs its
// own dependencies.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/linkedin-profile-viewer/internal/auth"
	"github.com/sakif/linkedin-profile-viewer/internal/config"
	"github.com/sakif/linkedin-profile-viewer/internal/handler"
	"github.com/sakif/linkedin-profile-viewer/internal/middleware"
	"github.com/sakif/linkedin-profile-viewer/internal/repository"
	"github.com/sakif/linkedin-profile-viewer/internal/repository/mongodb"
	sqliteRepo "github.com/sakif/linkedin-profile-viewer/internal/repository/sqlite"
	"github.com/sakif/linkedin-profile-viewer/internal/service"
	"github.com/sakif/linkedin-profile-viewer/internal/session"
)

const shutdownTimeout = 30 * time.Second

// Server is the HTTP server and every resource it owns.
//
// RESOURCE MANAGEMENT:
// The Server owns the profile store and the session store. Close releases
// them; Start calls Close after the listener has drained.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	closers []io.Closer
}

// store is a profile repository the server can health-check and close.
type store interface {
	repository.ProfileRepository
	handler.Pinger
	io.Closer
}

// New opens the stores selected by cfg and builds the router.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	profiles, err := openProfileStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening profile store: %w", err)
	}
	s.closers = append(s.closers, profiles)
	health := map[string]handler.Pinger{"profiles": profiles}

	var sessions session.Store
	if cfg.UsesRedis() {
		client, err := session.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		redisStore := session.NewRedisStore(client)
		s.closers = append(s.closers, redisStore)
		health["sessions"] = redisStore
		sessions = redisStore
	} else {
		logger.Warn("REDIS_ADDR not set, sessions are kept in memory and lost on restart")
		sessions = session.NewMemoryStore()
	}

	tokens, err := auth.NewTokenService(cfg.SessionSecret)
	if err != nil {
		s.Close()
		return nil, err
	}

	provider := auth.NewLinkedInProvider(cfg.Provider(), logger)

	// A typed nil would defeat the service's nil check.
	var verifier service.IDVerifier
	if cfg.LinkedIn.VerifyIDToken {
		verifier = auth.NewIDTokenVerifier(
			cfg.LinkedIn.Issuer,
			cfg.LinkedIn.JWKSURL,
			cfg.LinkedIn.ClientID,
			provider.HTTPClient(),
		)
	}

	authService := service.NewAuthService(provider, verifier, profiles, sessions, tokens, service.Options{
		SessionTTL:         cfg.SessionTTL,
		SingleTenant:       cfg.SingleTenant,
		SignOutViaProvider: cfg.SignOutViaProvider,
	}, logger)

	if err := s.setupRoutes(authService, tokens, sessions, health); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func openProfileStore(ctx context.Context, cfg config.Config) (store, error) {
	if cfg.UsesMongo() {
		return mongodb.New(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
	}

	if cfg.DatabaseURL != ":memory:" {
		// os.MkdirAll is like `mkdir -p`.
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	return sqliteRepo.New(cfg.DatabaseURL)
}

// setupRoutes configures middleware and routes.
//
// ROUTE STRUCTURE:
// GET  /          → landing page (HTML)
// GET  /signin    → authorization URL + state cookie
// POST /signin    → mark the session's profile signed in
// GET  /callback  → LinkedIn redirect target
// GET  /signout   → revoke the session
// GET  /profile   → the caller's profile
// GET  /healthz   → store reachability
//
// MIDDLEWARE ORDER MATTERS: the request id must exist before the logger
// runs, and LoadSession only annotates the context, it never rejects.
func (s *Server) setupRoutes(
	authService *service.AuthService,
	tokens *auth.TokenService,
	sessions session.Store,
	health map[string]handler.Pinger,
) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	homeHandler, err := handler.NewHomeHandler(s.logger)
	if err != nil {
		return fmt.Errorf("creating home handler: %w", err)
	}
	healthHandler := handler.NewHealthHandler(health, s.logger)

	cookies := auth.CookieOptions{Secure: s.config.CookieSecure}
	authHandler := handler.NewAuthHandler(authService, cookies, s.logger)
	profileHandler := handler.NewProfileHandler(authService, s.logger)

	s.router.Get("/", homeHandler.HandleHome)
	s.router.Get("/healthz", healthHandler.HandleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.LoadSession(tokens, sessions, s.logger))

		r.Get("/signin", authHandler.HandleSignInURL)
		r.Post("/signin", authHandler.HandleMarkSignedIn)
		r.Get("/callback", authHandler.HandleCallback)
		r.Get("/signout", authHandler.HandleSignOut)
		r.Get("/profile", profileHandler.HandleProfile)
	})

	return nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases every store the server opened.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes the stores.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing stores failed", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("url", s.config.BaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
