// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer. It decides:
// - which store and blob backend the configuration selects
// - which URL patterns map to which handler functions
// - what middleware runs on which routes
// - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → store (sqlite.DB | mongo.Store)      implements repository.UserRepository
//	  → uploader (FileSystem | S3)            implements blob.Uploader
//	  → CredentialStore → SessionManager, AccountService
//	  → UserHandler
//
// This is the "composition root": every dependency is built here and
// nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/blob"
	"github.com/sakif/account-service/internal/config"
	"github.com/sakif/account-service/internal/handler"
	"github.com/sakif/account-service/internal/middleware"
	"github.com/sakif/account-service/internal/repository"
	mongoRepo "github.com/sakif/account-service/internal/repository/mongo"
	sqliteRepo "github.com/sakif/account-service/internal/repository/sqlite"
	"github.com/sakif/account-service/internal/service"
)

// userStore is what the server needs from a backend: the repository plus a
// health probe.
type userStore interface {
	repository.UserRepository
	handler.Pinger
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store connection. Start closes it after the HTTP
// server has drained, so in-flight requests never hit a closed database.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  userStore
}

// New builds every dependency from cfg and registers the routes.
// cfg must already have passed Validate.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setupRoutes(ctx); err != nil {
		store.Close() // Clean up the store if wiring fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (userStore, error) {
	switch cfg.DB.Driver {
	case config.DBDriverMongo:
		store, err := mongoRepo.New(ctx, cfg.DB.MongoURI, cfg.DB.MongoDB, logger)
		if err != nil {
			return nil, fmt.Errorf("opening mongo store: %w", err)
		}
		return store, nil

	case config.DBDriverSQLite:
		if cfg.DB.Path != ":memory:" {
			// os.MkdirAll is `mkdir -p`: creates parents and is fine if the dir exists.
			if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(ctx, cfg.DB.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
}

func newUploader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Uploader, error) {
	switch cfg.Blob.Driver {
	case config.BlobDriverS3:
		return blob.NewS3Uploader(ctx, cfg.S3Blob(), logger)
	case config.BlobDriverFS:
		return blob.NewFileSystemUploader(cfg.FileSystemBlob(), logger)
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.Blob.Driver)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET  /healthz             → store ping
// GET  /media/*             → uploaded images (filesystem blob driver only)
// ...  /api/v1/users/*      → see handler.UserHandler.Routes
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns an ID the logger picks up
// 2. RealIP: client IP from proxy headers
// 3. Logger: one line per request
// 4. Recoverer: a panic becomes a 500 instead of killing the process
func (s *Server) setupRoutes(ctx context.Context) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	tokens, err := auth.NewTokenService(s.config.TokenConfig())
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	uploader, err := newUploader(ctx, s.config, s.logger)
	if err != nil {
		return fmt.Errorf("creating uploader: %w", err)
	}
	sameSite, err := s.config.SameSite()
	if err != nil {
		return err
	}

	// DEPENDENCY CHAIN:
	//   store → CredentialStore → SessionManager / AccountService → UserHandler
	// The handler never touches the store; the services never touch HTTP.
	credentials := service.NewCredentialStore(s.store, auth.NewPasswordService(), s.logger)
	sessions := service.NewSessionManager(credentials, tokens, s.logger)
	accounts := service.NewAccountService(credentials, uploader, s.logger)

	userHandler := handler.NewUserHandler(accounts, sessions, handler.UserConfig{
		Cookies: handler.CookieConfig{
			Secure:   s.config.Cookie.Secure,
			SameSite: sameSite,
			Domain:   s.config.Cookie.Domain,
		},
		AccessTTL:      tokens.AccessTTL(),
		RefreshTTL:     tokens.RefreshTTL(),
		MaxUploadBytes: s.config.MaxUploadBytes,
	}, s.logger)

	s.router.Get("/healthz", handler.HandleHealth(s.store))

	if fs, ok := uploader.(*blob.FileSystemUploader); ok {
		fileServer := http.FileServer(http.Dir(fs.BaseDir()))
		s.router.Handle("/media/*", http.StripPrefix("/media/", fileServer))
	}

	requireAuth := auth.RequireAuth(sessions, handler.WriteError)
	s.router.Mount("/api/v1/users", userHandler.Routes(requireAuth))

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the store (the deferred Close)
func (s *Server) Start() error {
	defer s.store.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second, // multipart uploads
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("db", s.config.DB.Driver),
			slog.String("blob", s.config.Blob.Driver),
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

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases the store without starting the server.
func (s *Server) Close() error {
	return s.store.Close()
}
