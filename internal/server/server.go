package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mytube/apiserver/config"
	"github.com/mytube/apiserver/internal/auth"
	"github.com/mytube/apiserver/internal/db"
	"github.com/mytube/apiserver/internal/handlers"
	"github.com/mytube/apiserver/internal/identity"
	"github.com/mytube/apiserver/internal/mq"
	"github.com/mytube/apiserver/internal/services"
	"github.com/mytube/apiserver/internal/storage"
	"github.com/mytube/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	closers    []func() error
}

// New wires the repository, media store, identity verifier and event
// publisher selected by cfg and registers the API routes.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{logger: logger}

	users, err := s.openUsers(ctx, cfg)
	if err != nil {
		return nil, s.fail(err)
	}

	media, mediaReader, err := s.openMedia(ctx, cfg)
	if err != nil {
		return nil, s.fail(err)
	}

	var verifier services.IdentityVerifier
	if cfg.Google.ClientID != "" {
		v, err := identity.NewGoogleVerifier(ctx, cfg.Google)
		if err != nil {
			return nil, s.fail(err)
		}
		verifier = v
	} else {
		logger.Warn("GOOGLE_CLIENT_ID is not set, identity sign-in is disabled")
	}

	var events services.EventPublisher
	broker, err := mq.Open(ctx, cfg)
	if err != nil {
		return nil, s.fail(err)
	}
	if broker != nil {
		s.closers = append(s.closers, broker.Close)
		events = mq.NewEventPublisher(broker, cfg.EventsChannel)
	}

	issuer := auth.NewIssuer(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	sessions := services.NewSessionService(users, issuer, logger)
	identitySvc := services.NewIdentityService(users, verifier, cfg.Google.ClientID, sessions, events, logger)
	registration := services.NewRegistrationService(users, media, events, logger, services.RegistrationOptions{
		RequireCoverImage: cfg.RequireCoverImage,
	})

	authHandler := handlers.NewAuthHandler(sessions, identitySvc, handlers.CookieOptions{
		Secure:     cfg.IsProduction(),
		AccessTTL:  cfg.Auth.AccessTokenExpiry,
		RefreshTTL: cfg.Auth.RefreshTokenExpiry,
	}, logger)
	userHandler := handlers.NewUserHandler(registration, services.NewUserService(users), cfg.UploadTempDir, logger)
	authMiddleware := auth.RequireAuth(issuer, handlers.Unauthorized)

	var mediaHandler *handlers.MediaHandler
	if mediaReader != nil {
		mediaHandler = handlers.NewMediaHandler(mediaReader, logger)
	}
	router := newRouter(cfg.CORSOrigins, func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, userHandler, authHandler, authMiddleware)
		})
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authHandler)
		})
		if mediaHandler != nil {
			r.Route("/media", func(r chi.Router) {
				handlers.MediaRouter(r, mediaHandler)
			})
		}
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// newRouter installs the shared middleware and health routes, and mounts the
// API under /api/v1.
func newRouter(corsOrigins []string, api func(r chi.Router)) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
	)
	// An empty origin list would make cors allow every origin.
	if len(corsOrigins) > 0 {
		router.Use(corsMiddleware(corsOrigins))
	}
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthcheck", handlers.Healthz)
		api(r)
	})
	return router
}

// corsMiddleware lets the configured browser origins call the API with
// session cookies.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func (s *Server) openUsers(ctx context.Context, cfg config.Config) (services.UserRepository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, conn.Close)
		return store.NewUserRepository(conn), nil
	case "mongo":
		client, collection, err := db.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { return client.Disconnect(context.Background()) })
		repo := store.NewMongoUserRepository(collection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return repo, nil
	case "memory":
		s.logger.Warn("using in-memory user repository, data is lost on restart")
		return store.NewMemoryUserRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}
}

// openMedia returns the media store and, for bucket backends, a reader used
// by the media proxy route.
func (s *Server) openMedia(ctx context.Context, cfg config.Config) (services.MediaStore, handlers.MediaReader, error) {
	var backend storage.ObjectStorage
	switch cfg.Media.Backend {
	case "cloudinary":
		client, err := storage.NewCloudinaryClient(cfg.Cloudinary)
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	case "minio":
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, nil, err
		}
		backend = client
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, client.Close)
		backend = client
	default:
		return nil, nil, fmt.Errorf("unsupported MEDIA_BACKEND %q", cfg.Media.Backend)
	}

	media := storage.NewStorage(backend, cfg.Media.PublicBaseURL, cfg.Media.KeyPrefix)
	if err := media.EnsureBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("ensure bucket %s: %w", media.Bucket(), err)
	}
	return media, media, nil
}

func (s *Server) fail(err error) error {
	return errors.Join(err, s.closeAll())
}

func (s *Server) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// backend connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.closeAll())
}
