package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/crawlctl/internal/models"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an http.Handler that knows the path patterns it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// Options configures a development [Server].
type Options struct {
	Addr     string
	Tick     time.Duration // Simulated crawl step interval
	Secret   string        // HS256 signing secret
	TokenTTL time.Duration
	// Admin, when set, is registered as an administrator at startup.
	Admin  *models.RegisterRequest
	Logger *log.Logger
}

// Server is the in-memory development platform: REST API, live channels and simulated crawls.
type Server struct {
	opts     Options
	platform *Platform
	issuer   *TokenIssuer
	router   *BasicRouter
	logger   *log.Logger
}

// New builds a server and seeds the optional admin account.
func New(opts Options) (*Server, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("dev server requires a signing secret")
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("component", "dev-server")

	platform := NewPlatform(NewHub())
	if opts.Admin != nil {
		if _, err := platform.Register(*opts.Admin, true); err != nil {
			return nil, fmt.Errorf("failed to seed admin account: %w", err)
		}
	}
	issuer := NewTokenIssuer(opts.Secret, opts.TokenTTL)

	router := NewBasicRouter()
	router.Use(RequestID, Recoverer(logger), Logging(logger))
	NewAPIHandler(platform, issuer, logger).Register(router)
	router.Handler(NewChannelHandler(platform.Hub(), logger))

	return &Server{opts: opts, platform: platform, issuer: issuer, router: router, logger: logger}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Platform returns the in-memory state behind the server.
func (s *Server) Platform() *Platform { return s.platform }

// Issuer returns the token issuer.
func (s *Server) Issuer() *TokenIssuer { return s.issuer }

// ListenAndServe serves on the configured address and runs the crawl simulation until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.platform.Run(ctx, s.opts.Tick)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.opts.Addr, "tick", s.opts.Tick)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
