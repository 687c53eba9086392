// Package http serves the bridge's local status API: health, the last
// published snapshot, recent logs, Prometheus metrics and a manual action
// trigger for testing buttons without a panel.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/highclaw/clawdeck/internal/deck"
	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/security"
)

// Deck is the part of the session the API reads and drives.
type Deck interface {
	Snapshot() gateway.Snapshot
	TransportName() string
	Dispatch(ctx context.Context, actionID string, data map[string]string) deck.Result
}

// Options configures a Server.
type Options struct {
	Addr      string
	Version   string
	Deck      Deck
	Metrics   *Metrics
	LogBuffer *LogBuffer
	Logger    *slog.Logger
	Debug     bool

	// TriggerLimit caps manual action triggers per client per minute.
	// Zero means DefaultTriggerLimit; negative disables the cap.
	TriggerLimit int
}

// DefaultTriggerLimit is the per-minute cap on POST /api/actions/:id.
const DefaultTriggerLimit = 30

// Server is the status API.
type Server struct {
	router    *gin.Engine
	opts      Options
	logger    *slog.Logger
	startedAt time.Time
}

// NewServer builds the router. Deck may be nil until the panel pairs; the
// status routes answer 503 until then.
func NewServer(opts Options) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	logger := opts.Logger.With("component", "status-api")
	router.Use(loggerMiddleware(logger))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.middleware())
	}

	s := &Server{
		router:    router,
		opts:      opts,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/logs", s.handleLogs)
		api.GET("/actions", s.handleListActions)
	}

	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	trigger := s.router.Group("/api/actions")
	trigger.Use(localhostOnlyMiddleware())
	limit := s.opts.TriggerLimit
	if limit == 0 {
		limit = DefaultTriggerLimit
	}
	if limit > 0 {
		trigger.Use(rateLimitMiddleware(security.NewLimiter(limit, time.Minute)))
	}
	{
		trigger.POST("/:id", s.handleTriggerAction)
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("status API failed to start: %w\n  -> Is another clawdeck instance running on %s?", err, s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting status API", "address", ln.Addr().String())

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("status API runtime error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down status API")
	return srv.Shutdown(shutdownCtx)
}
