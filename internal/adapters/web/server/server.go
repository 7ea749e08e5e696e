package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/accessoryd/internal/adapters/web"
	"github.com/lcalzada-xor/accessoryd/internal/adapters/web/handlers"
	"github.com/lcalzada-xor/accessoryd/internal/adapters/web/middleware"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
)

const (
	refreshLimit  = 6
	refreshWindow = time.Minute
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	Addr      string
	Service   ports.AccessoryService
	WSManager *web.WSManager
	Logger    *slog.Logger

	AccessoryHandler *handlers.AccessoryHandler
	ConfigHandler    *handlers.ConfigHandler
	RefreshLimiter   *middleware.RateLimiter

	srv *http.Server
}

// NewServer creates a new web server.
func NewServer(addr string, service ports.AccessoryService, toggle ports.FeatureToggle, ws *web.WSManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	return &Server{
		Addr:             addr,
		Service:          service,
		WSManager:        ws,
		Logger:           logger,
		AccessoryHandler: handlers.NewAccessoryHandler(service, logger),
		ConfigHandler:    handlers.NewConfigHandler(toggle, logger),
		RefreshLimiter:   middleware.NewRateLimiter(refreshLimit, refreshWindow),
	}
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(SetupRoutes(s), "accessoryd-server")
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.RefreshLimiter.Run(ctx)

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.Logger.Info("web server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.Logger.Error("web server shutdown error", "error", err)
		}
		s.WSManager.Close()
	}()

	s.Logger.Info("web server listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
