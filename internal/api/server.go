package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"bot-arena/internal/config"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for live updates.
type Server struct {
	engine      EngineInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	log         *zap.Logger
}

// NewServer creates an API server for engine. hub may be nil, in which
// case one is created; passing it in lets its hooks be wired into the
// engine before the engine exists.
//
// Background workers do NOT start until Start() is called, so tests can
// construct the server and use Router() without goroutines or listeners.
func NewServer(engine EngineInterface, frames FrameRenderer, hub *WebSocketHub, cfg config.ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if hub == nil {
		hub = NewWebSocketHub(cfg.CORSOrigins, log)
	}
	s := &Server{
		engine:      engine,
		wsHub:       hub,
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
		log:         log,
	}

	s.router = NewRouter(RouterConfig{
		Engine:       engine,
		Frames:       frames,
		RateLimiter:  s.rateLimiter,
		CORSOrigins:  cfg.CORSOrigins,
		ControlToken: cfg.ControlToken,
		Logger:       log,
	})
	s.router.Get("/ws", s.wsHub.HandleWebSocket)
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub exposes the WebSocket hub so its engine hooks can be wired.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the background workers and serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.engine)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("api server starting", zap.String("addr", addr))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes viewer connections and stops
// the background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Stop()
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
