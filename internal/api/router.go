package api

import (
	"io"
	"net/http"
	"time"

	"bot-arena/internal/config"
	"bot-arena/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// EngineInterface defines the engine methods used by the API.
// This interface enables mocking for tests without spinning up the tick loop.
type EngineInterface interface {
	// GetSnapshot returns the latest published match snapshot
	GetSnapshot() *game.MatchSnapshot
	Standings() []game.Standing
	Messages(limit int) []string
	Rules() config.Rules

	BeginRound() error
	Pause() error
	Resume() error
	NextRound() error
	Restart() error
	SpeedUp() int
	SpeedDown() int
	CycleDisplay() game.DisplayMode
}

// FrameRenderer produces the composed arena image.
type FrameRenderer interface {
	RenderPNG(w io.Writer, snap *game.MatchSnapshot) error
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Engine: mockEngine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the arena engine (required)
	Engine EngineInterface

	// Frames renders /api/frame.png. If nil the endpoint returns 404.
	Frames FrameRenderer

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is only used if RateLimiter is nil. If both are nil,
	// DefaultRateLimitConfig applies.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, localhost on any port is allowed.
	CORSOrigins []string

	// ControlToken guards the match commands. Empty leaves them open.
	ControlToken string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool

	Logger *zap.Logger
}

// DefaultCORSOrigins are used when RouterConfig.CORSOrigins is nil.
var DefaultCORSOrigins = []string{
	"http://localhost:*",
	"http://127.0.0.1:*",
}

type routerHandlers struct {
	engine EngineInterface
	frames FrameRenderer
	log    *zap.Logger
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// NewRouter has no side effects beyond the rate limiter's cleanup
// goroutine: no listeners are opened, so it is safe to use with
// httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = DefaultCORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := &routerHandlers{engine: cfg.Engine, frames: cfg.Frames, log: log}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Get("/leaderboard", h.handleGetLeaderboard)
		r.Get("/messages", h.handleGetMessages)
		r.Get("/rules", h.handleGetRules)
		r.Get("/frame.png", h.handleGetFrame)

		r.Route("/match", func(r chi.Router) {
			r.Use(RequireControlToken(cfg.ControlToken))
			r.Post("/start", h.command("start", h.engine.BeginRound))
			r.Post("/pause", h.command("pause", h.engine.Pause))
			r.Post("/resume", h.command("resume", h.engine.Resume))
			r.Post("/next", h.command("next", h.engine.NextRound))
			r.Post("/restart", h.command("restart", h.engine.Restart))
			r.Post("/speed-up", h.handleSpeedUp)
			r.Post("/speed-down", h.handleSpeedDown)
			r.Post("/display", h.handleDisplay)
		})
	})

	return r
}

// requestMetrics records latency per route pattern, never per raw path.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
