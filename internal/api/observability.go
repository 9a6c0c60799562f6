package api

import (
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"sync"
	"time"

	"bot-arena/internal/config"
	"bot-arena/internal/game"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics with bounded cardinality: labels are capability and phase
// names, never agent names.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_tick_duration_seconds",
		Help:    "Time spent in one engine tick",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	phaseGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arena_phase",
		Help: "1 for the current tournament phase",
	}, []string{"phase"})

	liveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_live_agents",
		Help: "Agents neither dead nor out",
	})

	faultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_agent_faults_total",
		Help: "Agent faults by capability",
	}, []string{"capability"})

	overheatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_overheats_total",
		Help: "Agents that exceeded the processor limit",
	})

	killsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_kills_total",
		Help: "Confirmed kills",
	})

	messagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_messages_total",
		Help: "Broadcast messages, referee included",
	})

	roundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_rounds_total",
		Help: "Completed rounds",
	})

	// Event log metrics
	eventLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// Bounded: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin or token check",
	}, []string{"reason"})

	// endpoint is the route pattern, not the full URL
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

var allPhases = []game.Phase{
	game.PhaseSetup, game.PhaseCountdown, game.PhaseActive,
	game.PhasePaused, game.PhaseRoundOver, game.PhaseWinner,
}

// StartDebugServer starts pprof and /metrics on a localhost listener. The
// returned server is nil when disabled.
func StartDebugServer(cfg config.ObservabilityConfig, log *zap.Logger) (*http.Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		log.Info("debug server disabled")
		return nil, nil
	}

	addr := cfg.ListenAddr
	if host, _, err := net.SplitHostPort(addr); err != nil || !isLoopback(host) {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Warn("debug server forced to localhost", zap.String("requested", addr))
			addr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("debug server starting",
			zap.String("pprof", "http://"+addr+"/debug/pprof/"),
			zap.String("metrics", "http://"+addr+"/metrics"))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("debug server error", zap.Error(err))
		}
	}()
	return srv, nil
}

// StartStatsView serves live runtime charts (heap, goroutines, GC) at
// http://addr/debug/statsview. Non-loopback addresses are refused unless
// ALLOW_DEBUG_EXTERNAL is set. The returned stop function is never nil.
func StartStatsView(addr string, log *zap.Logger) (stop func()) {
	if log == nil {
		log = zap.NewNop()
	}
	if addr == "" {
		return func() {}
	}
	if host, _, err := net.SplitHostPort(addr); err != nil || !isLoopback(host) {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Warn("stats view refused on a non-loopback address", zap.String("addr", addr))
			return func() {}
		}
	}

	viewer.SetConfiguration(viewer.WithTheme(viewer.ThemeWesteros), viewer.WithAddr(addr))
	mgr := statsview.New()
	go mgr.Start()
	log.Info("stats view starting", zap.String("url", "http://"+addr+"/debug/statsview"))
	return mgr.Stop
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// MetricsHooks returns engine hooks that feed the arena metrics. next, if
// set, is chained after each metric update.
func MetricsHooks(next game.Hooks) game.Hooks {
	var lastPhase game.Phase = 255
	return game.Hooks{
		OnTick: func(p game.Phase, d time.Duration) {
			tickDuration.Observe(d.Seconds())
			if p != lastPhase {
				SetPhase(p)
				lastPhase = p
			}
			if next.OnTick != nil {
				next.OnTick(p, d)
			}
		},
		OnKill: func(ev game.KillEvent) {
			killsTotal.Inc()
			if next.OnKill != nil {
				next.OnKill(ev)
			}
		},
		OnFault: func(f *game.AgentFault) {
			faultsTotal.WithLabelValues(f.Capability).Inc()
			if next.OnFault != nil {
				next.OnFault(f)
			}
		},
		OnOverheat: func(r game.AgentRecord) {
			overheatsTotal.Inc()
			if next.OnOverheat != nil {
				next.OnOverheat(r)
			}
		},
		OnMessage: func(m game.MessageEvent) {
			messagesTotal.Inc()
			if next.OnMessage != nil {
				next.OnMessage(m)
			}
		},
		OnRoundOver: func(s game.RoundSummary) {
			roundsTotal.Inc()
			if next.OnRoundOver != nil {
				next.OnRoundOver(s)
			}
		},
	}
}

// SetPhase marks p as the current phase.
func SetPhase(p game.Phase) {
	for _, ph := range allPhases {
		v := 0.0
		if ph == p {
			v = 1
		}
		phaseGauge.WithLabelValues(ph.String()).Set(v)
	}
}

// UpdateLiveAgents updates the live agent gauge
func UpdateLiveAgents(n int) {
	liveAgents.Set(float64(n))
}

var eventLogSeen struct {
	sync.Mutex
	total, dropped uint64
}

// UpdateEventLogStats adds the growth since the previous call to the event
// log counters. Callers pass the log's running totals.
func UpdateEventLogStats(total, dropped uint64) {
	eventLogSeen.Lock()
	defer eventLogSeen.Unlock()
	if total > eventLogSeen.total {
		eventLogTotal.Add(float64(total - eventLogSeen.total))
	}
	if dropped > eventLogSeen.dropped {
		eventLogDropped.Add(float64(dropped - eventLogSeen.dropped))
	}
	eventLogSeen.total, eventLogSeen.dropped = total, dropped
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
