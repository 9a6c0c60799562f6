package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client limiter. Reads and match
// commands are budgeted separately so polling a frame never starves a
// pause.
type RateLimitConfig struct {
	RequestsPerSecond float64       // GET budget per client
	Burst             int           // GET burst
	CommandsPerSecond float64       // POST budget per client, 0 = same as reads
	CommandBurst      int           // POST burst, 0 = same as reads
	CleanupInterval   time.Duration // idle clients are forgotten after two intervals
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	CommandsPerSecond: 2,
	CommandBurst:      5,
	CleanupInterval:   5 * time.Minute,
}

type clientBudget struct {
	read     *rate.Limiter
	command  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands each client IP its own token buckets.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBudget
	cfg     RateLimitConfig
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once

	allowed  atomic.Uint64
	rejected atomic.Uint64
}

// NewIPRateLimiter starts a limiter with its idle-client sweeper.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CommandsPerSecond <= 0 {
		cfg.CommandsPerSecond = cfg.RequestsPerSecond
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = cfg.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		clients: make(map[string]*clientBudget),
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Stop ends the sweeper. Safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *IPRateLimiter) budget(ip string) *clientBudget {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.clients[ip]
	if !ok {
		b = &clientBudget{
			read:    rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
			command: rate.NewLimiter(rate.Limit(rl.cfg.CommandsPerSecond), rl.cfg.CommandBurst),
		}
		rl.clients[ip] = b
	}
	b.lastSeen = rl.now()
	return b
}

func (rl *IPRateLimiter) sweep() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.forgetIdle()
		}
	}
}

func (rl *IPRateLimiter) forgetIdle() {
	cutoff := rl.now().Add(-2 * rl.cfg.CleanupInterval)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.clients {
		if b.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// Allow spends one read token for ip.
func (rl *IPRateLimiter) Allow(ip string) bool {
	return rl.count(rl.budget(ip).read.Allow())
}

// AllowCommand spends one command token for ip.
func (rl *IPRateLimiter) AllowCommand(ip string) bool {
	return rl.count(rl.budget(ip).command.Allow())
}

func (rl *IPRateLimiter) count(ok bool) bool {
	if ok {
		rl.allowed.Add(1)
	} else {
		rl.rejected.Add(1)
	}
	return ok
}

// Middleware rejects over-budget clients with 429. POST requests draw on
// the command budget.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := GetClientIP(r)
		ok := rl.Allow
		if r.Method == http.MethodPost {
			ok = rl.AllowCommand
		}
		if !ok(ip) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			writeError(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Clients returns how many client IPs are being tracked.
func (rl *IPRateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// GetStats returns how many requests were allowed and rejected.
func (rl *IPRateLimiter) GetStats() (allowed, rejected uint64) {
	return rl.allowed.Load(), rl.rejected.Load()
}

// GetClientIP returns the caller's address. The first X-Forwarded-For hop
// and X-Real-IP are trusted when they parse as an IP, so the arena must sit
// behind a proxy that overwrites them if it is exposed publicly.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WebSocketRateLimiter caps concurrent viewer connections per IP.
type WebSocketRateLimiter struct {
	mu       sync.Mutex
	open     map[string]int
	maxPerIP int
	rejected atomic.Uint64
}

// NewWebSocketRateLimiter creates a connection limiter
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{open: make(map[string]int), maxPerIP: maxPerIP}
}

// Allow reserves a connection slot for ip.
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	if wrl.open[ip] >= wrl.maxPerIP {
		wrl.rejected.Add(1)
		return false
	}
	wrl.open[ip]++
	return true
}

// Release frees a slot reserved by Allow.
func (wrl *WebSocketRateLimiter) Release(ip string) {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	switch n := wrl.open[ip]; {
	case n > 1:
		wrl.open[ip] = n - 1
	case n == 1:
		delete(wrl.open, ip)
	}
}

// GetConnectionCount returns the open connections for ip.
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	return wrl.open[ip]
}

// Rejected returns how many connections were refused.
func (wrl *WebSocketRateLimiter) Rejected() uint64 {
	return wrl.rejected.Load()
}

// OriginAllowed matches origin against patterns. A pattern may end in
// ":*" to accept any port. Requests without an Origin header come from
// non-browser clients and are allowed.
func OriginAllowed(patterns []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, p := range patterns {
		if p == "*" || p == origin {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, ":*"); ok {
			if origin == prefix || strings.HasPrefix(origin, prefix+":") {
				return true
			}
		}
	}
	return false
}
