package api

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bot-arena/internal/config"
	"bot-arena/internal/game"

	"github.com/gorilla/websocket"
)

// mockEngine implements EngineInterface without a tick loop.
type mockEngine struct {
	mu       sync.Mutex
	phase    game.Phase
	speed    int
	display  game.DisplayMode
	messages []string
	records  []game.AgentRecord
	seq      uint64
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		speed: 1,
		records: []game.AgentRecord{
			{Ordinal: 0, Name: "Alpha", Team: "Arena", Score: 12},
			{Ordinal: 1, Name: "Bravo", Team: "Arena", Score: 3},
			{Ordinal: 2, Name: "Charlie", Team: "Arena", Score: 7, Dead: true},
		},
		messages: []string{"one", "two", "three"},
	}
}

func (m *mockEngine) GetSnapshot() *game.MatchSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return &game.MatchSnapshot{
		Sequence: m.seq,
		Phase:    m.phase,
		Round:    1,
		Speed:    m.speed,
		Display:  m.display,
		Agents:   append([]game.AgentRecord(nil), m.records...),
		Messages: append([]string(nil), m.messages...),
	}
}

func (m *mockEngine) Standings() []game.Standing {
	return game.StandingsFor(m.records)
}

func (m *mockEngine) Messages(limit int) []string {
	if limit > 0 && limit < len(m.messages) {
		return m.messages[len(m.messages)-limit:]
	}
	return m.messages
}

func (m *mockEngine) Rules() config.Rules { return config.DefaultRules() }

func (m *mockEngine) transition(from, to game.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != from {
		return fmt.Errorf("%w: %s", game.ErrInvalidTransition, m.phase)
	}
	m.phase = to
	return nil
}

func (m *mockEngine) BeginRound() error { return m.transition(game.PhaseSetup, game.PhaseCountdown) }
func (m *mockEngine) Pause() error      { return m.transition(game.PhaseActive, game.PhasePaused) }
func (m *mockEngine) Resume() error     { return m.transition(game.PhasePaused, game.PhaseActive) }
func (m *mockEngine) NextRound() error  { return m.transition(game.PhaseRoundOver, game.PhaseCountdown) }

func (m *mockEngine) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = game.PhaseSetup
	return nil
}

func (m *mockEngine) SpeedUp() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed *= 2
	return m.speed
}

func (m *mockEngine) SpeedDown() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.speed > 1 {
		m.speed /= 2
	}
	return m.speed
}

func (m *mockEngine) CycleDisplay() game.DisplayMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.display = m.display.Next()
	return m.display
}

type fakeFrames struct{ err error }

func (f fakeFrames) RenderPNG(w io.Writer, snap *game.MatchSnapshot) error {
	if f.err != nil {
		return f.err
	}
	return png.Encode(w, image.NewRGBA(image.Rect(0, 0, 4, 4)))
}

var testRateLimit = &RateLimitConfig{
	RequestsPerSecond: 1000,
	Burst:             1000,
	CleanupInterval:   time.Hour,
}

func newTestServer(t *testing.T, cfg RouterConfig) *httptest.Server {
	t.Helper()
	if cfg.RateLimitConfig == nil && cfg.RateLimiter == nil {
		cfg.RateLimitConfig = testRateLimit
	}
	cfg.DisableLogging = true
	ts := httptest.NewServer(NewRouter(cfg))
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine()})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestGetState(t *testing.T) {
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine()})

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var result map[string]any
	decode(t, resp, &result)

	agents, ok := result["agents"].([]any)
	if !ok || len(agents) != 3 {
		t.Fatalf("agents = %v, want 3 entries", result["agents"])
	}
	if result["phase"] != "setup" {
		t.Errorf("phase = %v, want setup", result["phase"])
	}
	if result["display"] != "names" {
		t.Errorf("display = %v, want names", result["display"])
	}
}

func TestGetLeaderboard(t *testing.T) {
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine()})

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?limit=2", 2},
		{"?limit=10", 3},
		{"?limit=bogus", 3},
	}
	for _, tt := range tests {
		t.Run("limit"+tt.query, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/leaderboard" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			var standings []game.Standing
			decode(t, resp, &standings)
			if len(standings) != tt.want {
				t.Fatalf("got %d standings, want %d", len(standings), tt.want)
			}
			if standings[0].Agent.Name != "Alpha" || standings[0].Rank != 1 {
				t.Errorf("leader = %+v, want Alpha at rank 1", standings[0])
			}
		})
	}
}

func TestGetMessages(t *testing.T) {
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine()})

	resp, err := http.Get(ts.URL + "/api/messages?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Messages []string `json:"messages"`
	}
	decode(t, resp, &body)
	if strings.Join(body.Messages, ",") != "two,three" {
		t.Errorf("messages = %v, want [two three]", body.Messages)
	}
}

func TestGetRules(t *testing.T) {
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine()})

	resp, err := http.Get(ts.URL + "/api/rules")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		MessageCap int `json:"messageCap"`
	}
	decode(t, resp, &body)
	if want := config.DefaultRules().MessageCap(); body.MessageCap != want {
		t.Errorf("messageCap = %d, want %d", body.MessageCap, want)
	}
}

func TestGetFrame(t *testing.T) {
	tests := []struct {
		name       string
		frames     FrameRenderer
		wantStatus int
		wantType   string
	}{
		{"no renderer", nil, http.StatusNotFound, "application/json"},
		{"png", fakeFrames{}, http.StatusOK, "image/png"},
		{"render error", fakeFrames{err: io.ErrUnexpectedEOF}, http.StatusInternalServerError, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, RouterConfig{Engine: newMockEngine(), Frames: tt.frames})
			resp, err := http.Get(ts.URL + "/api/frame.png")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := resp.Header.Get("Content-Type"); got != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", got, tt.wantType)
			}
			if tt.wantStatus == http.StatusOK {
				if _, err := png.Decode(resp.Body); err != nil {
					t.Errorf("body is not a PNG: %v", err)
				}
			}
		})
	}
}

func TestMatchCommands(t *testing.T) {
	engine := newMockEngine()
	ts := newTestServer(t, RouterConfig{Engine: engine})

	steps := []struct {
		path       string
		setup      game.Phase
		wantStatus int
		wantPhase  game.Phase
	}{
		{"/api/match/start", game.PhaseSetup, http.StatusOK, game.PhaseCountdown},
		{"/api/match/start", game.PhaseActive, http.StatusConflict, game.PhaseActive},
		{"/api/match/pause", game.PhaseActive, http.StatusOK, game.PhasePaused},
		{"/api/match/pause", game.PhaseSetup, http.StatusConflict, game.PhaseSetup},
		{"/api/match/resume", game.PhasePaused, http.StatusOK, game.PhaseActive},
		{"/api/match/next", game.PhaseRoundOver, http.StatusOK, game.PhaseCountdown},
		{"/api/match/next", game.PhaseWinner, http.StatusConflict, game.PhaseWinner},
		{"/api/match/restart", game.PhaseWinner, http.StatusOK, game.PhaseSetup},
	}
	for _, tt := range steps {
		t.Run(tt.path+"_from_"+tt.setup.String(), func(t *testing.T) {
			engine.mu.Lock()
			engine.phase = tt.setup
			engine.mu.Unlock()

			resp := post(t, ts.URL+tt.path, "")
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			engine.mu.Lock()
			got := engine.phase
			engine.mu.Unlock()
			if got != tt.wantPhase {
				t.Errorf("phase = %s, want %s", got, tt.wantPhase)
			}
		})
	}
}

func TestMatchCommandsRejectGet(t *testing.T) {
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine()})

	resp, err := http.Get(ts.URL + "/api/match/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestSpeedAndDisplay(t *testing.T) {
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine()})

	var speed map[string]int
	decode(t, post(t, ts.URL+"/api/match/speed-up", ""), &speed)
	if speed["speed"] != 2 {
		t.Errorf("speed after up = %d, want 2", speed["speed"])
	}
	decode(t, post(t, ts.URL+"/api/match/speed-down", ""), &speed)
	if speed["speed"] != 1 {
		t.Errorf("speed after down = %d, want 1", speed["speed"])
	}

	want := []string{"scores", "teams", "none", "names"}
	for _, w := range want {
		var display map[string]string
		decode(t, post(t, ts.URL+"/api/match/display", ""), &display)
		if display["display"] != w {
			t.Errorf("display = %q, want %q", display["display"], w)
		}
	}
}

func TestControlToken(t *testing.T) {
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine(), ControlToken: "s3cret"})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
		{"lowercase scheme", "bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/match/speed-up", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}

	// Read-only routes stay open.
	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("state status = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             2,
		CleanupInterval:   time.Hour,
	})
	t.Cleanup(limiter.Stop)
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine(), RateLimiter: limiter})

	var statuses []int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, statuses[i], want[i])
		}
	}
	if allowed, rejected := limiter.GetStats(); allowed != 2 || rejected != 1 {
		t.Errorf("stats = (%d, %d), want (2, 1)", allowed, rejected)
	}
}

func TestCommandBudgetIsSeparate(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             3,
		CommandsPerSecond: 0.001,
		CommandBurst:      1,
		CleanupInterval:   time.Hour,
	})
	t.Cleanup(limiter.Stop)
	ts := newTestServer(t, RouterConfig{Engine: newMockEngine(), RateLimiter: limiter})

	first := post(t, ts.URL+"/api/match/speed-up", "")
	first.Body.Close()
	second := post(t, ts.URL+"/api/match/speed-up", "")
	second.Body.Close()
	if first.StatusCode != http.StatusOK || second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("commands = %d, %d; want 200, 429", first.StatusCode, second.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("read after spent command budget = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)

	now := time.Unix(1000, 0)
	limiter.now = func() time.Time { return now }
	limiter.Allow("10.0.0.1")
	now = now.Add(90 * time.Minute)
	limiter.Allow("10.0.0.2")

	now = now.Add(90 * time.Minute)
	limiter.forgetIdle()
	if got := limiter.Clients(); got != 1 {
		t.Errorf("clients after sweep = %d, want 1", got)
	}
}

func TestOriginAllowed(t *testing.T) {
	patterns := []string{"http://localhost:*", "https://arena.example.com"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost", true},
		{"http://localhost:3000", true},
		{"https://arena.example.com", true},
		{"https://arena.example.com:8443", false},
		{"http://localhost.evil.com", false},
		{"https://evil.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := OriginAllowed(patterns, tt.origin); got != tt.want {
				t.Errorf("OriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}

	if !OriginAllowed([]string{"*"}, "https://anything.test") {
		t.Error("wildcard should allow any origin")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "10.0.0.1:5555", nil, "10.0.0.1"},
		{"forwarded chain", "10.0.0.1:5555", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.2"}, "1.2.3.4"},
		{"real ip", "10.0.0.1:5555", map[string]string{"X-Real-IP": " 5.6.7.8 "}, "5.6.7.8"},
		{"no port", "10.0.0.9", nil, "10.0.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := GetClientIP(r); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebSocketRateLimiter(t *testing.T) {
	wrl := NewWebSocketRateLimiter(2)

	if !wrl.Allow("a") || !wrl.Allow("a") {
		t.Fatal("first two connections should be allowed")
	}
	if wrl.Allow("a") {
		t.Error("third connection should be refused")
	}
	if !wrl.Allow("b") {
		t.Error("other IPs are counted separately")
	}
	wrl.Release("a")
	if got := wrl.GetConnectionCount("a"); got != 1 {
		t.Errorf("count after release = %d, want 1", got)
	}
	wrl.Release("a")
	wrl.Release("a")
	if got := wrl.GetConnectionCount("a"); got != 0 {
		t.Errorf("count after extra release = %d, want 0", got)
	}
	if wrl.Rejected() != 1 {
		t.Errorf("rejected = %d, want 1", wrl.Rejected())
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Hooks().OnMessage(game.MessageEvent{Round: 1, From: game.SystemSender, Text: "Alpha destroyed by Bravo."})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Event string            `json:"event"`
		Data  game.MessageEvent `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event != EventMessage || msg.Data.Text != "Alpha destroyed by Bravo." {
		t.Errorf("got %+v", msg)
	}
}

func TestWebSocketOriginRejected(t *testing.T) {
	hub := NewWebSocketHub([]string{"https://arena.example.com"}, nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial should fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestServerRouterHasWebSocket(t *testing.T) {
	s := NewServer(newMockEngine(), nil, nil, config.ServerConfig{}, nil)
	t.Cleanup(func() { s.rateLimiter.Stop() })

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	// A plain GET is not an upgrade request.
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if w.Header().Get("Sec-Websocket-Version") != "13" {
		t.Errorf("headers = %v", w.Header())
	}
}

func TestStartStatsViewDisabled(t *testing.T) {
	t.Setenv("ALLOW_DEBUG_EXTERNAL", "")
	for _, addr := range []string{"", "0.0.0.0:18066", "not-an-addr"} {
		stop := StartStatsView(addr, nil)
		if stop == nil {
			t.Fatalf("StartStatsView(%q) returned a nil stop", addr)
		}
		stop()
	}
}

func TestStartDebugServerDisabled(t *testing.T) {
	srv, err := StartDebugServer(config.ObservabilityConfig{Enabled: false}, nil)
	if err != nil || srv != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", srv, err)
	}
}
