package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"bot-arena/internal/game"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// StateInterval is how often match:state is pushed.
	StateInterval = 100 * time.Millisecond

	writeWait = 5 * time.Second
)

// Event names pushed to clients.
const (
	EventState   = "match:state"
	EventMessage = "match:message"
	EventKill    = "match:kill"
	EventRound   = "match:round"
)

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	conn *websocket.Conn
	ip   string
}

// WebSocketHub fans match updates out to every connected viewer.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	upgrader  websocket.Upgrader
	wsLimiter *WebSocketRateLimiter
	log       *zap.Logger
}

// NewWebSocketHub creates a hub accepting browser origins that match
// origins (see OriginAllowed).
func NewWebSocketHub(origins []string, log *zap.Logger) *WebSocketHub {
	if log == nil {
		log = zap.NewNop()
	}
	if origins == nil {
		origins = DefaultCORSOrigins
	}
	h := &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		log:        log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if OriginAllowed(origins, origin) {
				return true
			}
			log.Warn("websocket origin rejected", zap.String("origin", origin))
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run owns the client set until Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for conn, client := range h.clients {
				h.wsLimiter.Release(client.ip)
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("viewer connected", zap.String("ip", client.ip), zap.Int("total", count))
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.drop(conn)

		case message := <-h.broadcast:
			var failed []*websocket.Conn
			h.mu.RLock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(conn)
			}
			IncrementWSMessages()
		}
	}
}

func (h *WebSocketHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	client, ok := h.clients[conn]
	if ok {
		h.wsLimiter.Release(client.ip)
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.log.Debug("viewer disconnected", zap.Int("remaining", count))
		UpdateWSConnections(count)
	}
}

// Stop closes every connection and ends Run.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast sends an event to all connected clients. It never blocks: when
// the queue is full the event is dropped.
func (h *WebSocketHub) Broadcast(event string, data any) {
	jsonBytes, err := json.Marshal(map[string]any{
		"event": event,
		"data":  data,
	})
	if err != nil {
		h.log.Warn("websocket encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- jsonBytes:
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartBroadcastLoop pushes match:state every StateInterval while anyone
// is watching.
func (h *WebSocketHub) StartBroadcastLoop(engine EngineInterface) {
	ticker := time.NewTicker(StateInterval)

	go func() {
		defer ticker.Stop()
		var lastSeq uint64
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
			}
			if h.ClientCount() == 0 {
				continue
			}
			snap := engine.GetSnapshot()
			if snap.Sequence == lastSeq {
				continue
			}
			lastSeq = snap.Sequence
			h.Broadcast(EventState, snap)
		}
	}()
}

// Hooks returns engine hooks that push messages, kills and round results.
func (h *WebSocketHub) Hooks() game.Hooks {
	return game.Hooks{
		OnMessage:   func(m game.MessageEvent) { h.Broadcast(EventMessage, m) },
		OnKill:      func(k game.KillEvent) { h.Broadcast(EventKill, k) },
		OnRoundOver: func(s game.RoundSummary) { h.Broadcast(EventRound, s) },
	}
}

// HandleWebSocket upgrades a viewer connection. Viewers are read-only;
// anything they send is discarded.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		h.log.Warn("websocket rejected: total limit reached")
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		h.log.Warn("websocket rejected: per-IP limit reached", zap.String("ip", ip))
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		h.wsLimiter.Release(ip)
		return
	}

	select {
	case h.register <- &wsClient{conn: conn, ip: ip}:
	case <-h.stop:
		h.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.stop:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
