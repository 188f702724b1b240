package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"simcore/internal/engine"

	"github.com/gorilla/websocket"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10
)

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	conn *websocket.Conn
	ip   string
}

// wsConnLimiter caps concurrent WebSocket connections per IP
type wsConnLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	limit  int
}

func newWSConnLimiter(limit int) *wsConnLimiter {
	return &wsConnLimiter{counts: make(map[string]int), limit: limit}
}

// Allow reserves a connection slot for ip, returning false at the limit
func (l *wsConnLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[ip] >= l.limit {
		return false
	}
	l.counts[ip]++
	return true
}

// Release frees a previously reserved slot
func (l *wsConnLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[ip] <= 1 {
		delete(l.counts, ip)
	} else {
		l.counts[ip]--
	}
}

// EventHub fans engine events out to WebSocket clients with DoS protection
type EventHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	upgrader websocket.Upgrader

	// Connection limiting per IP
	connLimiter *wsConnLimiter

	stopOnce sync.Once
	stop     chan struct{}
}

// NewEventHub creates a new hub with connection limiting.
// allowedOrigins restricts the Origin header on upgrade; an empty slice
// allows any origin (development mode).
func NewEventHub(allowedOrigins []string) *EventHub {
	h := &EventHub{
		clients:     make(map[*websocket.Conn]*wsClient),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *wsClient),
		unregister:  make(chan *websocket.Conn),
		connLimiter: newWSConnLimiter(MaxWSConnectionsPerIP),
		stop:        make(chan struct{}),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if isAllowedOrigin(origin, allowedOrigins) {
				return true
			}

			// Log rejected origin for security monitoring
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			RecordConnectionRejected("origin")
			return false
		},
	}

	return h
}

// isAllowedOrigin reports whether origin may open a WebSocket connection
func isAllowedOrigin(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	if origin == "" {
		// Non-browser clients send no Origin header
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// Run starts the hub
func (h *EventHub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for conn, client := range h.clients {
				h.connLimiter.Release(client.ip)
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

			log.Printf("📱 Client connected from %s (%d total)", client.ip, count)
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				// Release the connection slot for this IP
				h.connLimiter.Release(client.ip)
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client disconnected (%d remaining)", count)
			UpdateWSConnections(count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn, client := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.connLimiter.Release(client.ip)
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()
			IncrementWSEvents()
		}
	}
}

// Stop shuts the hub down and closes every connection
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast sends an event to all connected clients
func (h *EventHub) Broadcast(event string, data any) {
	msg := map[string]any{
		"event": event,
		"data":  data,
	}

	jsonBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case h.broadcast <- jsonBytes:
	default:
		// Channel full, skip (backpressure)
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AttachEngine subscribes the hub to engine events and relays them to
// clients. Returns a detach function that removes every subscription.
func (h *EventHub) AttachEngine(eng EngineInterface) func() {
	types := []string{
		engine.EventEntityRegistered,
		engine.EventEntityDeregistered,
		engine.EventActionScheduled,
		engine.EventTickCompleted,
		engine.EventEngineStopped,
	}

	unsubs := make([]func(), 0, len(types))
	for _, eventType := range types {
		unsubs = append(unsubs, eng.On(eventType, func(ev engine.Event) {
			h.Broadcast(ev.Type, ev.Payload)
		}))
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// StartSnapshotLoop starts broadcasting engine snapshots periodically
func (h *EventHub) StartSnapshotLoop(eng EngineInterface, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				if h.ClientCount() == 0 {
					continue
				}

				snap := eng.Snapshot()
				h.Broadcast("engine:snapshot", snap)
			}
		}
	}()
}

// HandleWebSocket handles incoming WebSocket connections with DoS protection
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get client IP for rate limiting
	ip := clientIP(r)

	// Check total connection limit
	h.mu.RLock()
	totalConnections := len(h.clients)
	h.mu.RUnlock()

	if totalConnections >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", totalConnections)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	// Check per-IP connection limit
	if !h.connLimiter.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	// Upgrade to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.connLimiter.Release(ip) // Release the slot we reserved
		return
	}

	// Register the connection
	client := &wsClient{conn: conn, ip: ip}
	h.register <- client

	// Drain client messages; the protocol is broadcast-only
	go func() {
		defer func() {
			h.unregister <- conn
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
