// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th July 2026 10:19:55 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Admin UI is served from the same host
	},
}

// WSMessage is the broadcast envelope pushed to connected clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams profile lifecycle events to the admin UI.
// The socket is broadcast-only; inbound frames are read and dropped to
// keep the connection's close handshake working.
type WebSocketHandler struct {
	logger      arbor.ILogger
	events      interfaces.EventService
	auth        *AuthHandler
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex

	// statusThrottle bounds profile_status broadcast volume. A full sync
	// pass emits several transitions per profile; beyond the budget the
	// UI catches up from its next list fetch.
	statusThrottle *rate.Limiter

	// serverInstanceID changes on restart so clients can detect that
	// in-memory state (admin sessions, counters) was reset.
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and subscribes it to the
// profile lifecycle events.
func NewWebSocketHandler(eventService interfaces.EventService, authHandler *AuthHandler, logger arbor.ILogger) *WebSocketHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	h := &WebSocketHandler{
		logger:           logger,
		events:           eventService,
		auth:             authHandler,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		statusThrottle:   rate.NewLimiter(rate.Every(100*time.Millisecond), 20),
		serverInstanceID: uuid.New().String(),
	}
	h.subscribe()
	return h
}

// HandleWebSocket upgrades the connection and registers the client.
// GET /ws?token=<admin session token>
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.auth != nil && !h.auth.ValidateToken(r.URL.Query().Get("token")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Int("clients", count).
		Msg("WebSocket client connected")

	h.sendTo(conn, WSMessage{
		Type: "connected",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()
		conn.Close()

		h.logger.Info().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
}

// subscribe wires the handler to the event service. Subscriptions last
// for the process lifetime, so the handlers are never unsubscribed.
func (h *WebSocketHandler) subscribe() {
	if h.events == nil {
		return
	}

	register := func(eventType interfaces.EventType, msgType string, limiter *rate.Limiter) {
		handler := func(ctx context.Context, event interfaces.Event) error {
			if limiter != nil && !limiter.Allow() {
				return nil
			}
			h.Broadcast(WSMessage{Type: msgType, Payload: event.Payload})
			return nil
		}
		if err := h.events.Subscribe(eventType, handler); err != nil {
			h.logger.Warn().
				Err(err).
				Str("event_type", string(eventType)).
				Msg("WebSocket event subscription failed")
		}
	}

	register(interfaces.EventProfileCreated, "profile_created", nil)
	register(interfaces.EventProfileStatusChanged, "profile_status", h.statusThrottle)
	register(interfaces.EventProfileDeleted, "profile_deleted", nil)
	register(interfaces.EventSyncCompleted, "sync_completed", nil)
	register(interfaces.EventSettingsUpdated, "settings_updated", nil)
}

// Broadcast sends a message to every connected client. Writes are
// serialized per connection; a failed write is logged and the read loop
// handles the disconnect.
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("WebSocket write failed")
		}
	}
}

// sendTo writes one message to a single connection
func (h *WebSocketHandler) sendTo(conn *websocket.Conn, msg WSMessage) {
	h.mu.RLock()
	mu, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket initial send failed")
	}
}
