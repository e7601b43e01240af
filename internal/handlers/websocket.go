package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/gridscout/gridscout/internal/common"
	"github.com/gridscout/gridscout/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local scouting clients only
	},
}

// wsMessage is the envelope pushed to connected clients
type wsMessage struct {
	Type             string      `json:"type"`
	Payload          interface{} `json:"payload"`
	ServerInstanceID string      `json:"server_instance_id"`
	Timestamp        time.Time   `json:"timestamp"`
}

// WebSocketHandler pushes picklist operation progress to connected
// clients. Progress events are throttled; terminal events always go out.
type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	eventService      interfaces.EventService
	progressThrottler *rate.Limiter
	serverInstanceID  string // clients use this to detect server restarts
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && config.ProgressThrottle != "" {
		if interval, err := time.ParseDuration(config.ProgressThrottle); err == nil {
			h.progressThrottler = rate.NewLimiter(rate.Every(interval), 1)
		} else {
			logger.Warn().Err(err).Str("progress_throttle", config.ProgressThrottle).
				Msg("Invalid progress throttle, broadcasting unthrottled")
		}
	}

	h.subscribe()

	return h
}

func (h *WebSocketHandler) subscribe() {
	if h.eventService == nil {
		return
	}

	_ = h.eventService.Subscribe(interfaces.EventPicklistProgress, func(ctx context.Context, event interfaces.Event) error {
		// Drop intermediate updates when they arrive faster than clients need
		if h.progressThrottler != nil && !h.progressThrottler.Allow() {
			return nil
		}
		h.broadcast(string(event.Type), event.Payload)
		return nil
	})

	for _, eventType := range []interfaces.EventType{interfaces.EventPicklistCompleted, interfaces.EventPicklistFailed} {
		et := eventType
		_ = h.eventService.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(string(et), event.Payload)
			return nil
		})
	}
}

// HandleWebSocket upgrades the connection and registers the client
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, &wsMessage{
		Type:             "connected",
		Payload:          map[string]string{"server_instance_id": h.serverInstanceID},
		ServerInstanceID: h.serverInstanceID,
		Timestamp:        time.Now().UTC(),
	})

	// Reader loop exists only to detect disconnects
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) broadcast(eventType string, payload interface{}) {
	msg := &wsMessage{
		Type:             eventType,
		Payload:          payload,
		ServerInstanceID: h.serverInstanceID,
		Timestamp:        time.Now().UTC(),
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.send(conn, msg)
	}
}

// send serializes writes per connection; gorilla/websocket does not allow
// concurrent writers
func (h *WebSocketHandler) send(conn *websocket.Conn, msg *wsMessage) {
	h.mu.RLock()
	connMu := h.clientMutex[conn]
	h.mu.RUnlock()
	if connMu == nil {
		return
	}

	connMu.Lock()
	err := conn.WriteJSON(msg)
	connMu.Unlock()

	if err != nil {
		h.removeClient(conn)
	}
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		conn.Close()
	}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
