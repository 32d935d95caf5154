package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"wayfarer/internal/logging"
)

// WebSocketHub manages WebSocket connections and pushes chat updates to
// connected clients.
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	logger     *logging.Logger
	mu         sync.RWMutex
}

// NewWebSocketHub creates a hub
func NewWebSocketHub(logger *logging.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// Run starts the hub's event loop
func (h *WebSocketHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// push queues a typed notification for all connected clients without
// blocking the caller.
func (h *WebSocketHub) push(payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("dropping websocket notification, broadcast queue full")
	}
}

// ChatUpdated tells clients a chat's list entry or messages changed.
func (h *WebSocketHub) ChatUpdated(chatID string) {
	h.push(map[string]interface{}{
		"type":    "chat_updated",
		"chat_id": chatID,
	})
}

// Thinking toggles the typing indicator for a chat.
func (h *WebSocketHub) Thinking(chatID string, active bool) {
	h.push(map[string]interface{}{
		"type":    "thinking",
		"chat_id": chatID,
		"active":  active,
	})
}

// handleWebSocket upgrades HTTP to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // In production, validate origin
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.wsHub.register <- conn

	// Read loop (handle client messages if needed)
	go func() {
		defer func() {
			s.wsHub.unregister <- conn
		}()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}
