package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types sent to websocket clients.
const (
	MessageDetection = "detection"
	MessageStatus    = "status"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Message is the envelope of every websocket message.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub broadcasts detections and model status to websocket clients.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	latest  map[string][]byte

	// writeMu serializes writes; a websocket connection allows one writer.
	writeMu sync.Mutex

	messages chan []byte
	done     chan struct{}
	once     sync.Once
}

// NewHub creates a Hub and starts its broadcast loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:   logger.With("component", "ws"),
		clients:  make(map[*websocket.Conn]bool),
		latest:   make(map[string][]byte),
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// Publish queues a message for every client. The latest message of each
// type is replayed to clients that connect later. Messages are dropped
// while the queue is full.
func (h *Hub) Publish(msgType string, data any) {
	msg, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Warn("failed to encode message", "type", msgType, "error", err)
		return
	}

	h.mu.Lock()
	h.latest[msgType] = msg
	h.mu.Unlock()

	select {
	case h.messages <- msg:
	case <-h.done:
	default:
		h.logger.Debug("dropping message, queue full", "type", msgType)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the broadcast loop and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)

		h.mu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.mu.Unlock()
	})
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Replay current state before joining the broadcast
	h.writeMu.Lock()
	h.mu.Lock()
	for _, msgType := range []string{MessageStatus, MessageDetection} {
		if msg, ok := h.latest[msgType]; ok {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.TextMessage, msg)
		}
	}
	h.clients[conn] = true
	h.mu.Unlock()
	h.writeMu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcast sends queued messages to all connected clients.
func (h *Hub) broadcast() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.messages:
			h.writeMu.Lock()
			h.mu.RLock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.logger.Debug("write failed", "error", err)
				}
			}
			h.mu.RUnlock()
			h.writeMu.Unlock()
		}
	}
}
