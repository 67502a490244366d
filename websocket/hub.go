package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"civicwatch/models"
)

// Hub manages WebSocket connections and broadcasting
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan []byte

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Mutex for thread-safe operations
	mutex sync.RWMutex

	// Statistics
	lastBroadcastPage int
	connectedClients  int
}

// BroadcastMessage is the envelope pushed to connected viewers.
type BroadcastMessage struct {
	Type      string             `json:"type"`
	Data      *models.ReportPage `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mutex.Lock()
			h.clients[client] = true
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
			log.Printf("Client connected. Total clients: %d", h.connectedClients)

		case client := <-h.Unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.connectedClients = len(h.clients)
			}
			h.mutex.Unlock()
			log.Printf("Client disconnected. Total clients: %d", h.connectedClients)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
		}
	}
}

// BroadcastPage broadcasts a fresh report page snapshot to all connected
// clients.
func (h *Hub) BroadcastPage(page *models.ReportPage) {
	if page == nil {
		return
	}

	message := BroadcastMessage{
		Type:      "reports",
		Data:      page,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to marshal broadcast message: %v", err)
		return
	}

	h.mutex.Lock()
	h.lastBroadcastPage = page.Page
	clients := h.connectedClients
	h.mutex.Unlock()

	h.broadcast <- data
	log.Printf("Broadcasted page %d (%d reports) to %d clients",
		page.Page, len(page.Reports), clients)
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() (int, int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients, h.lastBroadcastPage
}
