// Package messaging streams data-layer pushes to the visitor pages that are
// currently open, one websocket per page.
package messaging

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
)

// DataLayerClient represents a single open page listening for pushes.
type DataLayerClient struct {
	Conn      *websocket.Conn
	VisitorID string
	Send      chan []byte
}

// DataLayerHub manages every connected page, keyed by visitor ID.
type DataLayerHub struct {
	clients      map[string]map[*DataLayerClient]bool
	mu           sync.RWMutex
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	bufferSize   int
	logger       *logging.ChanneledLogger
}

// NewDataLayerHub creates a hub. An empty allowedOrigins accepts any origin.
func NewDataLayerHub(allowedOrigins []string, writeTimeout time.Duration, bufferSize int, logger *logging.ChanneledLogger) *DataLayerHub {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	if bufferSize <= 0 {
		bufferSize = 16
	}
	h := &DataLayerHub{
		clients:      make(map[string]map[*DataLayerClient]bool),
		writeTimeout: writeTimeout,
		bufferSize:   bufferSize,
		logger:       logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin) || slices.Contains(allowedOrigins, "*")
		},
	}
	return h
}

// Serve upgrades the request and blocks until the page disconnects.
func (h *DataLayerHub) Serve(w http.ResponseWriter, r *http.Request, visitorID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := &DataLayerClient{
		Conn:      conn,
		VisitorID: visitorID,
		Send:      make(chan []byte, h.bufferSize),
	}
	h.Register(client)

	go h.writePump(client)
	h.readPump(client)
	return nil
}

// Register adds a client.
func (h *DataLayerHub) Register(client *DataLayerClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.VisitorID]; !ok {
		h.clients[client.VisitorID] = make(map[*DataLayerClient]bool)
	}
	h.clients[client.VisitorID][client] = true
	if h.logger != nil {
		h.logger.DataLayer().Debug("Data layer listener registered", "visitorId", logging.MaskID(client.VisitorID))
	}
}

// Unregister removes a client and closes its send channel.
func (h *DataLayerHub) Unregister(client *DataLayerClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.VisitorID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.VisitorID)
	}
	if h.logger != nil {
		h.logger.DataLayer().Debug("Data layer listener unregistered", "visitorId", logging.MaskID(client.VisitorID))
	}
}

// Publish queues message for every page of visitorID without blocking and
// returns how many pages accepted it.
func (h *DataLayerHub) Publish(visitorID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[visitorID] {
		select {
		case client.Send <- message:
			delivered++
		default:
			if h.logger != nil {
				h.logger.DataLayer().Warn("Data layer listener buffer full, dropping push", "visitorId", logging.MaskID(visitorID))
			}
		}
	}
	return delivered
}

// ListenerCount returns the number of open pages for visitorID.
func (h *DataLayerHub) ListenerCount(visitorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[visitorID])
}

// Close disconnects every client.
func (h *DataLayerHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for visitorID, clients := range h.clients {
		for client := range clients {
			close(client.Send)
		}
		delete(h.clients, visitorID)
	}
}

func (h *DataLayerHub) readPump(client *DataLayerClient) {
	defer func() {
		h.Unregister(client)
		client.Conn.Close()
	}()
	client.Conn.SetReadLimit(maxInboundSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *DataLayerHub) writePump(client *DataLayerClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
