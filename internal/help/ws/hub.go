// Package ws pushes change notifications to connected browsers so they can
// re-read whatever they are showing.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Logger provides minimal logging required by the hub.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Event types.
const (
	EventChange  = "change"
	EventRefresh = "refresh"
)

// Event is the message sent to browsers. It names what changed, never the
// new state; clients re-fetch.
type Event struct {
	Type      string   `json:"type"`
	Table     string   `json:"table,omitempty"`
	Op        string   `json:"op,omitempty"`
	ID        string   `json:"id,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Expired   []string `json:"expired,omitempty"`
}

// ViewerFunc extracts the authenticated viewer from an upgrade request.
type ViewerFunc func(r *http.Request) (string, bool)

// Hub manages one websocket per viewer. A new connection from the same
// viewer replaces the old one.
type Hub struct {
	upgrader websocket.Upgrader
	logger   Logger
	viewer   ViewerFunc

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
	wmu   map[string]*sync.Mutex
}

// NewHub constructs the hub. allowOrigin nil accepts every origin.
func NewHub(viewer ViewerFunc, allowOrigin func(origin string) bool, logger Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			if allowOrigin == nil {
				return true
			}
			return allowOrigin(r.Header.Get("Origin"))
		}},
		logger: logger,
		viewer: viewer,
		conns:  make(map[string]*websocket.Conn),
		wmu:    make(map[string]*sync.Mutex),
	}
}

// ServeWS upgrades the connection of an authenticated viewer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := h.viewer(r)
	if !ok || viewerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("ws upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	if old, ok := h.conns[viewerID]; ok {
		_ = old.Close()
	}
	h.conns[viewerID] = conn
	if _, ok := h.wmu[viewerID]; !ok {
		h.wmu[viewerID] = &sync.Mutex{}
	}
	h.mu.Unlock()

	go h.readLoop(viewerID, conn)
}

func (h *Hub) readLoop(viewerID string, conn *websocket.Conn) {
	defer func() {
		conn.Close()
		h.mu.Lock()
		if h.conns[viewerID] == conn {
			delete(h.conns, viewerID)
			delete(h.wmu, viewerID)
		}
		h.mu.Unlock()
	}()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		if mt == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(msg)), "ping") {
			h.safeWrite(viewerID, func(c *websocket.Conn) error {
				return c.WriteMessage(websocket.TextMessage, []byte("pong"))
			})
		}
	}
}

func (h *Hub) safeWrite(viewerID string, writer func(*websocket.Conn) error) {
	h.mu.RLock()
	conn := h.conns[viewerID]
	mu := h.wmu[viewerID]
	h.mu.RUnlock()
	if conn == nil || mu == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := writer(conn); err != nil {
		h.logf("viewer %s write failed: %v", viewerID, err)
	}
}

// Broadcast sends event to every connected viewer.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.safeWrite(id, func(conn *websocket.Conn) error {
			return conn.WriteMessage(websocket.TextMessage, data)
		})
	}
}

// Connected returns the number of open connections.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drops every connection. Read loops exit on their own.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		_ = conn.Close()
		delete(h.conns, id)
		delete(h.wmu, id)
	}
}

func (h *Hub) logf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Errorf(format, args...)
	}
}
