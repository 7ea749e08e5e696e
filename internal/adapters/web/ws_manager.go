package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

const writeTimeout = 5 * time.Second

// WSMessage is the envelope of every frame pushed to UI clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ConnectPayload is the body of an accessory_connected message.
type ConnectPayload struct {
	Device          domain.AccessoryDevice `json:"device"`
	BatteryFraction float64                `json:"battery_fraction"`
	BatteryKnown    bool                   `json:"battery_known"`
	IconHint        string                 `json:"icon_hint"`
}

// WSManager tracks UI websocket clients and broadcasts connect events to them.
// It implements ports.Dispatcher.
type WSManager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWSManager creates a manager. Same-origin requests and requests without an
// Origin header are always accepted; allowedOrigins extends that set.
func NewWSManager(logger *slog.Logger, allowedOrigins ...string) *WSManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &WSManager{
		logger:  logger.With("component", "websocket"),
		clients: make(map[*websocket.Conn]struct{}),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return m.checkOrigin(r, allowedOrigins)
		},
	}
	return m
}

func (m *WSManager) checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	for _, a := range allowed {
		if origin == a {
			return true
		}
	}
	m.logger.Warn("rejected websocket origin", "origin", origin)
	return false
}

// HandleWebSocket upgrades the request and keeps the client until it goes away.
func (m *WSManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	m.mu.Lock()
	m.clients[conn] = struct{}{}
	m.mu.Unlock()
	m.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	go func() {
		defer m.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *WSManager) drop(conn *websocket.Conn) {
	m.mu.Lock()
	_, ok := m.clients[conn]
	delete(m.clients, conn)
	m.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// OnAccessoryConnected broadcasts the connect event to every client.
func (m *WSManager) OnAccessoryConnected(_ context.Context, device domain.AccessoryDevice, batteryFraction float64, iconHint string) {
	m.broadcast(WSMessage{
		Type: "accessory_connected",
		Payload: ConnectPayload{
			Device:          device,
			BatteryFraction: batteryFraction,
			BatteryKnown:    device.Battery.Known,
			IconHint:        iconHint,
		},
	})
}

// Count returns the number of connected clients.
func (m *WSManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Close disconnects every client.
func (m *WSManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		conn.Close()
		delete(m.clients, conn)
	}
}

func (m *WSManager) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("websocket marshal failed", "type", msg.Type, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(m.clients, conn)
		}
	}
}
