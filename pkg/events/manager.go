package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// keepaliveInterval is how often an idle connection receives a ping event.
const keepaliveInterval = 30 * time.Second

// SnapshotFunc produces the initial state message sent to a connection right
// after it is established (e.g. the current queue view). A nil return skips
// the snapshot.
type SnapshotFunc func(ctx context.Context) any

// ConnectionManager manages queue WebSocket connections. Each connection
// owns one bus subscription whose events are pumped to the socket.
type ConnectionManager struct {
	bus      *Bus
	snapshot SnapshotFunc

	connections map[string]*Connection
	mu          sync.RWMutex

	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnectionManager creates a manager fanning out events from bus.
func NewConnectionManager(bus *Bus, snapshot SnapshotFunc, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		snapshot:     snapshot,
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:     connID,
		Conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	if m.snapshot != nil {
		if snap := m.snapshot(ctx); snap != nil {
			m.sendJSON(c, snap)
		}
	}

	sub := m.bus.Subscribe()
	defer sub.Unsubscribe()

	// Pump bus events and keepalives to the socket. A send failure cancels
	// the connection context, which also terminates the read loop.
	go m.pump(c, sub)

	// Read loop — process client messages until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}
		if msg.Action == "ping" {
			m.sendJSON(c, map[string]string{"type": EventTypePong})
		}
	}
}

func (m *ConnectionManager) pump(c *Connection, sub *Subscription) {
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				// Dropped by the bus (overflow) — close the socket so the
				// client reconnects and resyncs from a fresh snapshot.
				c.cancel()
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("Failed to marshal event", "type", event.Type, "error", err)
				continue
			}
			if err := m.sendRaw(c, data); err != nil {
				c.cancel()
				return
			}
		case <-keepalive.C:
			if err := m.sendRaw(c, []byte(`{"type":"ping"}`)); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Broadcast sends raw bytes to every active connection.
func (m *ConnectionManager) Broadcast(data []byte) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, data); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", c.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
