package dwp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws/wsutil"
)

// Connection is an authenticated DWP session over one WebSocket.
type Connection struct {
	// ID uniquely identifies this connection and its broker subscriber.
	ID string

	// Identity is the authenticated identity for this connection.
	Identity *Identity

	// Codec is the negotiated wire format.
	Codec Codec

	// ConnectedAt records when the connection was established.
	ConnectedAt time.Time

	lastActivity atomic.Int64 // unix nanos

	conn    net.Conn
	writeMu sync.Mutex
}

// NewConnection wraps an upgraded WebSocket.
func NewConnection(id string, conn net.Conn, identity *Identity, codec Codec) *Connection {
	now := time.Now().UTC()
	c := &Connection{
		ID:          id,
		Identity:    identity,
		Codec:       codec,
		ConnectedAt: now,
		conn:        conn,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// Touch updates the last activity timestamp.
func (c *Connection) Touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// LastActivity returns when the last frame was received.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load()).UTC()
}

// WriteFrame encodes frame with the connection codec and writes it as one
// WebSocket message. Safe for concurrent use.
func (c *Connection) WriteFrame(frame *Frame) error {
	data, err := c.Codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("dwp: encode %s frame: %w", frame.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.conn, c.Codec.OpCode(), data)
}

// ConnectionManager tracks active DWP connections.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionManager creates an empty connection manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{conns: make(map[string]*Connection)}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters a connection.
func (cm *ConnectionManager) Remove(connID string) {
	cm.mu.Lock()
	delete(cm.conns, connID)
	cm.mu.Unlock()
}

// Count returns the number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// CloseAll closes every underlying WebSocket. Their read loops then end
// and unregister them.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, c := range cm.conns {
		_ = c.conn.Close() //nolint:errcheck // shutting down
	}
}
