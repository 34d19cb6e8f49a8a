// Package connection implements the broker's registry of live client
// connections and channel subscriptions, and the message fan-out built
// on top of it.
package connection

import (
	"sync"

	"github.com/channelgrid/stomp-broker/internal/logger"
)

// Transport is the write side of one client connection, provided by the
// network layer when the connection is registered. Send must stay usable
// after the session's terminal flag is set so final replies can be
// flushed before close.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Connection represents one live client connection
type Connection struct {
	ID        int
	Transport Transport
}

// Manager owns the connection table and the channel subscription table.
// Sessions refer to connections by id only and never hold references
// into the tables. All methods are safe for concurrent use.
type Manager struct {
	connections sync.Map // connection id -> *Connection

	mu sync.RWMutex
	// channel -> connection id -> set of subscription ids
	subscriptions map[string]map[int]map[string]struct{}
}

func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]map[int]map[string]struct{}),
	}
}

// Register records a new live connection. A reused id overwrites the
// previous entry, callers must guarantee uniqueness.
func (m *Manager) Register(connID int, transport Transport) {
	m.connections.Store(connID, &Connection{ID: connID, Transport: transport})
	logger.DebugF("[%d] Connection registered", connID)
}

// Unicast sends the payload to exactly one connection. It returns false
// when the connection is gone, which callers must treat as a no-op.
func (m *Manager) Unicast(connID int, payload []byte) bool {
	value, ok := m.connections.Load(connID)
	if !ok {
		return false
	}
	conn := value.(*Connection)
	if err := conn.Transport.Send(payload); err != nil {
		logger.ErrorF("[%d] Fail to send data, details: %v", connID, err)
		return false
	}
	return true
}

// Disconnect removes the connection from the live table and from every
// channel's subscriber set, then closes its transport. Calling it twice
// is a no-op, and it is safe to call concurrently with a broadcast.
func (m *Manager) Disconnect(connID int) {
	value, loaded := m.connections.LoadAndDelete(connID)

	m.mu.Lock()
	for channel, subscribers := range m.subscriptions {
		delete(subscribers, connID)
		if len(subscribers) == 0 {
			delete(m.subscriptions, channel)
		}
	}
	m.mu.Unlock()

	if !loaded {
		return
	}

	conn := value.(*Connection)
	if err := conn.Transport.Close(); err != nil {
		logger.WarnF("[%d] Error occured while closing connection, details: %v", connID, err)
	}
	logger.InfoF("[%d] Connection removed", connID)
}
