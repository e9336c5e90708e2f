package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// listenTimeout bounds how long a LISTEN command may block when subscribing to
// a new PG channel. Without this, a stalled connection would block the
// subscribing goroutine (and thus the client's read loop) indefinitely.
const listenTimeout = 10 * time.Second

// InboundHandler receives every client action that is not a connection
// control action. username is the authenticated identity of the connection.
type InboundHandler interface {
	HandleInbound(ctx context.Context, username string, msg *ClientMessage)
}

// ConnectionManager manages WebSocket connections, the user → connection
// index and channel subscriptions. Each Go process (pod) has one
// ConnectionManager instance.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	// Connections per user: username → set of connection_ids
	users map[string]map[string]bool
	mu    sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	handler   InboundHandler
	handlerMu sync.RWMutex

	// NotifyListener for dynamic LISTEN/UNLISTEN (set after construction)
	listener   *NotifyListener
	listenerMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads and
// writes (subscribe, unsubscribe, unregisterConnection) happen on the single
// goroutine that owns this connection (HandleConnection's read loop and its
// deferred cleanup).
type Connection struct {
	ID            string
	Username      string
	Conn          *websocket.Conn
	subscriptions map[string]bool // channels this connection is subscribed to
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		users:        make(map[string]map[string]bool),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// SetHandler sets the handler for chat and call actions.
func (m *ConnectionManager) SetHandler(h InboundHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handler = h
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup after both ConnectionManager and NotifyListener are created.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

func (m *ConnectionManager) getListener() *NotifyListener {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	return m.listener
}

// HandleConnection manages the lifecycle of a single WebSocket connection
// for username. Called by the WebSocket HTTP handler after upgrade. Blocks
// until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, username string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Username:      username,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := m.registerConnection(c); err != nil {
		slog.Error("Failed to register WebSocket connection",
			"connection_id", connID, "username", username, "error", err)
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "user channel unavailable")
		return
	}
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
		"username":      username,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			m.sendFrame(c, DestinationNotifications, NewErrorFrame("invalid message format"))
			continue
		}

		m.handleClientMessage(ctx, c, &msg)
	}
}

// SendToUser writes data to every connection of username on this pod and
// returns how many connections accepted it.
func (m *ConnectionManager) SendToUser(username string, data []byte) int {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.users[username]))
	for id := range m.users[username] {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if err := m.sendRaw(conn, data); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "username", username, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// IsConnected reports whether username has a connection on this pod.
func (m *ConnectionManager) IsConnected(username string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[username]) > 0
}

// Broadcast sends an event payload to all connections subscribed to the given channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	// Copy IDs to avoid holding lock during sends
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending. This avoids holding mu.RLock during potentially slow
	// writes (up to writeTimeout per connection), which would stall
	// connection register/unregister operations.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// handleClientMessage answers control actions and hands the rest to the
// InboundHandler.
func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		channel := msg.channel()
		if channel != QueueChannel {
			m.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"channel": channel,
				"message": "unknown channel",
			})
			return
		}
		if err := m.subscribe(c, channel); err != nil {
			m.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"channel": channel,
				"message": "failed to subscribe to channel",
			})
			return
		}
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": channel,
		})

	case ActionUnsubscribe:
		channel := msg.channel()
		if channel == "" {
			m.sendFrame(c, DestinationNotifications, NewErrorFrame("channel is required for unsubscribe"))
			return
		}
		m.unsubscribe(c, channel)

	case ActionPing:
		m.sendJSON(c, map[string]string{"type": "pong"})

	default:
		m.handlerMu.RLock()
		h := m.handler
		m.handlerMu.RUnlock()
		if h == nil {
			m.sendFrame(c, DestinationNotifications, NewErrorFrame("unsupported action: "+msg.Action))
			return
		}
		h.HandleInbound(ctx, c.Username, msg)
	}
}

// subscribe registers a connection for a channel and starts LISTEN if first subscriber.
// LISTEN is synchronous so it completes before subscribe returns.
//
// Returns an error if LISTEN fails so the caller can inform the client instead of
// sending a false subscription.confirmed.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	if needsListen {
		if l := m.getListener(); l != nil {
			listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
			defer listenCancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
				m.cleanupFailedChannel(c, channel)
				return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	c.subscriptions[channel] = true
	return nil
}

// cleanupFailedChannel removes ALL subscribers from a channel after a LISTEN
// failure and notifies every affected connection (except the triggering one,
// which is notified by the caller via the returned error).
//
// Between unlocking channelMu (after creating the channel entry) and l.Subscribe
// completing, other goroutines may have subscribed to the same channel. Because
// they saw the channel already existed they skipped LISTEN and returned success.
// Those connections are now orphaned. Clients MUST treat subscription.error as
// authoritative and either re-subscribe or fall back to REST polling.
func (m *ConnectionManager) cleanupFailedChannel(triggering *Connection, channel string) {
	m.channelMu.Lock()
	affectedIDs := make([]string, 0, len(m.channels[channel]))
	for connID := range m.channels[channel] {
		if connID != triggering.ID {
			affectedIDs = append(affectedIDs, connID)
		}
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	if len(affectedIDs) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(affectedIDs))
	for _, id := range affectedIDs {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		slog.Warn("Removing orphaned subscriber after LISTEN failure",
			"connection_id", conn.ID, "channel", channel)
		m.sendJSON(conn, map[string]string{
			"type":    "subscription.error",
			"channel": channel,
			"message": "channel listen failed; subscription removed",
		})
	}
}

// unsubscribe removes a connection from a channel and stops LISTEN if last subscriber.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
			// The goroutine re-checks m.channels before issuing UNLISTEN so
			// a rapid unsubscribe/resubscribe cycle keeps the LISTEN.
			if l := m.getListener(); l != nil {
				go func() {
					m.channelMu.RLock()
					_, resubscribed := m.channels[channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// registerConnection adds a connection to the tracking maps. The first
// connection of a user starts LISTEN on the user's private channel so
// pushes published by other pods reach it.
func (m *ConnectionManager) registerConnection(c *Connection) error {
	m.mu.Lock()
	m.connections[c.ID] = c
	first := len(m.users[c.Username]) == 0
	if first {
		m.users[c.Username] = make(map[string]bool)
	}
	m.users[c.Username][c.ID] = true
	m.mu.Unlock()

	if !first {
		return nil
	}
	l := m.getListener()
	if l == nil {
		return nil
	}
	listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
	defer cancel()
	if err := l.Subscribe(listenCtx, UserChannel(c.Username)); err != nil {
		m.mu.Lock()
		m.dropUserConnLocked(c)
		delete(m.connections, c.ID)
		m.mu.Unlock()
		return err
	}
	return nil
}

// unregisterConnection removes a connection and all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	last := m.dropUserConnLocked(c)
	m.mu.Unlock()

	if last {
		if l := m.getListener(); l != nil {
			go func() {
				if m.IsConnected(c.Username) {
					return
				}
				if err := l.Unsubscribe(context.Background(), UserChannel(c.Username)); err != nil {
					slog.Error("Failed to UNLISTEN user channel", "username", c.Username, "error", err)
				}
			}()
		}
	}

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// dropUserConnLocked removes c from the user index and reports whether it
// was the user's last connection. Caller holds m.mu.
func (m *ConnectionManager) dropUserConnLocked(c *Connection) bool {
	conns, ok := m.users[c.Username]
	if !ok {
		return false
	}
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(m.users, c.Username)
		return true
	}
	return false
}

// sendFrame wraps data in a ServerFrame and sends it to a single connection.
func (m *ConnectionManager) sendFrame(c *Connection, destination string, data any) {
	m.sendJSON(c, ServerFrame{Destination: destination, Data: data})
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
