package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// errListenerDown is returned by Subscribe while there is no LISTEN connection.
var errListenerDown = errors.New("LISTEN connection not established")

const (
	// pollInterval bounds how long a LISTEN/UNLISTEN waits behind
	// WaitForNotification.
	pollInterval = 100 * time.Millisecond

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// PayloadResolver fetches payloads that were too large for NOTIFY.
// Implemented by Publisher.
type PayloadResolver interface {
	Resolve(ctx context.Context, id int64) ([]byte, error)
}

// ListenerStats is a point-in-time view of a NotifyListener, reported on
// /health.
type ListenerStats struct {
	Connected  bool   `json:"connected"`
	Channels   int    `json:"channels"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	Reconnects uint64 `json:"reconnects"`
}

// listenCmd is a LISTEN or UNLISTEN executed by the receive loop.
type listenCmd struct {
	verb    string // "LISTEN" or "UNLISTEN"
	channel string
	result  chan error
}

// NotifyListener receives PostgreSQL notifications for the channels this
// replica cares about and hands them to the local ConnectionManager. A user
// channel is LISTENed while the user has a connection here; the queue
// channel while anyone here is subscribed to it.
//
// Notifications sent while the connection is down are lost. Clients
// recover state through the REST status endpoints.
type NotifyListener struct {
	connString string
	manager    *ConnectionManager
	resolver   PayloadResolver

	// conn is owned by the receive loop; connMu only guards the handoff in
	// Start and Stop.
	conn   *pgx.Conn
	connMu sync.Mutex

	channelsMu sync.RWMutex
	channels   map[string]bool

	cmdCh   chan listenCmd
	running atomic.Bool

	delivered  atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener. resolver may be nil when no
// publisher ever stores oversized payloads.
func NewNotifyListener(connString string, manager *ConnectionManager, resolver PayloadResolver) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		manager:    manager,
		resolver:   resolver,
		channels:   make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
	}
}

// Start opens the dedicated LISTEN connection and starts the receive loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("NotifyListener started")
	return nil
}

// Stop ends the receive loop, then closes the connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

// Subscribe starts LISTENing on channel. Repeated calls are no-ops.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if l.isListening(channel) {
		return nil
	}
	if !l.running.Load() {
		return errListenerDown
	}
	if err := l.submit(ctx, "LISTEN", channel); err != nil {
		return err
	}
	l.setListening(channel, true)
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe stops LISTENing on channel. It is a no-op when the channel is
// not listened or the listener is stopped.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	if !l.isListening(channel) || !l.running.Load() {
		return nil
	}
	if err := l.submit(ctx, "UNLISTEN", channel); err != nil {
		return err
	}
	l.setListening(channel, false)
	return nil
}

// Stats reports connection state and delivery counters.
func (l *NotifyListener) Stats() ListenerStats {
	l.connMu.Lock()
	connected := l.conn != nil
	l.connMu.Unlock()

	l.channelsMu.RLock()
	n := len(l.channels)
	l.channelsMu.RUnlock()

	return ListenerStats{
		Connected:  connected && l.running.Load(),
		Channels:   n,
		Delivered:  l.delivered.Load(),
		Dropped:    l.dropped.Load(),
		Reconnects: l.reconnects.Load(),
	}
}

// Ping fails while the LISTEN connection is down, so /health can report
// cross-replica delivery as degraded.
func (l *NotifyListener) Ping(context.Context) error {
	if !l.Stats().Connected {
		return errListenerDown
	}
	return nil
}

// submit hands a command to the receive loop, the only goroutine allowed
// to use the pgx connection, and waits for its result.
func (l *NotifyListener) submit(ctx context.Context, verb, channel string) error {
	cmd := listenCmd{verb: verb, channel: channel, result: make(chan error, 1)}
	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("%s %s failed: %w", verb, channel, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *NotifyListener) isListening(channel string) bool {
	l.channelsMu.RLock()
	defer l.channelsMu.RUnlock()
	return l.channels[channel]
}

func (l *NotifyListener) setListening(channel string, on bool) {
	l.channelsMu.Lock()
	defer l.channelsMu.Unlock()
	if on {
		l.channels[channel] = true
	} else {
		delete(l.channels, channel)
	}
}

func (l *NotifyListener) currentConn() *pgx.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn
}

func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for ctx.Err() == nil {
		conn := l.currentConn()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}
		l.runPendingCmds(ctx, conn)

		waitCtx, cancel := context.WithTimeout(ctx, pollInterval)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()
		switch {
		case err == nil:
			l.dispatch(ctx, n.Channel, n.Payload)
		case ctx.Err() != nil:
			return
		case waitCtx.Err() != nil:
			// Poll timeout; go back for pending commands.
		default:
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
		}
	}
}

func (l *NotifyListener) runPendingCmds(ctx context.Context, conn *pgx.Conn) {
	for {
		select {
		case cmd := <-l.cmdCh:
			_, err := conn.Exec(ctx, cmd.verb+" "+pgx.Identifier{cmd.channel}.Sanitize())
			cmd.result <- err
		default:
			return
		}
	}
}

// reconnect replaces the connection, backing off exponentially, and
// re-LISTENs every tracked channel.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	old := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if old != nil {
		_ = old.Close(ctx)
	}

	backoff := reconnectMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, reconnectMax)
			continue
		}

		l.channelsMu.RLock()
		for ch := range l.channels {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.channelsMu.RUnlock()

		l.connMu.Lock()
		l.conn = conn
		l.connMu.Unlock()
		l.reconnects.Add(1)
		slog.Info("NotifyListener reconnected")
		return
	}
}

// dispatch resolves payload references and delivers the frame: a user
// channel to that user's connections, any other channel to its subscribers.
func (l *NotifyListener) dispatch(ctx context.Context, channel, payload string) {
	data := []byte(payload)
	if id, ok := parsePayloadRef(payload); ok {
		if l.resolver == nil {
			l.dropped.Add(1)
			slog.Warn("Dropping payload reference, no resolver configured", "channel", channel, "ref", id)
			return
		}
		resolved, err := l.resolver.Resolve(ctx, id)
		if err != nil {
			l.dropped.Add(1)
			slog.Error("Failed to resolve relay payload", "channel", channel, "ref", id, "error", err)
			return
		}
		data = resolved
	}

	l.delivered.Add(1)
	if username, ok := userFromChannel(channel); ok {
		l.manager.SendToUser(username, data)
		return
	}
	l.manager.Broadcast(channel, data)
}
