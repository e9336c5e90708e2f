package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[int64]string

func (r mapResolver) Resolve(_ context.Context, id int64) ([]byte, error) {
	p, ok := r[id]
	if !ok {
		return nil, ErrPayloadNotFound
	}
	return []byte(p), nil
}

func TestNewNotifyListener(t *testing.T) {
	manager := NewConnectionManager(0)
	listener := NewNotifyListener("host=localhost dbname=test", manager, nil)

	assert.NotNil(t, listener)
	assert.Equal(t, "host=localhost dbname=test", listener.connString)
	assert.NotNil(t, listener.channels)
	assert.Equal(t, manager, listener.manager)
}

func TestNotifyListener_ChannelTrackingWithoutConnection(t *testing.T) {
	// Without calling Start(), the listener has no connection.
	manager := NewConnectionManager(0)
	listener := NewNotifyListener("host=localhost dbname=test", manager, nil)

	t.Run("subscribe without connection returns error", func(t *testing.T) {
		err := listener.Subscribe(t.Context(), UserChannel("alice"))
		assert.Error(t, err)
		assert.ErrorIs(t, err, errListenerDown)
		assert.False(t, listener.isListening(UserChannel("alice")))
	})

	t.Run("stats and ping report the missing connection", func(t *testing.T) {
		assert.False(t, listener.Stats().Connected)
		assert.ErrorIs(t, listener.Ping(t.Context()), errListenerDown)
	})

	t.Run("unsubscribe without connection is a no-op", func(t *testing.T) {
		err := listener.Unsubscribe(t.Context(), QueueChannel)
		assert.NoError(t, err)
	})
}

func TestNotifyListener_Dispatch(t *testing.T) {
	manager, server := setupTestManager(t)
	alice := connectWS(t, server, "alice")
	agent := connectWS(t, server, "agent-x")
	writeJSON(t, agent, ClientMessage{Action: ActionSubscribe, Channel: QueueChannel})
	readJSON(t, agent)

	listener := NewNotifyListener("", manager, mapResolver{42: `{"destination":"messages","data":{"content":"big"}}`})
	ctx := context.Background()

	t.Run("user channel goes to that user", func(t *testing.T) {
		listener.dispatch(ctx, UserChannel("alice"), `{"destination":"notifications","data":{"type":"QUEUE_POSITION"}}`)
		data := frameData(t, readJSON(t, alice), DestinationNotifications)
		assert.Equal(t, FrameQueuePosition, data["type"])
	})

	t.Run("queue channel goes to subscribers", func(t *testing.T) {
		listener.dispatch(ctx, QueueChannel, `{"destination":"queue-updates","data":{"type":"QUEUE_UPDATE","queueSize":0}}`)
		data := frameData(t, readJSON(t, agent), DestinationQueueUpdates)
		assert.Equal(t, FrameQueueUpdate, data["type"])
	})

	t.Run("references are resolved", func(t *testing.T) {
		listener.dispatch(ctx, UserChannel("alice"), `{"ref":42}`)
		data := frameData(t, readJSON(t, alice), DestinationMessages)
		assert.Equal(t, "big", data["content"])
	})

	t.Run("unresolvable references are dropped", func(t *testing.T) {
		listener.dispatch(ctx, UserChannel("alice"), `{"ref":7}`)
		writeJSON(t, alice, ClientMessage{Action: ActionPing})

		readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, data, err := alice.Read(readCtx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"pong"}`, string(data))
	})

	stats := listener.Stats()
	assert.EqualValues(t, 3, stats.Delivered)
	assert.EqualValues(t, 1, stats.Dropped)
}

func TestParsePayloadRef(t *testing.T) {
	tests := []struct {
		payload string
		want    int64
		ok      bool
	}{
		{`{"ref":12}`, 12, true},
		{`{"ref":0}`, 0, false},
		{`{"ref":"12"}`, 0, false},
		{`{"destination":"messages","data":{"ref":12}}`, 0, false},
		{`{"ref":`, 0, false},
		{``, 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePayloadRef(tt.payload)
		assert.Equal(t, tt.ok, ok, tt.payload)
		assert.Equal(t, tt.want, got, tt.payload)
	}
}
