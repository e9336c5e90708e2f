package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/config"
	"github.com/codeready-toolchain/supportdesk/pkg/events"
	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inbound(t *testing.T, action string, data any) *events.ClientMessage {
	t.Helper()
	msg := &events.ClientMessage{Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = raw
	}
	return msg
}

func (e *testEnv) send(t *testing.T, user, action string, data any) {
	t.Helper()
	e.handler.HandleInbound(context.Background(), user, inbound(t, action, data))
}

func TestEventHandler_PanicBecomesErrorFrame(t *testing.T) {
	hs := &hookedStore{}
	env := newTestEnvWithStore(t, func(m *store.Memory) SessionStore { hs.Memory = m; return hs })
	hs.onGetUser = func(string) { panic("directory unavailable") }

	require.NotPanics(t, func() {
		env.send(t, "alice", events.ActionChatStart, nil)
	})
	assert.Equal(t, []string{"internal error"}, env.transport.errorsTo("alice"))
	assert.Equal(t, 0, env.pool.Size())

	hs.onGetUser = nil
	env.send(t, "alice", events.ActionChatStart, nil)
	frames := env.transport.to("alice", events.DestinationNotifications)
	require.Len(t, frames, 2)
	assert.IsType(t, events.QueuePositionFrame{}, frames[1])
}

func TestEventHandler_Chat(t *testing.T) {
	ctx := context.Background()

	t.Run("start replies with the queue position", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, "bob", events.ActionChatStart, nil)
		env.send(t, "alice", events.ActionChatStart, map[string]string{"username": "alice", "topic": "fees"})

		frames := env.transport.to("alice", events.DestinationNotifications)
		require.Len(t, frames, 1)
		pos, ok := frames[0].(events.QueuePositionFrame)
		require.True(t, ok)
		assert.Equal(t, events.FrameQueuePosition, pos.Type)
		assert.Equal(t, 2, pos.Position)
		assert.Equal(t, 2, pos.QueueSize)

		env.send(t, "alice", events.ActionChatStart, nil)
		frames = env.transport.to("alice", events.DestinationNotifications)
		require.Len(t, frames, 2)
		assert.Equal(t, pos, frames[1], "rejoin reports the same position")
	})

	t.Run("start on an active session reconnects", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.activeChat(t, "alice", "agent-x")
		env.transport.reset()

		env.send(t, "alice", events.ActionChatStart, nil)
		frames := env.transport.to("alice", events.DestinationNotifications)
		require.Len(t, frames, 1)
		info, ok := frames[0].(events.SessionInfoFrame)
		require.True(t, ok)
		assert.Equal(t, events.SessionInfoReconnected, info.Status)
		assert.Equal(t, s.ID, info.SessionID)
		assert.Equal(t, "Xavier Agent", info.AgentName)
	})

	t.Run("accept message end", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.startChat(t, "alice")

		env.send(t, "agent-x", events.ActionChatAccept, map[string]string{"agentUsername": "agent-x", "sessionId": s.ID})
		env.send(t, "alice", events.ActionChatMessage, map[string]string{"sessionId": s.ID, "content": "hello", "type": "image"})
		env.send(t, "agent-x", events.ActionChatEnd, map[string]string{"sessionId": s.ID})

		assert.Empty(t, env.transport.errorsTo("alice"))
		assert.Empty(t, env.transport.errorsTo("agent-x"))

		stored, err := env.store.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusClosed, stored.Status)
		assert.Equal(t, "agent-x", stored.Agent)

		history, err := env.store.ListMessages(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "hello", history[1].Content)
		assert.Equal(t, models.MessageTypeImage, history[1].Type)
	})

	t.Run("unknown message type falls back to text", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.activeChat(t, "alice", "agent-x")
		env.send(t, "alice", events.ActionChatMessage, map[string]string{"sessionId": s.ID, "content": "hi", "type": "sticker"})

		history, err := env.store.ListMessages(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MessageTypeText, history[len(history)-1].Type)
	})

	t.Run("queue status", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.startChat(t, "alice")

		env.send(t, "agent-x", events.ActionChatQueueStatus, nil)
		frames := env.transport.to("agent-x", events.DestinationStatus)
		require.Len(t, frames, 1)
		st, ok := frames[0].(queue.Status)
		require.True(t, ok)
		assert.Equal(t, 1, st.Size)
		require.Len(t, st.Entries, 1)
		assert.Equal(t, s.ID, st.Entries[0].SessionID)
	})

	errorCases := []struct {
		name   string
		user   string
		action string
		data   func(s *models.Session) any
		want   string
	}{
		{
			name: "impersonated start", user: "alice", action: events.ActionChatStart,
			data: func(*models.Session) any { return map[string]string{"username": "bob"} },
			want: "does not match",
		},
		{
			name: "student accepting", user: "bob", action: events.ActionChatAccept,
			data: func(s *models.Session) any { return map[string]string{"sessionId": s.ID} },
			want: "not a support agent",
		},
		{
			name: "accept without session", user: "agent-x", action: events.ActionChatAccept,
			data: func(*models.Session) any { return map[string]string{} },
			want: "sessionId",
		},
		{
			name: "client system message", user: "alice", action: events.ActionChatMessage,
			data: func(s *models.Session) any {
				return map[string]string{"sessionId": s.ID, "content": "x", "type": "SYSTEM"}
			},
			want: "system messages",
		},
		{
			name: "outsider message", user: "bob", action: events.ActionChatMessage,
			data: func(s *models.Session) any { return map[string]string{"sessionId": s.ID, "content": "x"} },
			want: "not a participant",
		},
		{
			name: "outsider end", user: "bob", action: events.ActionChatEnd,
			data: func(s *models.Session) any { return map[string]string{"sessionId": s.ID} },
			want: "not a participant",
		},
		{
			name: "unknown action", user: "alice", action: "chat.dance",
			data: func(*models.Session) any { return nil },
			want: "unknown action",
		},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			s := env.startChat(t, "alice")
			env.transport.reset()

			env.send(t, tt.user, tt.action, tt.data(s))
			errs := env.transport.errorsTo(tt.user)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
		})
	}

	t.Run("malformed data", func(t *testing.T) {
		env := newTestEnv(t)
		env.handler.HandleInbound(ctx, "alice", &events.ClientMessage{
			Action: events.ActionChatStart,
			Data:   json.RawMessage(`["not","an","object"]`),
		})
		errs := env.transport.errorsTo("alice")
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "invalid payload")
	})

	t.Run("second end reports the closed state", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.startChat(t, "alice")
		env.send(t, "alice", events.ActionChatEnd, map[string]string{"sessionId": s.ID})
		env.send(t, "alice", events.ActionChatEnd, map[string]string{"sessionId": s.ID})

		errs := env.transport.errorsTo("alice")
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "CLOSED")
	})
}

func TestEventHandler_Calls(t *testing.T) {
	ctx := context.Background()

	t.Run("relays and records a call", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, "agent-x", events.ActionCallRequest, map[string]string{"callId": "c-1", "to": "alice", "sessionId": "s-1"})
		env.send(t, "alice", events.ActionCallAccept, map[string]string{"callId": "c-1", "from": "alice", "to": "agent-x"})
		env.handler.HandleInbound(ctx, "agent-x", &events.ClientMessage{
			Action: events.ActionCallOffer,
			Data:   json.RawMessage(`{"callId":"c-1","to":"alice","sdp":{"type":"offer","sdp":"v=0"}}`),
		})
		env.send(t, "alice", events.ActionCallEnd, map[string]string{"callId": "c-1", "to": "agent-x"})

		toAlice := env.transport.to("alice", events.DestinationCall)
		require.Len(t, toAlice, 2)
		offer, ok := toAlice[1].(events.CallFrame)
		require.True(t, ok)
		assert.Equal(t, events.FrameWebRTCOffer, offer.Type)
		assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer.SDP))

		toAgent := env.transport.to("agent-x", events.DestinationCall)
		require.Len(t, toAgent, 2)

		rec, err := env.store.GetCallRecord(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, models.CallStatusCompleted, rec.Status)
		assert.Equal(t, "s-1", rec.SessionID)
	})

	t.Run("offline peer is reported to the caller", func(t *testing.T) {
		env := newTestEnv(t)
		env.transport.setOffline("alice")
		env.send(t, "agent-x", events.ActionCallRequest, map[string]string{"callId": "c-2", "to": "alice"})

		errs := env.transport.errorsTo("agent-x")
		require.Len(t, errs, 1)
		assert.Equal(t, "user alice is not connected", errs[0])

		rec, err := env.store.GetCallRecord(ctx, "c-2")
		require.NoError(t, err)
		assert.Equal(t, models.CallStatusInitiated, rec.Status)
	})

	t.Run("forged sender is refused", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, "bob", events.ActionCallRequest, map[string]string{"callId": "c-3", "from": "agent-x", "to": "alice"})

		assert.Empty(t, env.transport.to("alice", events.DestinationCall))
		require.Len(t, env.transport.errorsTo("bob"), 1)
	})

	t.Run("missing call id", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, "bob", events.ActionCallEnd, map[string]string{"to": "alice"})

		errs := env.transport.errorsTo("bob")
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "callId")
	})
}

func TestEventHandler_Dispatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t)
	d := queue.NewDispatcher("test", &config.DispatcherConfig{WorkerCount: 4, QueueSize: 16, GracefulShutdownTimeout: time.Second})
	d.Start(ctx)
	handler := NewEventHandler(env.lifecycle, env.router, env.relay, env.calls, env.transport, d)

	s := env.activeChat(t, "alice", "agent-x")
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		handler.HandleInbound(ctx, "alice", inbound(t, events.ActionChatMessage, map[string]string{"sessionId": s.ID, "content": content}))
	}

	require.Eventually(t, func() bool {
		msgs, err := env.store.ListMessages(ctx, s.ID)
		return err == nil && len(msgs) == 6
	}, 5*time.Second, 10*time.Millisecond)

	msgs, err := env.store.ListMessages(ctx, s.ID)
	require.NoError(t, err)
	var got []string
	for _, m := range msgs[1:] {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"one", "two", "three", "four", "five"}, got, "one session is handled in order")

	d.Stop()
	handler.HandleInbound(ctx, "alice", inbound(t, events.ActionChatQueueStatus, nil))
	errs := env.transport.errorsTo("alice")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "event not accepted")
}
