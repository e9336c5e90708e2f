package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
	"github.com/codeready-toolchain/supportdesk/pkg/services"
)

func TestChatStatusHandler(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	t.Run("student without session", func(t *testing.T) {
		rec := s.get(t, "/api/chat/status", "bob")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[services.UserStatus](t, rec)
		assert.Equal(t, models.RoleStudent, got.Role)
		assert.Nil(t, got.Session)
	})

	res, err := s.lifecycle.Create(ctx, "alice", "grades")
	require.NoError(t, err)

	t.Run("waiting student", func(t *testing.T) {
		rec := s.get(t, "/api/chat/status", "alice")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[services.UserStatus](t, rec)
		require.NotNil(t, got.Session)
		assert.Equal(t, res.Session.ID, got.Session.ID)
		assert.Equal(t, 1, got.Position)
	})

	t.Run("agent", func(t *testing.T) {
		rec := s.get(t, "/api/chat/status", "agent-x")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[services.UserStatus](t, rec)
		require.NotNil(t, got.ActiveSessions)
		require.NotNil(t, got.Queue)
		assert.Equal(t, 0, *got.ActiveSessions)
		assert.Equal(t, 1, got.Queue.Size)
	})

	t.Run("unknown user is a bad request", func(t *testing.T) {
		rec := s.get(t, "/api/chat/status", "mallory")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChatQueueHandler(t *testing.T) {
	s := newTestStack(t)
	_, err := s.lifecycle.Create(context.Background(), "alice", "exam")
	require.NoError(t, err)

	rec := s.get(t, "/api/chat/queue", "agent-x")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[queue.Status](t, rec)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "S-100", got.Entries[0].StudentID)
	assert.Equal(t, "exam", got.Entries[0].Topic)

	rec = s.get(t, "/api/chat/queue", "alice")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionMessagesHandler(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	res, err := s.lifecycle.Create(ctx, "alice", "")
	require.NoError(t, err)
	_, err = s.lifecycle.Assign(ctx, res.Session.ID, "agent-x")
	require.NoError(t, err)
	_, err = s.router.Send(ctx, res.Session.ID, "alice", "hello", models.MessageTypeText)
	require.NoError(t, err)

	path := "/api/chat/session/" + res.Session.ID + "/messages"
	tests := []struct {
		name     string
		user     string
		wantCode int
	}{
		{"customer", "alice", http.StatusOK},
		{"agent", "agent-x", http.StatusOK},
		{"admin", "root", http.StatusOK},
		{"other student", "bob", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.get(t, path, tt.user)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	rec := s.get(t, path, "alice")
	msgs := decode[[]models.Message](t, rec)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "hello", msgs[len(msgs)-1].Content)

	rec = s.get(t, "/api/chat/session/missing/messages", "alice")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryHandlers(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	res, err := s.lifecycle.Create(ctx, "alice", "")
	require.NoError(t, err)
	_, err = s.lifecycle.Assign(ctx, res.Session.ID, "agent-x")
	require.NoError(t, err)
	_, err = s.lifecycle.Create(ctx, "bob", "")
	require.NoError(t, err)

	t.Run("own history", func(t *testing.T) {
		rec := s.get(t, "/api/chat/history", "alice")
		require.Equal(t, http.StatusOK, rec.Code)
		views := decode[[]models.SessionView](t, rec)
		require.Len(t, views, 1)
		assert.Equal(t, res.Session.ID, views[0].ID)
	})

	t.Run("agent sessions", func(t *testing.T) {
		rec := s.get(t, "/api/chat/agent/sessions", "agent-x")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]models.SessionView](t, rec), 1)
	})

	t.Run("all history filtered", func(t *testing.T) {
		rec := s.get(t, "/api/chat/history/all?studentName=BOB&status=waiting", "agent-x")
		require.Equal(t, http.StatusOK, rec.Code)
		views := decode[[]models.SessionView](t, rec)
		require.Len(t, views, 1)
		assert.Equal(t, "bob", views[0].Customer)
	})

	t.Run("all history bad status", func(t *testing.T) {
		rec := s.get(t, "/api/chat/history/all?status=bogus", "agent-x")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("all history requires agent", func(t *testing.T) {
		rec := s.get(t, "/api/chat/history/all", "alice")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestCallsHandler(t *testing.T) {
	s := newTestStack(t)

	rec := s.get(t, "/api/chat/calls?sessionId=s1", "root")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.CallRecord](t, rec))

	rec = s.get(t, "/api/chat/calls", "alice")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
