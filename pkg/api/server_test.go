package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/supportdesk/pkg/config"
	"github.com/codeready-toolchain/supportdesk/pkg/events"
	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/presence"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
	"github.com/codeready-toolchain/supportdesk/pkg/services"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testStack struct {
	server     *Server
	store      *store.Memory
	lifecycle  *services.SessionLifecycle
	router     *services.MessageRouter
	dispatcher *queue.Dispatcher
	manager    *events.ConnectionManager
}

// newTestStack wires the full in-process stack on the memory store.
func newTestStack(t *testing.T) *testStack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := store.NewMemory()
	for _, u := range []*models.User{
		{Username: "alice", FullName: "Alice Adams", Role: models.RoleStudent, StudentID: "S-100"},
		{Username: "bob", FullName: "Bob Brown", Role: models.RoleStudent, StudentID: "S-200"},
		{Username: "agent-x", FullName: "Xavier Agent", Role: models.RoleSupportAgent},
		{Username: "root", FullName: "Site Admin", Role: models.RoleAdmin},
	} {
		require.NoError(t, st.UpsertUser(ctx, u))
	}

	cfg := &config.Config{
		Server:     config.DefaultServerConfig(),
		Dispatcher: &config.DispatcherConfig{WorkerCount: 2, QueueSize: 8, GracefulShutdownTimeout: time.Second},
		Transport:  config.DefaultTransportConfig(),
		Presence:   &config.PresenceConfig{Backend: config.PresenceBackendMemory},
		Store:      &config.StoreConfig{Backend: config.StoreBackendMemory},
		Turn:       &config.TurnConfig{APIKey: "turn-key", Endpoint: "https://turn.example/credentials"},
	}
	cfg.Server.AllowQueryIdentity = true

	manager := events.NewConnectionManager(5 * time.Second)
	transport := events.NewLocalTransport(manager)
	pres := presence.NewMemory()
	router := services.NewMessageRouter(st, transport)
	lifecycle := services.NewSessionLifecycle(st, queue.NewWaitingPool(), pres, router, transport)
	relay := services.NewCallSignalRelay(transport)
	calls := services.NewCallLogService(st)

	dispatcher := queue.NewDispatcher("test", cfg.Dispatcher)
	dispatcher.Start(ctx)
	t.Cleanup(dispatcher.Stop)

	manager.SetHandler(services.NewEventHandler(lifecycle, router, relay, calls, transport, dispatcher))
	query := services.NewChatQueryService(st, lifecycle, pres, calls, time.UTC)

	return &testStack{
		server:     NewServer(cfg, nil, query, dispatcher, manager),
		store:      st,
		lifecycle:  lifecycle,
		router:     router,
		dispatcher: dispatcher,
		manager:    manager,
	}
}

// get performs a GET as user (no identity header when user is empty).
func (s *testStack) get(t *testing.T, path, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-Forwarded-User", user)
	}
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", services.NewValidationError("username", "required"), http.StatusBadRequest},
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", errors.Join(errors.New("ctx"), services.ErrNotFound), http.StatusNotFound},
		{"forbidden", services.ErrForbidden, http.StatusForbidden},
		{"conflict", services.ErrConflict, http.StatusConflict},
		{"state error", &services.StateError{SessionID: "s1", Current: models.SessionStatusClosed, Op: "end"}, http.StatusConflict},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := mapServiceError(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestExtractIdentity(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		query      string
		allowQuery bool
		want       string
	}{
		{"forwarded user wins", map[string]string{"X-Forwarded-User": "alice", "X-Remote-User": "bob"}, "", false, "alice"},
		{"remote user", map[string]string{"X-Remote-User": "bob"}, "", false, "bob"},
		{"query ignored by default", nil, "username=carol", false, ""},
		{"query when allowed", nil, "username=carol", true, "carol"},
		{"blank header falls through", map[string]string{"X-Forwarded-User": "  "}, "username=carol", true, "carol"},
		{"nothing", nil, "", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractIdentity(c, tt.allowQuery))
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestStack(t)
	rec := s.get(t, "/health", "")

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Contains(t, rec.Header().Get("Permissions-Policy"), "microphone=(self)")
}

func TestRequireIdentity(t *testing.T) {
	s := newTestStack(t)

	rec := s.get(t, "/api/chat/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication required", decode[ErrorResponse](t, rec).Error)

	// The query fallback only applies to the WebSocket upgrade.
	rec = s.get(t, "/api/chat/status?username=alice", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTurnConfigHandler(t *testing.T) {
	s := newTestStack(t)
	rec := s.get(t, "/api/turn-config", "alice")

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[TurnConfigResponse](t, rec)
	assert.Equal(t, "turn-key", got.APIKey)
	assert.Equal(t, "https://turn.example/credentials", got.Endpoint)
}
