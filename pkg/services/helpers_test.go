package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/events"
	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/presence"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
	"github.com/stretchr/testify/require"
)

type pushed struct {
	To          string
	Destination string
	Data        any
}

// recordingTransport records pushes. Users listed in offline get
// events.ErrNotConnected.
type recordingTransport struct {
	mu         sync.Mutex
	offline    map[string]bool
	pushes     []pushed
	broadcasts []any
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{offline: make(map[string]bool)}
}

func (r *recordingTransport) PushToUser(_ context.Context, username, destination string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline[username] {
		return fmt.Errorf("%w: %s", events.ErrNotConnected, username)
	}
	r.pushes = append(r.pushes, pushed{To: username, Destination: destination, Data: data})
	return nil
}

func (r *recordingTransport) BroadcastQueue(_ context.Context, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, data)
	return nil
}

func (r *recordingTransport) setOffline(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline[username] = true
}

func (r *recordingTransport) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = nil
	r.broadcasts = nil
}

// to returns the frames pushed to username on destination, in order.
func (r *recordingTransport) to(username, destination string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, p := range r.pushes {
		if p.To == username && p.Destination == destination {
			out = append(out, p.Data)
		}
	}
	return out
}

func (r *recordingTransport) broadcastFrames() []events.QueueBroadcastFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.QueueBroadcastFrame
	for _, b := range r.broadcasts {
		if f, ok := b.(events.QueueBroadcastFrame); ok {
			out = append(out, f)
		}
	}
	return out
}

func (r *recordingTransport) errorsTo(username string) []string {
	var out []string
	for _, f := range r.to(username, events.DestinationNotifications) {
		if e, ok := f.(events.ErrorFrame); ok {
			out = append(out, e.Message)
		}
	}
	return out
}

// syncSubmitter runs jobs inline.
type syncSubmitter struct{}

func (syncSubmitter) Submit(ctx context.Context, job queue.Job) error {
	job.Run(ctx)
	return nil
}

type testEnv struct {
	store     *store.Memory
	pool      *queue.WaitingPool
	presence  *presence.Memory
	transport *recordingTransport
	router    *MessageRouter
	lifecycle *SessionLifecycle
	relay     *CallSignalRelay
	calls     *CallLogService
	handler   *EventHandler
	query     *ChatQueryService
}

var testUsers = []*models.User{
	{Username: "alice", FullName: "Alice Adams", Email: "alice@uni.example", Role: models.RoleStudent, StudentID: "S-100"},
	{Username: "bob", FullName: "Bob Brown", Email: "bob@uni.example", Role: models.RoleStudent, StudentID: "S-200"},
	{Username: "agent-x", FullName: "Xavier Agent", Role: models.RoleSupportAgent},
	{Username: "agent-y", FullName: "Yvonne Agent", Role: models.RoleSupportAgent},
	{Username: "root", FullName: "Site Admin", Role: models.RoleAdmin},
	{Username: "carol", FullName: "Carol Teacher", Role: models.RoleTeacher},
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithStore(t, func(m *store.Memory) SessionStore { return m })
}

// newTestEnvWithStore builds the services over wrap(memory store), so tests
// can intercept store calls. env.store is always the underlying memory store.
func newTestEnvWithStore(t *testing.T, wrap func(*store.Memory) SessionStore) *testEnv {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	for _, u := range testUsers {
		require.NoError(t, mem.UpsertUser(ctx, u))
	}
	st := wrap(mem)

	env := &testEnv{
		store:     mem,
		pool:      queue.NewWaitingPool(),
		presence:  presence.NewMemory(),
		transport: newRecordingTransport(),
	}
	env.router = NewMessageRouter(st, env.transport)
	env.lifecycle = NewSessionLifecycle(st, env.pool, env.presence, env.router, env.transport)
	env.lifecycle.now = steppingClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), time.Second)
	env.relay = NewCallSignalRelay(env.transport)
	env.calls = NewCallLogService(st)
	env.handler = NewEventHandler(env.lifecycle, env.router, env.relay, env.calls, env.transport, syncSubmitter{})
	env.query = NewChatQueryService(st, env.lifecycle, env.presence, env.calls, nil)
	return env
}

// startChat creates a WAITING session for customer.
func (e *testEnv) startChat(t *testing.T, customer string) *models.Session {
	t.Helper()
	res, err := e.lifecycle.Create(context.Background(), customer, "")
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)
	return res.Session
}

// activeChat creates a session for customer and assigns it to agent.
func (e *testEnv) activeChat(t *testing.T, customer, agent string) *models.Session {
	t.Helper()
	s := e.startChat(t, customer)
	active, err := e.lifecycle.Assign(context.Background(), s.ID, agent)
	require.NoError(t, err)
	return active
}

// steppingClock returns a clock that advances by step on every reading.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

// hookedStore runs callbacks around selected store calls.
type hookedStore struct {
	*store.Memory

	// afterFindOpen runs once, after the first successful FindOpenSession.
	afterFindOpen func(s *models.Session)
	// onGetUser runs before every GetUser.
	onGetUser func(username string)
}

func (h *hookedStore) FindOpenSession(ctx context.Context, customer string) (*models.Session, error) {
	s, err := h.Memory.FindOpenSession(ctx, customer)
	if err == nil && h.afterFindOpen != nil {
		hook := h.afterFindOpen
		h.afterFindOpen = nil
		hook(s)
	}
	return s, err
}

func (h *hookedStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	if h.onGetUser != nil {
		h.onGetUser(username)
	}
	return h.Memory.GetUser(ctx, username)
}
