package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/events"
	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
	"github.com/google/uuid"
)

// System announcements appended by the lifecycle.
const (
	agentJoinedFormat    = "Agent %s has joined the chat."
	sessionClosedMessage = "Chat session has been closed."
)

// CreateOutcome tells the caller of Create what happened.
type CreateOutcome int

// Create outcomes.
const (
	// OutcomeCreated means a new WAITING session was created and queued.
	OutcomeCreated CreateOutcome = iota
	// OutcomeRejoinedWaiting means the customer's existing WAITING session was returned.
	OutcomeRejoinedWaiting
	// OutcomeRejoinedActive means the customer's existing ACTIVE session was returned.
	OutcomeRejoinedActive
)

func (o CreateOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeRejoinedWaiting:
		return "rejoined_waiting"
	case OutcomeRejoinedActive:
		return "rejoined_active"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// CreateResult is returned by Create.
type CreateResult struct {
	Session *models.Session
	Outcome CreateOutcome
	// Position and QueueSize are set when the session is WAITING.
	Position  int
	QueueSize int
}

// SessionLifecycle is the state machine of chat sessions and the sole
// writer of session status and agent. It owns the waiting pool: every
// enqueue and removal goes through it.
type SessionLifecycle struct {
	store     SessionStore
	pool      *queue.WaitingPool
	presence  PresenceTracker
	router    *MessageRouter
	transport Transport
	now       func() time.Time

	sessionLocks  keyedMutex
	customerLocks keyedMutex
}

// NewSessionLifecycle creates the lifecycle. pool must not be shared with
// any other component.
func NewSessionLifecycle(
	st SessionStore,
	pool *queue.WaitingPool,
	presence PresenceTracker,
	router *MessageRouter,
	transport Transport,
) *SessionLifecycle {
	return &SessionLifecycle{
		store:     st,
		pool:      pool,
		presence:  presence,
		router:    router,
		transport: transport,
		now:       time.Now,
	}
}

// Create opens a WAITING session for customer, or returns the customer's
// existing open session.
func (l *SessionLifecycle) Create(ctx context.Context, customer, topic string) (*CreateResult, error) {
	if customer == "" {
		return nil, NewValidationError("username", "required")
	}
	unlock := l.customerLocks.lock(customer)
	defer unlock()

	user, err := l.store.GetUser(ctx, customer)
	if err != nil {
		return nil, translateStoreError(err)
	}

	existing, err := l.store.FindOpenSession(ctx, customer)
	switch {
	case err == nil:
		res, err := l.rejoin(ctx, existing, user)
		if !errors.Is(err, errEndedBeforeRejoin) {
			return res, err
		}
		// Ended after the lookup; the customer gets a fresh session.
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	s := &models.Session{
		ID:        uuid.New().String(),
		Customer:  customer,
		Status:    models.SessionStatusWaiting,
		Topic:     strings.TrimSpace(topic),
		StartedAt: l.now().UTC().Truncate(time.Microsecond),
	}
	if err := l.store.CreateSession(ctx, s); err != nil {
		if errors.Is(err, store.ErrOpenSessionExists) {
			// Lost a race against another replica.
			existing, ferr := l.store.FindOpenSession(ctx, customer)
			if ferr != nil {
				return nil, fmt.Errorf("failed to load concurrently created session: %w", ferr)
			}
			return l.rejoin(ctx, existing, user)
		}
		return nil, translateStoreError(err)
	}

	if _, err := l.pool.Enqueue(entryFor(s, user)); err != nil {
		return nil, fmt.Errorf("failed to enqueue session %s: %w", s.ID, err)
	}
	position, queueSize, _ := l.pool.Placement(s.ID)

	slog.Info("Chat session created",
		"session_id", s.ID, "customer", customer, "position", position, "queue_size", queueSize)

	l.broadcast(ctx, events.QueueBroadcastFrame{
		Type:        events.FrameNewStudent,
		SessionID:   s.ID,
		StudentName: user.DisplayName(),
		StudentID:   user.StudentID,
		QueueSize:   queueSize,
	})

	return &CreateResult{Session: s, Outcome: OutcomeCreated, Position: position, QueueSize: queueSize}, nil
}

// errEndedBeforeRejoin means the open session found by Create was closed
// before it could be rejoined.
var errEndedBeforeRejoin = errors.New("session ended before rejoin")

// rejoin returns the customer's open session s. A WAITING session is re-read
// under its session lock, since Assign or End may have moved it after s was
// loaded; only a session still WAITING is put back in the pool.
func (l *SessionLifecycle) rejoin(ctx context.Context, s *models.Session, user *models.User) (*CreateResult, error) {
	if s.Status == models.SessionStatusWaiting {
		unlock := l.sessionLocks.lock(s.ID)
		defer unlock()

		current, err := l.store.GetSession(ctx, s.ID)
		if err != nil {
			return nil, translateStoreError(err)
		}
		s = current
	}

	switch s.Status {
	case models.SessionStatusWaiting:
		// A WAITING session missing from the pool was created by another
		// replica or before a restart; queue it behind current entries.
		if !l.pool.Contains(s.ID) {
			if _, err := l.pool.Enqueue(entryFor(s, user)); err != nil && !errors.Is(err, queue.ErrAlreadyQueued) {
				return nil, fmt.Errorf("failed to enqueue session %s: %w", s.ID, err)
			}
		}
		position, queueSize, _ := l.pool.Placement(s.ID)
		return &CreateResult{
			Session:   s,
			Outcome:   OutcomeRejoinedWaiting,
			Position:  position,
			QueueSize: queueSize,
		}, nil
	case models.SessionStatusActive:
		return &CreateResult{Session: s, Outcome: OutcomeRejoinedActive}, nil
	case models.SessionStatusClosed:
		return nil, fmt.Errorf("%w: %s", errEndedBeforeRejoin, s.ID)
	default:
		return nil, fmt.Errorf("session %s has unknown status %q", s.ID, s.Status)
	}
}

// Assign hands a WAITING session to agent. Re-assigning an ACTIVE session to
// the same agent returns it unchanged; a different agent gets ErrConflict.
// Concurrent calls for one session are serialized, and the store update is
// conditional, so exactly one of several racing agents wins.
func (l *SessionLifecycle) Assign(ctx context.Context, sessionID, agentUsername string) (*models.Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("sessionId", "required")
	}
	unlock := l.sessionLocks.lock(sessionID)
	defer unlock()

	s, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	agent, err := l.store.GetUser(ctx, agentUsername)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !agent.IsAgent() {
		return nil, fmt.Errorf("%w: %s is not a support agent", ErrForbidden, agentUsername)
	}

	done, err := checkAssignable(s, agentUsername)
	if err != nil {
		return nil, err
	}
	if done {
		return s, nil
	}

	activated, err := l.store.ActivateSession(ctx, sessionID, agentUsername)
	if errors.Is(err, store.ErrStatusChanged) {
		// Another replica moved the session first.
		current, gerr := l.store.GetSession(ctx, sessionID)
		if gerr != nil {
			return nil, translateStoreError(gerr)
		}
		done, cerr := checkAssignable(current, agentUsername)
		if cerr != nil {
			return nil, cerr
		}
		if done {
			return current, nil
		}
		return nil, newStateError("assign", current)
	}
	if err != nil {
		return nil, translateStoreError(err)
	}
	l.pool.RemoveByID(sessionID)
	queueSize := l.pool.Size()

	if err := l.presence.SetAvailable(ctx, agentUsername, false); err != nil {
		slog.Warn("Failed to mark agent unavailable", "agent", agentUsername, "error", err)
	}

	slog.Info("Chat session assigned",
		"session_id", sessionID, "agent", agentUsername, "customer", activated.Customer, "queue_size", queueSize)

	if _, err := l.router.AppendSystem(ctx, activated, agentUsername, fmt.Sprintf(agentJoinedFormat, agent.DisplayName())); err != nil {
		slog.Error("Failed to append agent joined message", "session_id", sessionID, "error", err)
	}

	push(ctx, l.transport, activated.Customer, events.DestinationNotifications, events.AgentJoinedFrame{
		Type:      events.FrameAgentJoined,
		SessionID: sessionID,
		AgentName: agent.DisplayName(),
	})
	info := l.sessionInfo(ctx, activated, events.SessionInfoActive)
	push(ctx, l.transport, activated.Customer, events.DestinationNotifications, info)
	push(ctx, l.transport, agentUsername, events.DestinationNotifications, info)

	l.broadcast(ctx, events.QueueBroadcastFrame{
		Type:      events.FrameStudentAssigned,
		SessionID: sessionID,
		QueueSize: queueSize,
	})

	return activated, nil
}

// checkAssignable decides an assignment from the session's current status.
// done is true when the session is already ACTIVE under agent.
func checkAssignable(s *models.Session, agent string) (done bool, err error) {
	switch s.Status {
	case models.SessionStatusWaiting:
		return false, nil
	case models.SessionStatusActive:
		if s.Agent == agent {
			return true, nil
		}
		return false, fmt.Errorf("%w: session %s is handled by %s", ErrConflict, s.ID, s.Agent)
	case models.SessionStatusClosed:
		return false, newStateError("assign", s)
	default:
		return false, fmt.Errorf("session %s has unknown status %q", s.ID, s.Status)
	}
}

// End closes a session on behalf of actor, who must be a participant or an
// admin. Ending a CLOSED session fails with ErrInvalidState.
func (l *SessionLifecycle) End(ctx context.Context, sessionID, actor string) (*models.Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("sessionId", "required")
	}
	unlock := l.sessionLocks.lock(sessionID)
	defer unlock()

	s, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !s.IsParticipant(actor) {
		u, err := l.store.GetUser(ctx, actor)
		if err != nil || u.Role != models.RoleAdmin {
			return nil, fmt.Errorf("%w: %s is not a participant of session %s", ErrForbidden, actor, sessionID)
		}
	}

	switch s.Status {
	case models.SessionStatusWaiting:
	case models.SessionStatusActive:
	case models.SessionStatusClosed:
		return nil, newStateError("end", s)
	default:
		return nil, fmt.Errorf("session %s has unknown status %q", s.ID, s.Status)
	}

	closed, err := l.store.CloseSession(ctx, sessionID, l.now().UTC().Truncate(time.Microsecond))
	if errors.Is(err, store.ErrStatusChanged) {
		current, gerr := l.store.GetSession(ctx, sessionID)
		if gerr != nil {
			return nil, translateStoreError(gerr)
		}
		return nil, newStateError("end", current)
	}
	if err != nil {
		return nil, translateStoreError(err)
	}

	if s.Status == models.SessionStatusWaiting && l.pool.RemoveByID(sessionID) {
		l.broadcast(ctx, events.QueueBroadcastFrame{Type: events.FrameQueueUpdate, QueueSize: l.pool.Size()})
	}

	slog.Info("Chat session closed",
		"session_id", sessionID, "actor", actor, "previous_status", s.Status, "agent", closed.Agent)

	if _, err := l.router.AppendSystem(ctx, closed, actor, sessionClosedMessage); err != nil {
		slog.Error("Failed to append session closed message", "session_id", sessionID, "error", err)
	}
	l.router.forget(sessionID)

	if closed.HasAgent() {
		if err := l.presence.SetAvailable(ctx, closed.Agent, true); err != nil {
			slog.Warn("Failed to mark agent available", "agent", closed.Agent, "error", err)
		}
		l.broadcast(ctx, events.QueueBroadcastFrame{Type: events.FrameQueueUpdate, QueueSize: l.pool.Size()})
	}

	ended := events.SessionEndedFrame{Type: events.FrameSessionEnded, SessionID: sessionID}
	for _, to := range participants(closed) {
		push(ctx, l.transport, to, events.DestinationNotifications, ended)
	}

	return closed, nil
}

// Restore re-enqueues WAITING sessions from the store, oldest first.
// Called once at startup before any event is handled.
func (l *SessionLifecycle) Restore(ctx context.Context) (int, error) {
	waiting, err := l.store.ListWaitingSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list waiting sessions: %w", err)
	}

	restored := 0
	for _, s := range waiting {
		user, err := l.store.GetUser(ctx, s.Customer)
		if err != nil {
			slog.Warn("Skipping waiting session with unknown customer",
				"session_id", s.ID, "customer", s.Customer, "error", err)
			continue
		}
		if _, err := l.pool.Enqueue(entryFor(s, user)); err != nil {
			if errors.Is(err, queue.ErrAlreadyQueued) {
				continue
			}
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// QueueStatus returns the pool size and entries from one instant.
func (l *SessionLifecycle) QueueStatus() queue.Status {
	return l.pool.Status()
}

// PositionOf returns the 1-based queue position of a WAITING session.
func (l *SessionLifecycle) PositionOf(sessionID string) (int, bool) {
	return l.pool.PositionOf(sessionID)
}

// SessionInfo builds the SESSION_INFO frame for s with the given wire status.
func (l *SessionLifecycle) SessionInfo(ctx context.Context, s *models.Session, status string) events.SessionInfoFrame {
	return l.sessionInfo(ctx, s, status)
}

func (l *SessionLifecycle) sessionInfo(ctx context.Context, s *models.Session, status string) events.SessionInfoFrame {
	info := events.SessionInfoFrame{
		Type:         events.FrameSessionInfo,
		SessionID:    s.ID,
		Status:       status,
		CustomerName: s.Customer,
	}
	if u, err := l.store.GetUser(ctx, s.Customer); err == nil {
		info.CustomerName = u.DisplayName()
		info.CustomerID = u.StudentID
	}
	if s.HasAgent() {
		info.AgentUsername = s.Agent
		info.AgentName = s.Agent
		if u, err := l.store.GetUser(ctx, s.Agent); err == nil {
			info.AgentName = u.DisplayName()
		}
	}
	return info
}

func (l *SessionLifecycle) broadcast(ctx context.Context, frame events.QueueBroadcastFrame) {
	if err := l.transport.BroadcastQueue(ctx, frame); err != nil {
		slog.Warn("Failed to broadcast queue update", "type", frame.Type, "error", err)
	}
}

func entryFor(s *models.Session, user *models.User) queue.Entry {
	return queue.Entry{
		SessionID:    s.ID,
		Username:     s.Customer,
		StudentName:  user.DisplayName(),
		StudentID:    user.StudentID,
		StudentEmail: user.Email,
		StartedAt:    s.StartedAt,
		Topic:        s.Topic,
	}
}
