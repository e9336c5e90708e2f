package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/events"
	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/google/uuid"
)

// MessageRouter appends chat messages to a session and pushes them to the
// session's participants.
type MessageRouter struct {
	store     SessionStore
	transport Transport
	clock     *sessionClock
}

// NewMessageRouter creates a new MessageRouter.
func NewMessageRouter(st SessionStore, transport Transport) *MessageRouter {
	return &MessageRouter{
		store:     st,
		transport: transport,
		clock:     newSessionClock(time.Now),
	}
}

// Send persists a message from sender and pushes it to both participants.
// Delivery is best-effort: a participant without a connection still finds
// the message in the session history.
func (r *MessageRouter) Send(ctx context.Context, sessionID, sender, content string, msgType models.MessageType) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, NewValidationError("content", "required")
	}
	switch msgType {
	case models.MessageTypeText, models.MessageTypeFile, models.MessageTypeImage:
	case models.MessageTypeSystem:
		return nil, NewValidationError("type", "system messages are generated by the server")
	default:
		return nil, NewValidationError("type", fmt.Sprintf("unknown message type %q", msgType))
	}

	s, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !s.IsParticipant(sender) {
		return nil, fmt.Errorf("%w: %s is not a participant of session %s", ErrForbidden, sender, sessionID)
	}
	switch s.Status {
	case models.SessionStatusWaiting, models.SessionStatusActive:
	case models.SessionStatusClosed:
		return nil, newStateError("send a message to", s)
	default:
		return nil, fmt.Errorf("session %s has unknown status %q", s.ID, s.Status)
	}

	return r.deliver(ctx, s, sender, content, msgType)
}

// AppendSystem records a lifecycle announcement triggered by actor and
// pushes it to both participants.
func (r *MessageRouter) AppendSystem(ctx context.Context, s *models.Session, actor, content string) (*models.Message, error) {
	return r.deliver(ctx, s, actor, content, models.MessageTypeSystem)
}

func (r *MessageRouter) deliver(ctx context.Context, s *models.Session, sender, content string, msgType models.MessageType) (*models.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	msg := &models.Message{
		ID:        id.String(),
		SessionID: s.ID,
		Sender:    sender,
		Content:   content,
		Type:      msgType,
		SentAt:    r.clock.next(s.ID),
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, translateStoreError(err)
	}

	frame := events.MessageFrame{
		SessionID:      s.ID,
		MessageID:      msg.ID,
		Content:        msg.Content,
		SenderUsername: msg.Sender,
		SenderName:     r.displayName(ctx, msg.Sender),
		Timestamp:      msg.SentAt.Format(time.RFC3339Nano),
		Type:           string(msg.Type),
	}
	for _, to := range participants(s) {
		push(ctx, r.transport, to, events.DestinationMessages, frame)
	}
	return msg, nil
}

// forget drops the per-session ordering state of a closed session.
func (r *MessageRouter) forget(sessionID string) {
	r.clock.forget(sessionID)
}

func (r *MessageRouter) displayName(ctx context.Context, username string) string {
	u, err := r.store.GetUser(ctx, username)
	if err != nil {
		return username
	}
	return u.DisplayName()
}

// participants returns the customer and, once assigned, the agent.
func participants(s *models.Session) []string {
	if s.HasAgent() {
		return []string{s.Customer, s.Agent}
	}
	return []string{s.Customer}
}

// push delivers a frame and logs failures. A missing connection is normal
// (the user closed the tab) and only logged at debug level.
func push(ctx context.Context, t Transport, to, destination string, data any) {
	err := t.PushToUser(ctx, to, destination, data)
	switch {
	case err == nil:
	case errors.Is(err, events.ErrNotConnected):
		slog.Debug("Push skipped, user not connected", "username", to, "destination", destination)
	default:
		slog.Warn("Failed to push frame", "username", to, "destination", destination, "error", err)
	}
}

// sessionClock hands out strictly increasing sentAt values per session, at
// the microsecond precision PostgreSQL stores.
type sessionClock struct {
	now  func() time.Time
	mu   sync.Mutex
	last map[string]time.Time
}

func newSessionClock(now func() time.Time) *sessionClock {
	return &sessionClock{now: now, last: make(map[string]time.Time)}
}

func (c *sessionClock) next(sessionID string) time.Time {
	t := c.now().UTC().Truncate(time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[sessionID]; ok && !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	c.last[sessionID] = t
	return t
}

func (c *sessionClock) forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, sessionID)
}
