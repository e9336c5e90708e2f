package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
)

// UserStatus is the polling view of a user's chat state.
type UserStatus struct {
	Username string      `json:"username"`
	Role     models.Role `json:"role"`

	// Customer view.
	Session  *models.Session `json:"session,omitempty"`
	Position int             `json:"position,omitempty"`

	// Agent view.
	Available      *bool         `json:"available,omitempty"`
	ActiveSessions *int          `json:"activeSessions,omitempty"`
	Queue          *queue.Status `json:"queue,omitempty"`
}

// HistoryQuery is the raw filter set of the all-history listing.
type HistoryQuery struct {
	StudentName string
	AgentName   string
	Status      string
	StartDate   string
	EndDate     string
}

// ChatQueryService answers the read-only REST endpoints. It never mutates
// sessions.
type ChatQueryService struct {
	store     SessionStore
	lifecycle *SessionLifecycle
	presence  PresenceTracker
	calls     *CallLogService
	location  *time.Location
}

// NewChatQueryService creates a new ChatQueryService. Date filters are
// interpreted in loc (time.Local when nil).
func NewChatQueryService(st SessionStore, lifecycle *SessionLifecycle, presence PresenceTracker, calls *CallLogService, loc *time.Location) *ChatQueryService {
	if loc == nil {
		loc = time.Local
	}
	return &ChatQueryService{
		store:     st,
		lifecycle: lifecycle,
		presence:  presence,
		calls:     calls,
		location:  loc,
	}
}

// Status returns the current chat state of username.
func (q *ChatQueryService) Status(ctx context.Context, username string) (*UserStatus, error) {
	user, err := q.user(ctx, username)
	if err != nil {
		return nil, err
	}
	st := &UserStatus{Username: user.Username, Role: user.Role}

	if user.IsAgent() {
		active, err := q.store.SearchSessions(ctx, models.HistoryFilter{Agent: username, Status: models.SessionStatusActive})
		if err != nil {
			return nil, err
		}
		available, err := q.presence.IsAvailable(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("failed to read availability of %s: %w", username, err)
		}
		n := len(active)
		qs := q.lifecycle.QueueStatus()
		st.ActiveSessions = &n
		st.Available = &available
		st.Queue = &qs
		return st, nil
	}

	open, err := q.store.FindOpenSession(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return st, nil
	case err != nil:
		return nil, err
	}
	st.Session = open
	if open.Status == models.SessionStatusWaiting {
		st.Position, _ = q.lifecycle.PositionOf(open.ID)
	}
	return st, nil
}

// SessionMessages returns a session's transcript in sentAt order. Only the
// participants and admins may read it.
func (q *ChatQueryService) SessionMessages(ctx context.Context, sessionID, viewer string) ([]*models.Message, error) {
	s, err := q.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !s.IsParticipant(viewer) {
		u, err := q.user(ctx, viewer)
		if err != nil {
			return nil, err
		}
		if u.Role != models.RoleAdmin {
			return nil, fmt.Errorf("%w: %s may not read session %s", ErrForbidden, viewer, sessionID)
		}
	}
	return q.store.ListMessages(ctx, sessionID)
}

// History returns the viewer's own sessions, newest first: the sessions an
// agent handled, or the sessions a customer opened.
func (q *ChatQueryService) History(ctx context.Context, viewer string) ([]*models.SessionView, error) {
	u, err := q.user(ctx, viewer)
	if err != nil {
		return nil, err
	}
	filter := models.HistoryFilter{Customer: viewer}
	if u.IsAgent() {
		filter = models.HistoryFilter{Agent: viewer}
	}
	return q.store.SearchSessions(ctx, filter)
}

// AllHistory searches every session. Agents only.
func (q *ChatQueryService) AllHistory(ctx context.Context, viewer string, hq HistoryQuery) ([]*models.SessionView, error) {
	if _, err := q.requireAgent(ctx, viewer); err != nil {
		return nil, err
	}
	filter := models.HistoryFilter{
		CustomerName: hq.StudentName,
		AgentName:    hq.AgentName,
	}
	if hq.Status != "" {
		status, err := models.ParseSessionStatus(hq.Status)
		if err != nil {
			return nil, NewValidationError("status", err.Error())
		}
		filter.Status = status
	}
	filter.StartedFrom, filter.StartedUntil = models.ParseHistoryDates(hq.StartDate, hq.EndDate, q.location)
	return q.store.SearchSessions(ctx, filter)
}

// Queue returns the waiting pool snapshot. Agents only.
func (q *ChatQueryService) Queue(ctx context.Context, viewer string) (queue.Status, error) {
	if _, err := q.requireAgent(ctx, viewer); err != nil {
		return queue.Status{}, err
	}
	return q.lifecycle.QueueStatus(), nil
}

// AgentSessions returns the viewer's ACTIVE sessions. Agents only.
func (q *ChatQueryService) AgentSessions(ctx context.Context, viewer string) ([]*models.SessionView, error) {
	if _, err := q.requireAgent(ctx, viewer); err != nil {
		return nil, err
	}
	return q.store.SearchSessions(ctx, models.HistoryFilter{Agent: viewer, Status: models.SessionStatusActive})
}

// Calls lists call records, optionally for one session. Agents and admins only.
func (q *ChatQueryService) Calls(ctx context.Context, viewer, sessionID string) ([]*models.CallRecord, error) {
	u, err := q.user(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if !u.IsAgent() && u.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: %s may not list calls", ErrForbidden, viewer)
	}
	return q.calls.List(ctx, sessionID)
}

// user loads a directory user. An unknown user is a bad request rather
// than a missing resource.
func (q *ChatQueryService) user(ctx context.Context, username string) (*models.User, error) {
	if username == "" {
		return nil, NewValidationError("username", "required")
	}
	u, err := q.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewValidationError("username", fmt.Sprintf("unknown user %q", username))
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (q *ChatQueryService) requireAgent(ctx context.Context, viewer string) (*models.User, error) {
	u, err := q.user(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if !u.IsAgent() {
		return nil, fmt.Errorf("%w: %s is not a support agent", ErrForbidden, viewer)
	}
	return u, nil
}
