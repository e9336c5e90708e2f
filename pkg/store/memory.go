package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/models"
)

// Memory is an in-process store. State is lost on restart.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	calls    map[string]*models.CallRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
		calls:    make(map[string]*models.CallRecord),
	}
}

// GetUser returns the directory entry for username.
func (m *Memory) GetUser(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	c := *u
	return &c, nil
}

// UpsertUser inserts or replaces a directory entry. Availability is kept
// from the existing row.
func (m *Memory) UpsertUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *user
	if existing, ok := m.users[user.Username]; ok {
		c.Available = existing.Available
	}
	m.users[user.Username] = &c
	return nil
}

// SetAvailable records an agent's availability flag.
func (m *Memory) SetAvailable(_ context.Context, username string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		return fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	u.Available = available
	return nil
}

// IsAvailable reports an agent's availability flag.
func (m *Memory) IsAvailable(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[username]
	if !ok {
		return false, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return u.Available, nil
}

// CreateSession persists a new session.
func (m *Memory) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[s.Customer]; !ok {
		return fmt.Errorf("customer %s: %w", s.Customer, ErrNotFound)
	}
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrDuplicate)
	}
	for _, existing := range m.sessions {
		if existing.Customer == s.Customer && existing.Status != models.SessionStatusClosed {
			return ErrOpenSessionExists
		}
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// GetSession returns a session by id.
func (m *Memory) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

// FindOpenSession returns the customer's non-CLOSED session.
func (m *Memory) FindOpenSession(_ context.Context, customer string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Customer == customer && s.Status != models.SessionStatusClosed {
			return s.Clone(), nil
		}
	}
	return nil, fmt.Errorf("open session for %s: %w", customer, ErrNotFound)
}

// ActivateSession moves a WAITING session to ACTIVE under agent.
func (m *Memory) ActivateSession(_ context.Context, id, agent string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if s.Status != models.SessionStatusWaiting {
		return nil, fmt.Errorf("session %s is %s: %w", id, s.Status, ErrStatusChanged)
	}
	s.Agent = agent
	s.Status = models.SessionStatusActive
	return s.Clone(), nil
}

// CloseSession moves a non-CLOSED session to CLOSED.
func (m *Memory) CloseSession(_ context.Context, id string, endedAt time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if s.Status == models.SessionStatusClosed {
		return nil, fmt.Errorf("session %s is %s: %w", id, s.Status, ErrStatusChanged)
	}
	s.Status = models.SessionStatusClosed
	s.EndedAt = &endedAt
	return s.Clone(), nil
}

// ListWaitingSessions returns WAITING sessions, oldest first.
func (m *Memory) ListWaitingSessions(_ context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if s.Status == models.SessionStatusWaiting {
			out = append(out, s.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b *models.Session) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out, nil
}

// SearchSessions returns sessions matching filter, newest first.
func (m *Memory) SearchSessions(_ context.Context, filter models.HistoryFilter) ([]*models.SessionView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.SessionView
	for _, s := range m.sessions {
		view := m.viewLocked(s)
		if matches(view, filter) {
			out = append(out, view)
		}
	}
	slices.SortStableFunc(out, func(a, b *models.SessionView) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out, nil
}

func (m *Memory) viewLocked(s *models.Session) *models.SessionView {
	view := &models.SessionView{Session: s.Clone()}
	if u, ok := m.users[s.Customer]; ok {
		view.CustomerName = u.FullName
		view.CustomerID = u.StudentID
	}
	if u, ok := m.users[s.Agent]; ok && s.HasAgent() {
		view.AgentName = u.FullName
	}
	return view
}

func matches(v *models.SessionView, f models.HistoryFilter) bool {
	switch {
	case f.Customer != "" && v.Customer != f.Customer:
		return false
	case f.Agent != "" && v.Agent != f.Agent:
		return false
	case f.Status != "" && v.Status != f.Status:
		return false
	case f.CustomerName != "" && !containsFold(v.CustomerName, f.CustomerName):
		return false
	case f.AgentName != "" && !containsFold(v.AgentName, f.AgentName):
		return false
	case f.StartedFrom != nil && v.StartedAt.Before(*f.StartedFrom):
		return false
	case f.StartedUntil != nil && v.StartedAt.After(*f.StartedUntil):
		return false
	default:
		return true
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// AppendMessage adds a message to its session's transcript.
func (m *Memory) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", msg.SessionID, ErrNotFound)
	}
	c := *msg
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &c)
	return nil
}

// ListMessages returns a session's transcript ordered by sentAt.
func (m *Memory) ListMessages(_ context.Context, sessionID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	out := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		c := *msg
		out = append(out, &c)
	}
	slices.SortStableFunc(out, func(a, b *models.Message) int {
		return a.SentAt.Compare(b.SentAt)
	})
	return out, nil
}

// CreateCallRecord persists a new call record.
func (m *Memory) CreateCallRecord(_ context.Context, rec *models.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[rec.CallID]; ok {
		return fmt.Errorf("call %s: %w", rec.CallID, ErrDuplicate)
	}
	m.calls[rec.CallID] = cloneCall(rec)
	return nil
}

// GetCallRecord returns the record for a client-supplied call id.
func (m *Memory) GetCallRecord(_ context.Context, callID string) (*models.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	return cloneCall(rec), nil
}

// UpdateCallRecord replaces the status and end fields of a record.
func (m *Memory) UpdateCallRecord(_ context.Context, rec *models.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.calls[rec.CallID]
	if !ok {
		return fmt.Errorf("call %s: %w", rec.CallID, ErrNotFound)
	}
	existing.Status = rec.Status
	existing.EndedAt = rec.EndedAt
	existing.DurationSeconds = rec.DurationSeconds
	return nil
}

// ListCallRecords returns call records newest first, optionally for one session.
func (m *Memory) ListCallRecords(_ context.Context, sessionID string) ([]*models.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.CallRecord
	for _, rec := range m.calls {
		if sessionID == "" || rec.SessionID == sessionID {
			out = append(out, cloneCall(rec))
		}
	}
	slices.SortStableFunc(out, func(a, b *models.CallRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out, nil
}

func cloneCall(rec *models.CallRecord) *models.CallRecord {
	c := *rec
	if rec.EndedAt != nil {
		t := *rec.EndedAt
		c.EndedAt = &t
	}
	return &c
}
