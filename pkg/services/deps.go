// Package services implements the live support engine: the session
// lifecycle (WAITING → ACTIVE → CLOSED) over the waiting pool, chat message
// routing, call signal relaying, and the inbound event handler that drives
// them from WebSocket actions.
package services

import (
	"context"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/models"
)

// SessionStore is the durable CRUD layer the services depend on.
// Implemented by store.Postgres and store.Memory.
type SessionStore interface {
	GetUser(ctx context.Context, username string) (*models.User, error)

	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	FindOpenSession(ctx context.Context, customer string) (*models.Session, error)
	// ActivateSession and CloseSession are conditional on the current status
	// and return store.ErrStatusChanged when the condition does not hold.
	ActivateSession(ctx context.Context, id, agent string) (*models.Session, error)
	CloseSession(ctx context.Context, id string, endedAt time.Time) (*models.Session, error)
	ListWaitingSessions(ctx context.Context) ([]*models.Session, error)
	SearchSessions(ctx context.Context, filter models.HistoryFilter) ([]*models.SessionView, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error)

	CreateCallRecord(ctx context.Context, rec *models.CallRecord) error
	GetCallRecord(ctx context.Context, callID string) (*models.CallRecord, error)
	UpdateCallRecord(ctx context.Context, rec *models.CallRecord) error
	ListCallRecords(ctx context.Context, sessionID string) ([]*models.CallRecord, error)
}

// Transport pushes frames to users. Implemented by events.LocalTransport
// and events.NotifyTransport.
type Transport interface {
	PushToUser(ctx context.Context, username, destination string, data any) error
	BroadcastQueue(ctx context.Context, data any) error
}

// PresenceTracker holds the per-agent availability flag. Implemented by
// presence.Memory, presence.Redis and store.Postgres.
type PresenceTracker interface {
	SetAvailable(ctx context.Context, agent string, available bool) error
	IsAvailable(ctx context.Context, agent string) (bool, error)
}
