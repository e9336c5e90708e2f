package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/codeready-toolchain/supportdesk/pkg/database"
	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	tableUsers    = "users"
	tableSessions = "chat_sessions"
	tableMessages = "chat_messages"
	tableCalls    = "call_records"

	openSessionIndex = "chatsession_customer_username_open"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var (
	userColumns    = []string{"username", "email", "full_name", "role", "student_id", "available"}
	sessionColumns = []string{"id", "customer_username", "agent_username", "status", "topic", "started_at", "ended_at", "rating", "feedback"}
	messageColumns = []string{"id", "session_id", "sender_username", "content", "message_type", "sent_at"}
	callColumns    = []string{"id", "call_id", "caller_username", "receiver_username", "session_id", "call_type", "status", "started_at", "ended_at", "duration_seconds"}
)

// Postgres is the PostgreSQL-backed store. Queries are assembled with ent's
// SQL builder and executed on the client's pool.
type Postgres struct {
	db *stdsql.DB
}

// NewPostgres creates a store over an already-migrated database.
func NewPostgres(client *database.Client) *Postgres {
	return &Postgres{db: client.DB()}
}

func builder() *sql.DialectBuilder {
	return sql.Dialect(dialect.Postgres)
}

func (p *Postgres) exec(ctx context.Context, query string, args []any) (int64, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetUser returns the directory entry for username.
func (p *Postgres) GetUser(ctx context.Context, username string) (*models.User, error) {
	query, args := builder().Select(userColumns...).
		From(sql.Table(tableUsers)).
		Where(sql.EQ("username", username)).
		Query()

	u, err := scanUser(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", username, err)
	}
	return u, nil
}

// UpsertUser inserts or updates a directory entry. Availability on an
// existing row is left alone.
func (p *Postgres) UpsertUser(ctx context.Context, user *models.User) error {
	query, args := builder().Insert(tableUsers).
		Columns(userColumns...).
		Values(user.Username, user.Email, user.FullName, string(user.Role), nullString(user.StudentID), user.Available).
		OnConflict(
			sql.ConflictColumns("username"),
			sql.ResolveWith(func(u *sql.UpdateSet) {
				u.SetExcluded("email")
				u.SetExcluded("full_name")
				u.SetExcluded("role")
				u.SetExcluded("student_id")
			}),
		).
		Query()

	if _, err := p.exec(ctx, query, args); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.Username, err)
	}
	return nil
}

// SetAvailable records an agent's availability in users.available.
func (p *Postgres) SetAvailable(ctx context.Context, username string, available bool) error {
	query, args := builder().Update(tableUsers).
		Set("available", available).
		Where(sql.EQ("username", username)).
		Query()

	n, err := p.exec(ctx, query, args)
	if err != nil {
		return fmt.Errorf("failed to set availability for %s: %w", username, err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return nil
}

// IsAvailable reads users.available.
func (p *Postgres) IsAvailable(ctx context.Context, username string) (bool, error) {
	query, args := builder().Select("available").
		From(sql.Table(tableUsers)).
		Where(sql.EQ("username", username)).
		Query()

	var available bool
	err := p.db.QueryRowContext(ctx, query, args...).Scan(&available)
	if errors.Is(err, stdsql.ErrNoRows) {
		return false, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read availability for %s: %w", username, err)
	}
	return available, nil
}

// CreateSession persists a new session. The partial unique index on
// customer_username rejects a second open session.
func (p *Postgres) CreateSession(ctx context.Context, s *models.Session) error {
	query, args := builder().Insert(tableSessions).
		Columns(sessionColumns...).
		Values(s.ID, s.Customer, nullString(s.Agent), string(s.Status), s.Topic, s.StartedAt,
			nullTime(s.EndedAt), nullInt(s.Rating), nullString(s.Feedback)).
		Query()

	_, err := p.exec(ctx, query, args)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == openSessionIndex:
			return ErrOpenSessionExists
		case pgErr.Code == pgUniqueViolation:
			return fmt.Errorf("session %s: %w", s.ID, ErrDuplicate)
		case pgErr.Code == pgForeignKeyViolation:
			return fmt.Errorf("customer %s: %w", s.Customer, ErrNotFound)
		}
	}
	return fmt.Errorf("failed to create session: %w", err)
}

// GetSession returns a session by id.
func (p *Postgres) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query, args := builder().Select(sessionColumns...).
		From(sql.Table(tableSessions)).
		Where(sql.EQ("id", id)).
		Query()

	s, err := scanSession(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return s, nil
}

// FindOpenSession returns the customer's non-CLOSED session.
func (p *Postgres) FindOpenSession(ctx context.Context, customer string) (*models.Session, error) {
	query, args := builder().Select(sessionColumns...).
		From(sql.Table(tableSessions)).
		Where(sql.And(
			sql.EQ("customer_username", customer),
			sql.NEQ("status", string(models.SessionStatusClosed)),
		)).
		Limit(1).
		Query()

	s, err := scanSession(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("open session for %s: %w", customer, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open session for %s: %w", customer, err)
	}
	return s, nil
}

// ActivateSession moves a WAITING session to ACTIVE under agent. The update
// is conditional on the current status, so of two racing callers exactly
// one succeeds.
func (p *Postgres) ActivateSession(ctx context.Context, id, agent string) (*models.Session, error) {
	query, args := builder().Update(tableSessions).
		Set("agent_username", agent).
		Set("status", string(models.SessionStatusActive)).
		Where(sql.And(
			sql.EQ("id", id),
			sql.EQ("status", string(models.SessionStatusWaiting)),
		)).
		Query()

	return p.transition(ctx, id, query, args)
}

// CloseSession moves a non-CLOSED session to CLOSED.
func (p *Postgres) CloseSession(ctx context.Context, id string, endedAt time.Time) (*models.Session, error) {
	query, args := builder().Update(tableSessions).
		Set("status", string(models.SessionStatusClosed)).
		Set("ended_at", endedAt).
		Where(sql.And(
			sql.EQ("id", id),
			sql.NEQ("status", string(models.SessionStatusClosed)),
		)).
		Query()

	return p.transition(ctx, id, query, args)
}

func (p *Postgres) transition(ctx context.Context, id, query string, args []any) (*models.Session, error) {
	n, err := p.exec(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	s, err := p.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("session %s is %s: %w", id, s.Status, ErrStatusChanged)
	}
	return s, nil
}

// ListWaitingSessions returns WAITING sessions, oldest first.
func (p *Postgres) ListWaitingSessions(ctx context.Context) ([]*models.Session, error) {
	query, args := builder().Select(sessionColumns...).
		From(sql.Table(tableSessions)).
		Where(sql.EQ("status", string(models.SessionStatusWaiting))).
		OrderBy("started_at", "id").
		Query()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SearchSessions returns sessions matching filter joined with participant
// names, newest first.
func (p *Postgres) SearchSessions(ctx context.Context, filter models.HistoryFilter) ([]*models.SessionView, error) {
	b := builder()
	cs := sql.Table(tableSessions).As("cs")
	cu := sql.Table(tableUsers).As("cu")
	au := sql.Table(tableUsers).As("au")

	cols := make([]string, 0, len(sessionColumns)+3)
	for _, c := range sessionColumns {
		cols = append(cols, cs.C(c))
	}
	cols = append(cols, cu.C("full_name"), cu.C("student_id"), au.C("full_name"))

	sel := b.Select(cols...).
		From(cs).
		Join(cu).On(cs.C("customer_username"), cu.C("username")).
		LeftJoin(au).On(cs.C("agent_username"), au.C("username"))

	var preds []*sql.Predicate
	if filter.Customer != "" {
		preds = append(preds, sql.EQ(cs.C("customer_username"), filter.Customer))
	}
	if filter.Agent != "" {
		preds = append(preds, sql.EQ(cs.C("agent_username"), filter.Agent))
	}
	if filter.Status != "" {
		preds = append(preds, sql.EQ(cs.C("status"), string(filter.Status)))
	}
	if filter.CustomerName != "" {
		preds = append(preds, sql.ContainsFold(cu.C("full_name"), filter.CustomerName))
	}
	if filter.AgentName != "" {
		preds = append(preds, sql.ContainsFold(au.C("full_name"), filter.AgentName))
	}
	if filter.StartedFrom != nil {
		preds = append(preds, sql.GTE(cs.C("started_at"), *filter.StartedFrom))
	}
	if filter.StartedUntil != nil {
		preds = append(preds, sql.LTE(cs.C("started_at"), *filter.StartedUntil))
	}
	if len(preds) > 0 {
		sel.Where(sql.And(preds...))
	}
	query, args := sel.OrderBy(sql.Desc(cs.C("started_at")), sql.Desc(cs.C("id"))).Query()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.SessionView
	for rows.Next() {
		var (
			r            sessionRow
			customerName stdsql.NullString
			customerID   stdsql.NullString
			agentName    stdsql.NullString
		)
		dest := append(r.dest(), &customerName, &customerID, &agentName)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, &models.SessionView{
			Session:      r.session(),
			CustomerName: customerName.String,
			CustomerID:   customerID.String,
			AgentName:    agentName.String,
		})
	}
	return out, rows.Err()
}

// AppendMessage adds a message to its session's transcript.
func (p *Postgres) AppendMessage(ctx context.Context, msg *models.Message) error {
	query, args := builder().Insert(tableMessages).
		Columns(messageColumns...).
		Values(msg.ID, msg.SessionID, msg.Sender, msg.Content, string(msg.Type), msg.SentAt).
		Query()

	if _, err := p.exec(ctx, query, args); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("session %s: %w", msg.SessionID, ErrNotFound)
		}
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListMessages returns a session's transcript ordered by sentAt.
func (p *Postgres) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	query, args := builder().Select(messageColumns...).
		From(sql.Table(tableMessages)).
		Where(sql.EQ("session_id", sessionID)).
		OrderBy("sent_at", "id").
		Query()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*models.Message{}
	for rows.Next() {
		var (
			m       models.Message
			msgType string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Content, &msgType, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Type = models.MessageType(msgType)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CreateCallRecord persists a new call record.
func (p *Postgres) CreateCallRecord(ctx context.Context, rec *models.CallRecord) error {
	query, args := builder().Insert(tableCalls).
		Columns(callColumns...).
		Values(rec.ID, rec.CallID, rec.Caller, rec.Receiver, nullString(rec.SessionID), rec.CallType,
			string(rec.Status), rec.StartedAt, nullTime(rec.EndedAt), nullInt64(rec.DurationSeconds)).
		Query()

	if _, err := p.exec(ctx, query, args); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("call %s: %w", rec.CallID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create call record: %w", err)
	}
	return nil
}

// GetCallRecord returns the record for a client-supplied call id.
func (p *Postgres) GetCallRecord(ctx context.Context, callID string) (*models.CallRecord, error) {
	query, args := builder().Select(callColumns...).
		From(sql.Table(tableCalls)).
		Where(sql.EQ("call_id", callID)).
		Query()

	rec, err := scanCall(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call %s: %w", callID, err)
	}
	return rec, nil
}

// UpdateCallRecord replaces the status and end fields of a record.
func (p *Postgres) UpdateCallRecord(ctx context.Context, rec *models.CallRecord) error {
	query, args := builder().Update(tableCalls).
		Set("status", string(rec.Status)).
		Set("ended_at", nullTime(rec.EndedAt)).
		Set("duration_seconds", nullInt64(rec.DurationSeconds)).
		Where(sql.EQ("call_id", rec.CallID)).
		Query()

	n, err := p.exec(ctx, query, args)
	if err != nil {
		return fmt.Errorf("failed to update call %s: %w", rec.CallID, err)
	}
	if n == 0 {
		return fmt.Errorf("call %s: %w", rec.CallID, ErrNotFound)
	}
	return nil
}

// ListCallRecords returns call records newest first, optionally for one session.
func (p *Postgres) ListCallRecords(ctx context.Context, sessionID string) ([]*models.CallRecord, error) {
	sel := builder().Select(callColumns...).From(sql.Table(tableCalls))
	if sessionID != "" {
		sel.Where(sql.EQ("session_id", sessionID))
	}
	query, args := sel.OrderBy(sql.Desc("started_at")).Query()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*models.CallRecord{}
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
