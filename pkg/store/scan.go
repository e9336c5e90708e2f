package store

import (
	stdsql "database/sql"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/models"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

type sessionRow struct {
	id, customer, status, topic string
	agent, feedback             stdsql.NullString
	startedAt                   time.Time
	endedAt                     stdsql.NullTime
	rating                      stdsql.NullInt64
}

// dest matches the order of sessionColumns.
func (r *sessionRow) dest() []any {
	return []any{&r.id, &r.customer, &r.agent, &r.status, &r.topic, &r.startedAt, &r.endedAt, &r.rating, &r.feedback}
}

func (r *sessionRow) session() *models.Session {
	s := &models.Session{
		ID:        r.id,
		Customer:  r.customer,
		Agent:     r.agent.String,
		Status:    models.SessionStatus(r.status),
		Topic:     r.topic,
		StartedAt: r.startedAt,
		Rating:    int(r.rating.Int64),
		Feedback:  r.feedback.String,
	}
	if r.endedAt.Valid {
		t := r.endedAt.Time
		s.EndedAt = &t
	}
	return s
}

func scanSession(row scanner) (*models.Session, error) {
	var r sessionRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.session(), nil
}

func scanUser(row scanner) (*models.User, error) {
	var (
		u         models.User
		role      string
		studentID stdsql.NullString
	)
	if err := row.Scan(&u.Username, &u.Email, &u.FullName, &role, &studentID, &u.Available); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.StudentID = studentID.String
	return &u, nil
}

func scanCall(row scanner) (*models.CallRecord, error) {
	var (
		rec       models.CallRecord
		sessionID stdsql.NullString
		status    string
		endedAt   stdsql.NullTime
		duration  stdsql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.CallID, &rec.Caller, &rec.Receiver, &sessionID, &rec.CallType,
		&status, &rec.StartedAt, &endedAt, &duration)
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID.String
	rec.Status = models.CallStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	rec.DurationSeconds = duration.Int64
	return &rec, nil
}

func nullString(s string) stdsql.NullString {
	return stdsql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) stdsql.NullTime {
	if t == nil {
		return stdsql.NullTime{}
	}
	return stdsql.NullTime{Time: *t, Valid: true}
}

func nullInt(v int) stdsql.NullInt64 {
	return nullInt64(int64(v))
}

func nullInt64(v int64) stdsql.NullInt64 {
	return stdsql.NullInt64{Int64: v, Valid: v != 0}
}
