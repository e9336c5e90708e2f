package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// maxNotifyPayload keeps NOTIFY payloads under PostgreSQL's 8000-byte limit.
const maxNotifyPayload = 7900

// ErrPayloadNotFound is returned by Resolve for a reference whose row has
// already been cleaned up.
var ErrPayloadNotFound = errors.New("relay payload not found")

// payloadRef replaces a payload too large for NOTIFY. The full payload is
// stored in relay_payloads and fetched by the receiving listener.
type payloadRef struct {
	Ref int64 `json:"ref"`
}

// Publisher broadcasts pre-marshaled frames through pg_notify.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a new Publisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// Notify publishes payload on channel. Oversized payloads are stored and
// announced by reference in the same transaction, so listeners never see a
// reference before its row is committed.
func (p *Publisher) Notify(ctx context.Context, channel string, payload []byte) error {
	if len(payload) <= maxNotifyPayload {
		if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
			return fmt.Errorf("pg_notify failed: %w", err)
		}
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO relay_payloads (channel, payload, created_at) VALUES ($1, $2, $3) RETURNING id`,
		channel, string(payload), time.Now(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to store relay payload: %w", err)
	}

	ref, err := json.Marshal(payloadRef{Ref: id})
	if err != nil {
		return fmt.Errorf("failed to marshal payload reference: %w", err)
	}

	// pg_notify is transactional — held until COMMIT.
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(ref)); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit relay payload: %w", err)
	}
	return nil
}

// Resolve returns the stored payload for a reference.
func (p *Publisher) Resolve(ctx context.Context, id int64) ([]byte, error) {
	var payload string
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM relay_payloads WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrPayloadNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relay payload %d: %w", id, err)
	}
	return []byte(payload), nil
}

// CleanupExpired deletes stored payloads older than ttl and returns how many
// rows were removed.
func (p *Publisher) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM relay_payloads WHERE created_at < $1`, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired relay payloads: %w", err)
	}
	return res.RowsAffected()
}

// parsePayloadRef reports whether payload is a reference envelope.
func parsePayloadRef(payload string) (int64, bool) {
	if len(payload) > 64 || len(payload) < 8 || payload[:7] != `{"ref":` {
		return 0, false
	}
	var ref payloadRef
	if err := json.Unmarshal([]byte(payload), &ref); err != nil || ref.Ref == 0 {
		return 0, false
	}
	return ref.Ref, true
}
