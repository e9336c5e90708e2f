package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
	"github.com/google/uuid"
)

// CallLogService keeps call records for reporting. It runs beside the
// relay: the relay forwards signals whether or not a record can be written.
type CallLogService struct {
	store SessionStore
	now   func() time.Time
}

// NewCallLogService creates a new CallLogService.
func NewCallLogService(st SessionStore) *CallLogService {
	return &CallLogService{store: st, now: time.Now}
}

// Requested records a new call as INITIATED. A repeated request for the
// same call id keeps the first record.
func (s *CallLogService) Requested(ctx context.Context, sig CallSignal) (*models.CallRecord, error) {
	rec := &models.CallRecord{
		ID:        uuid.New().String(),
		CallID:    sig.CallID,
		Caller:    sig.From,
		Receiver:  sig.To,
		SessionID: sig.SessionID,
		CallType:  models.CallTypeVoice,
		Status:    models.CallStatusInitiated,
		StartedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.store.CreateCallRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return s.get(ctx, sig.CallID)
		}
		return nil, fmt.Errorf("failed to record call %s: %w", sig.CallID, err)
	}
	return rec, nil
}

// Accepted marks the call ACCEPTED.
func (s *CallLogService) Accepted(ctx context.Context, callID string) (*models.CallRecord, error) {
	return s.update(ctx, callID, func(rec *models.CallRecord) {
		rec.Status = models.CallStatusAccepted
	})
}

// Rejected closes the call as REJECTED.
func (s *CallLogService) Rejected(ctx context.Context, callID string) (*models.CallRecord, error) {
	return s.update(ctx, callID, func(rec *models.CallRecord) {
		rec.Finish(models.CallStatusRejected, s.now().UTC())
	})
}

// Ended closes the call as COMPLETED, or MISSED when it was never accepted.
func (s *CallLogService) Ended(ctx context.Context, callID string) (*models.CallRecord, error) {
	return s.update(ctx, callID, func(rec *models.CallRecord) {
		switch rec.Status {
		case models.CallStatusAccepted, models.CallStatusConnected:
			rec.Finish(models.CallStatusCompleted, s.now().UTC())
		case models.CallStatusInitiated, models.CallStatusRinging:
			rec.Finish(models.CallStatusMissed, s.now().UTC())
		case models.CallStatusCompleted, models.CallStatusRejected, models.CallStatusMissed, models.CallStatusFailed:
		}
	})
}

// List returns call records newest first, optionally for one chat session.
func (s *CallLogService) List(ctx context.Context, sessionID string) ([]*models.CallRecord, error) {
	return s.store.ListCallRecords(ctx, sessionID)
}

// update applies fn to a non-terminal record. Terminal records are returned
// unchanged so late or duplicate signals cannot rewrite the outcome.
func (s *CallLogService) update(ctx context.Context, callID string, fn func(*models.CallRecord)) (*models.CallRecord, error) {
	rec, err := s.get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	fn(rec)
	if err := s.store.UpdateCallRecord(ctx, rec); err != nil {
		return nil, translateStoreError(err)
	}
	return rec, nil
}

func (s *CallLogService) get(ctx context.Context, callID string) (*models.CallRecord, error) {
	rec, err := s.store.GetCallRecord(ctx, callID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return rec, nil
}
