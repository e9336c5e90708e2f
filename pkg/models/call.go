package models

import "time"

// CallStatus is the recorded outcome of a voice call.
type CallStatus string

// Call statuses.
const (
	CallStatusInitiated CallStatus = "INITIATED"
	CallStatusRinging   CallStatus = "RINGING"
	CallStatusAccepted  CallStatus = "ACCEPTED"
	CallStatusConnected CallStatus = "CONNECTED"
	CallStatusCompleted CallStatus = "COMPLETED"
	CallStatusRejected  CallStatus = "REJECTED"
	CallStatusMissed    CallStatus = "MISSED"
	CallStatusFailed    CallStatus = "FAILED"
)

// IsTerminal reports whether no further status change is expected.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusRejected, CallStatusMissed, CallStatusFailed:
		return true
	case CallStatusInitiated, CallStatusRinging, CallStatusAccepted, CallStatusConnected:
		return false
	default:
		return false
	}
}

// CallTypeVoice is the only call type clients currently place.
const CallTypeVoice = "VOICE"

// CallRecord is the reporting record of one call. It is written beside the
// signal relay, never by it.
type CallRecord struct {
	ID        string     `json:"id"`
	CallID    string     `json:"callId"`
	Caller    string     `json:"caller"`
	Receiver  string     `json:"receiver"`
	SessionID string     `json:"sessionId,omitempty"`
	CallType  string     `json:"callType"`
	Status    CallStatus `json:"status"`

	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int64      `json:"durationSeconds,omitempty"`
}

// Finish closes the record at endedAt with the given terminal status and
// computes the duration from StartedAt.
func (c *CallRecord) Finish(status CallStatus, endedAt time.Time) {
	c.Status = status
	c.EndedAt = &endedAt
	if d := endedAt.Sub(c.StartedAt); d > 0 {
		c.DurationSeconds = int64(d.Seconds())
	}
}
