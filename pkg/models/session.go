// Package models contains the domain types shared by the store, service and API layers.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

// Session statuses. A session only ever moves forward:
// WAITING → ACTIVE → CLOSED, or WAITING → CLOSED.
const (
	SessionStatusWaiting SessionStatus = "WAITING"
	SessionStatusActive  SessionStatus = "ACTIVE"
	SessionStatusClosed  SessionStatus = "CLOSED"
)

// IsValid reports whether s is a known status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusWaiting, SessionStatusActive, SessionStatusClosed:
		return true
	default:
		return false
	}
}

// ParseSessionStatus parses a status case-insensitively.
func ParseSessionStatus(v string) (SessionStatus, error) {
	s := SessionStatus(strings.ToUpper(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown session status %q", v)
	}
	return s, nil
}

// Session is a single help request from a customer, optionally claimed by an agent.
type Session struct {
	ID       string        `json:"id"`
	Customer string        `json:"customerUsername"`
	Agent    string        `json:"agentUsername,omitempty"`
	Status   SessionStatus `json:"status"`
	Topic    string        `json:"topic,omitempty"`

	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	// Set post-hoc by the feedback flow; never written by the lifecycle.
	Rating   int    `json:"rating,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// HasAgent reports whether an agent has been attached to the session.
func (s *Session) HasAgent() bool {
	return s.Agent != ""
}

// IsParticipant reports whether username is the session's customer or agent.
func (s *Session) IsParticipant(username string) bool {
	return username != "" && (username == s.Customer || username == s.Agent)
}

// Clone returns a copy that shares no pointers with s.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// SessionView is a session with participant display data resolved.
type SessionView struct {
	*Session
	CustomerName string `json:"customerName"`
	CustomerID   string `json:"customerId,omitempty"`
	AgentName    string `json:"agentName,omitempty"`
}

// HistoryFilter narrows a chat history listing. Empty fields do not filter.
type HistoryFilter struct {
	// Customer and Agent match usernames exactly.
	Customer string
	Agent    string

	// CustomerName and AgentName match the participant's full name as a
	// case-insensitive substring.
	CustomerName string
	AgentName    string
	Status       SessionStatus
	// StartedFrom and StartedUntil bound startedAt inclusively.
	StartedFrom  *time.Time
	StartedUntil *time.Time
}

// ParseHistoryDates converts YYYY-MM-DD bounds into an inclusive time range.
// The start is the first second of its day, the end the last second of its
// day. Malformed values are ignored and yield a nil bound.
func ParseHistoryDates(startDate, endDate string, loc *time.Location) (from, until *time.Time) {
	if loc == nil {
		loc = time.Local
	}
	if v := strings.TrimSpace(startDate); v != "" {
		if d, err := time.ParseInLocation(time.DateOnly, v, loc); err == nil {
			from = &d
		}
	}
	if v := strings.TrimSpace(endDate); v != "" {
		if d, err := time.ParseInLocation(time.DateOnly, v, loc); err == nil {
			end := d.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
			until = &end
		}
	}
	return from, until
}
