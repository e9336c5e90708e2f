package models

import (
	"strings"
	"time"
)

// MessageType classifies a chat message.
type MessageType string

// Message types.
const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeSystem MessageType = "SYSTEM"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeImage  MessageType = "IMAGE"
)

// IsValid reports whether t is a known message type.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeText, MessageTypeSystem, MessageTypeFile, MessageTypeImage:
		return true
	default:
		return false
	}
}

// ParseMessageType maps client input onto a message type. Empty or unknown
// values become TEXT, matching what clients have always relied on.
func ParseMessageType(v string) MessageType {
	t := MessageType(strings.ToUpper(strings.TrimSpace(v)))
	if !t.IsValid() {
		return MessageTypeText
	}
	return t
}

// Message is one append-only entry in a session's transcript.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Sender    string      `json:"senderUsername"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	SentAt    time.Time   `json:"sentAt"`
}
