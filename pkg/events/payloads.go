package events

import (
	"encoding/json"
	"fmt"
)

// Frame types carried in the "type" field of notification, call and queue frames.
const (
	FrameQueuePosition = "QUEUE_POSITION"
	FrameSessionInfo   = "SESSION_INFO"
	FrameAgentJoined   = "AGENT_JOINED"
	FrameSessionEnded  = "SESSION_ENDED"
	FrameError         = "ERROR"

	FrameNewStudent      = "NEW_STUDENT"
	FrameStudentAssigned = "STUDENT_ASSIGNED"
	FrameQueueUpdate     = "QUEUE_UPDATE"

	FrameCallRequest  = "CALL_REQUEST"
	FrameCallAccept   = "CALL_ACCEPT"
	FrameCallReject   = "CALL_REJECT"
	FrameCallEnd      = "CALL_END"
	FrameWebRTCOffer  = "WEBRTC_OFFER"
	FrameWebRTCAnswer = "WEBRTC_ANSWER"
	FrameICECandidate = "ICE_CANDIDATE"
)

// SESSION_INFO status values. They are lower case on the wire.
const (
	SessionInfoWaiting     = "waiting"
	SessionInfoActive      = "active"
	SessionInfoReconnected = "reconnected"
	SessionInfoClosed      = "closed"
)

// QueuePositionFrame tells a waiting student where they stand.
type QueuePositionFrame struct {
	Type      string `json:"type"` // always FrameQueuePosition
	SessionID string `json:"sessionId"`
	Position  int    `json:"position"`
	QueueSize int    `json:"queueSize"`
}

// SessionInfoFrame describes a session to one of its participants.
type SessionInfoFrame struct {
	Type          string `json:"type"` // always FrameSessionInfo
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	CustomerName  string `json:"customerName"`
	CustomerID    string `json:"customerId,omitempty"`
	AgentName     string `json:"agentName,omitempty"`
	AgentUsername string `json:"agentUsername,omitempty"`
}

// AgentJoinedFrame tells the student an agent picked up the session.
type AgentJoinedFrame struct {
	Type      string `json:"type"` // always FrameAgentJoined
	SessionID string `json:"sessionId"`
	AgentName string `json:"agentName"`
}

// SessionEndedFrame tells a participant the session was closed.
type SessionEndedFrame struct {
	Type      string `json:"type"` // always FrameSessionEnded
	SessionID string `json:"sessionId"`
}

// ErrorFrame reports a failed request back to the user who sent it.
type ErrorFrame struct {
	Type    string `json:"type"` // always FrameError
	Message string `json:"message"`
}

// NewErrorFrame builds an ERROR frame.
func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: message}
}

// MessageFrame carries one chat message to a participant.
type MessageFrame struct {
	SessionID      string `json:"sessionId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
	SenderUsername string `json:"senderUsername"`
	SenderName     string `json:"senderName"`
	Timestamp      string `json:"timestamp"` // RFC3339Nano
	Type           string `json:"type"`      // TEXT, SYSTEM, FILE, IMAGE
}

// QueueBroadcastFrame is published on the queue channel whenever the
// waiting pool changes.
type QueueBroadcastFrame struct {
	Type        string `json:"type"` // NEW_STUDENT, STUDENT_ASSIGNED or QUEUE_UPDATE
	SessionID   string `json:"sessionId,omitempty"`
	StudentName string `json:"studentName,omitempty"`
	StudentID   string `json:"studentId,omitempty"`
	QueueSize   int    `json:"queueSize"`
}

// CallFrame is a forwarded call signal. SDP and Candidate are opaque to the
// server and are passed through byte for byte.
type CallFrame struct {
	Type      string          `json:"type"`
	CallID    string          `json:"callId"`
	From      string          `json:"from"`
	FromName  string          `json:"fromName,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// rawFrame is implemented by frames that embed client JSON which must reach
// the peer byte for byte.
type rawFrame interface {
	encodeRaw() ([]byte, error)
}

// encodeRaw marshals the routing fields and appends SDP and Candidate
// verbatim.
func (f CallFrame) encodeRaw() ([]byte, error) {
	head := f
	head.SDP, head.Candidate = nil, nil
	buf, err := json.Marshal(head)
	if err != nil {
		return nil, err
	}
	buf = buf[:len(buf)-1] // reopen the object

	for _, field := range []struct {
		name string
		raw  json.RawMessage
	}{{"sdp", f.SDP}, {"candidate", f.Candidate}} {
		if len(field.raw) == 0 {
			continue
		}
		if !json.Valid(field.raw) {
			return nil, fmt.Errorf("%s is not valid JSON", field.name)
		}
		buf = append(buf, `,"`+field.name+`":`...)
		buf = append(buf, field.raw...)
	}
	return append(buf, '}'), nil
}
