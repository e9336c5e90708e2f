// Package events delivers frames to connected users over WebSocket and, in
// multi-replica deployments, across pods through PostgreSQL NOTIFY/LISTEN.
//
// Every user has a private channel ("user:<username>") and there is one
// shared broadcast channel ("queue") for queue-wide notices. Clients see
// both as server frames of the shape
//
//	{"destination": "notifications", "data": {...}}
//
// where destination tells the client which of its handlers owns the frame.
// Control frames (connection.established, pong, subscription.*) are flat
// {"type": ...} objects.
package events

import (
	"encoding/json"
	"strings"
)

// Destinations of server frames.
const (
	DestinationNotifications = "notifications"
	DestinationMessages      = "messages"
	DestinationCall          = "call"
	DestinationStatus        = "status"
	DestinationQueueUpdates  = "queue-updates"
)

// QueueChannel is the broadcast channel agents subscribe to for
// NEW_STUDENT / STUDENT_ASSIGNED / QUEUE_UPDATE notices.
const QueueChannel = "queue"

const userChannelPrefix = "user:"

// UserChannel returns the private channel of username.
// Format: "user:{username}"
func UserChannel(username string) string {
	return userChannelPrefix + username
}

// userFromChannel returns the username of a private channel.
func userFromChannel(channel string) (string, bool) {
	return strings.CutPrefix(channel, userChannelPrefix)
}

// Control actions handled by the ConnectionManager itself. Everything else
// is handed to the InboundHandler.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Chat and call actions sent by clients.
const (
	ActionChatStart       = "chat.start"
	ActionChatAccept      = "chat.accept"
	ActionChatMessage     = "chat.message"
	ActionChatEnd         = "chat.end"
	ActionChatQueueStatus = "chat.queueStatus"

	ActionCallRequest      = "call.request"
	ActionCallAccept       = "call.accept"
	ActionCallReject       = "call.reject"
	ActionCallEnd          = "call.end"
	ActionCallOffer        = "call.offer"
	ActionCallAnswer       = "call.answer"
	ActionCallICECandidate = "call.iceCandidate"
)

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string          `json:"action"`
	Channel string          `json:"channel,omitempty"` // subscribe / unsubscribe
	Data    json.RawMessage `json:"data,omitempty"`
}

// channel returns the subscription channel, accepting it either at the top
// level or as data.channel.
func (m *ClientMessage) channel() string {
	if m.Channel != "" {
		return m.Channel
	}
	if len(m.Data) == 0 {
		return ""
	}
	var d struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return ""
	}
	return d.Channel
}

// ServerFrame is the envelope of every pushed frame.
type ServerFrame struct {
	Destination string `json:"destination"`
	Data        any    `json:"data"`
}
