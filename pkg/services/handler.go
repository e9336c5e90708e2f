package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/codeready-toolchain/supportdesk/pkg/events"
	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
)

// JobSubmitter runs inbound events. Implemented by queue.Dispatcher.
type JobSubmitter interface {
	Submit(ctx context.Context, job queue.Job) error
}

type chatStartData struct {
	Username string `json:"username"`
	Topic    string `json:"topic"`
}

type chatAcceptData struct {
	AgentUsername string `json:"agentUsername"`
	SessionID     string `json:"sessionId"`
}

type chatMessageData struct {
	SessionID      string `json:"sessionId"`
	SenderUsername string `json:"senderUsername"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

type chatEndData struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
}

type queueStatusData struct {
	Username string `json:"username"`
}

// EventHandler turns inbound WebSocket actions into lifecycle, router and
// relay calls. Every action runs as a dispatcher job keyed by its session
// id, so actions for one session are handled in arrival order. Any failure
// is answered with an ERROR frame to the user who sent the action.
type EventHandler struct {
	lifecycle  *SessionLifecycle
	router     *MessageRouter
	relay      *CallSignalRelay
	calls      *CallLogService
	transport  Transport
	dispatcher JobSubmitter
}

// NewEventHandler creates a new EventHandler. calls may be nil, in which
// case no call records are kept.
func NewEventHandler(
	lifecycle *SessionLifecycle,
	router *MessageRouter,
	relay *CallSignalRelay,
	calls *CallLogService,
	transport Transport,
	dispatcher JobSubmitter,
) *EventHandler {
	return &EventHandler{
		lifecycle:  lifecycle,
		router:     router,
		relay:      relay,
		calls:      calls,
		transport:  transport,
		dispatcher: dispatcher,
	}
}

// HandleInbound implements events.InboundHandler.
func (h *EventHandler) HandleInbound(ctx context.Context, username string, msg *events.ClientMessage) {
	job := queue.Job{
		Key:  jobKey(username, msg),
		Name: msg.Action,
		Run: func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Inbound event handler panicked",
						"username", username, "action", msg.Action, "panic", r, "stack", string(debug.Stack()))
					h.reportError(ctx, username, msg.Action, errors.New("internal error"))
				}
			}()
			if err := h.Handle(ctx, username, msg); err != nil {
				h.reportError(ctx, username, msg.Action, err)
			}
		},
	}
	if err := h.dispatcher.Submit(ctx, job); err != nil {
		h.reportError(ctx, username, msg.Action, fmt.Errorf("event not accepted: %w", err))
	}
}

// jobKey shards by session id when the action names one, otherwise by the
// sending user.
func jobKey(username string, msg *events.ClientMessage) string {
	var d struct {
		SessionID string `json:"sessionId"`
	}
	if len(msg.Data) > 0 && json.Unmarshal(msg.Data, &d) == nil && d.SessionID != "" {
		return "session:" + d.SessionID
	}
	return "user:" + username
}

// Handle runs one action synchronously on behalf of identity.
func (h *EventHandler) Handle(ctx context.Context, identity string, msg *events.ClientMessage) error {
	switch msg.Action {
	case events.ActionChatStart:
		return h.chatStart(ctx, identity, msg.Data)
	case events.ActionChatAccept:
		return h.chatAccept(ctx, identity, msg.Data)
	case events.ActionChatMessage:
		return h.chatMessage(ctx, identity, msg.Data)
	case events.ActionChatEnd:
		return h.chatEnd(ctx, identity, msg.Data)
	case events.ActionChatQueueStatus:
		return h.queueStatus(ctx, identity, msg.Data)
	case events.ActionCallRequest, events.ActionCallAccept, events.ActionCallReject, events.ActionCallEnd,
		events.ActionCallOffer, events.ActionCallAnswer, events.ActionCallICECandidate:
		return h.callSignal(ctx, identity, msg.Action, msg.Data)
	default:
		return NewValidationError("action", fmt.Sprintf("unknown action %q", msg.Action))
	}
}

func (h *EventHandler) chatStart(ctx context.Context, identity string, raw json.RawMessage) error {
	var d chatStartData
	if err := decodeData(raw, &d); err != nil {
		return err
	}
	customer, err := resolveIdentity("username", d.Username, identity)
	if err != nil {
		return err
	}

	res, err := h.lifecycle.Create(ctx, customer, d.Topic)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case OutcomeCreated, OutcomeRejoinedWaiting:
		push(ctx, h.transport, customer, events.DestinationNotifications, events.QueuePositionFrame{
			Type:      events.FrameQueuePosition,
			SessionID: res.Session.ID,
			Position:  res.Position,
			QueueSize: res.QueueSize,
		})
	case OutcomeRejoinedActive:
		push(ctx, h.transport, customer, events.DestinationNotifications,
			h.lifecycle.SessionInfo(ctx, res.Session, events.SessionInfoReconnected))
	default:
		return fmt.Errorf("unhandled create outcome %s", res.Outcome)
	}
	return nil
}

func (h *EventHandler) chatAccept(ctx context.Context, identity string, raw json.RawMessage) error {
	var d chatAcceptData
	if err := decodeData(raw, &d); err != nil {
		return err
	}
	agent, err := resolveIdentity("agentUsername", d.AgentUsername, identity)
	if err != nil {
		return err
	}
	_, err = h.lifecycle.Assign(ctx, d.SessionID, agent)
	return err
}

func (h *EventHandler) chatMessage(ctx context.Context, identity string, raw json.RawMessage) error {
	var d chatMessageData
	if err := decodeData(raw, &d); err != nil {
		return err
	}
	sender, err := resolveIdentity("senderUsername", d.SenderUsername, identity)
	if err != nil {
		return err
	}
	if d.SessionID == "" {
		return NewValidationError("sessionId", "required")
	}
	msgType := models.ParseMessageType(d.Type)
	if msgType == models.MessageTypeSystem {
		return NewValidationError("type", "system messages are generated by the server")
	}
	_, err = h.router.Send(ctx, d.SessionID, sender, d.Content, msgType)
	return err
}

func (h *EventHandler) chatEnd(ctx context.Context, identity string, raw json.RawMessage) error {
	var d chatEndData
	if err := decodeData(raw, &d); err != nil {
		return err
	}
	actor, err := resolveIdentity("username", d.Username, identity)
	if err != nil {
		return err
	}
	_, err = h.lifecycle.End(ctx, d.SessionID, actor)
	return err
}

func (h *EventHandler) queueStatus(ctx context.Context, identity string, raw json.RawMessage) error {
	var d queueStatusData
	if err := decodeData(raw, &d); err != nil {
		return err
	}
	user, err := resolveIdentity("username", d.Username, identity)
	if err != nil {
		return err
	}
	push(ctx, h.transport, user, events.DestinationStatus, h.lifecycle.QueueStatus())
	return nil
}

func (h *EventHandler) callSignal(ctx context.Context, identity, action string, raw json.RawMessage) error {
	var sig CallSignal
	if err := decodeData(raw, &sig); err != nil {
		return err
	}
	from, err := resolveIdentity("from", sig.From, identity)
	if err != nil {
		return err
	}
	sig.From = from

	var relayErr error
	switch action {
	case events.ActionCallRequest:
		relayErr = h.relay.Request(ctx, sig)
	case events.ActionCallAccept:
		relayErr = h.relay.Accept(ctx, sig)
	case events.ActionCallReject:
		relayErr = h.relay.Reject(ctx, sig)
	case events.ActionCallEnd:
		relayErr = h.relay.End(ctx, sig)
	case events.ActionCallOffer:
		relayErr = h.relay.Offer(ctx, sig)
	case events.ActionCallAnswer:
		relayErr = h.relay.Answer(ctx, sig)
	case events.ActionCallICECandidate:
		relayErr = h.relay.ICECandidate(ctx, sig)
	default:
		return NewValidationError("action", fmt.Sprintf("unknown call action %q", action))
	}
	if IsValidationError(relayErr) {
		return relayErr
	}

	h.recordCall(ctx, action, sig)

	switch {
	case relayErr == nil:
		return nil
	case errors.Is(relayErr, events.ErrNotConnected):
		slog.Debug("Call signal target not connected", "call_id", sig.CallID, "from", sig.From, "to", sig.To, "action", action)
		return fmt.Errorf("user %s is not connected", sig.To)
	default:
		return fmt.Errorf("failed to relay %s: %w", action, relayErr)
	}
}

// recordCall updates the call log. Failures never affect signaling.
func (h *EventHandler) recordCall(ctx context.Context, action string, sig CallSignal) {
	if h.calls == nil {
		return
	}
	var err error
	switch action {
	case events.ActionCallRequest:
		_, err = h.calls.Requested(ctx, sig)
	case events.ActionCallAccept:
		_, err = h.calls.Accepted(ctx, sig.CallID)
	case events.ActionCallReject:
		_, err = h.calls.Rejected(ctx, sig.CallID)
	case events.ActionCallEnd:
		_, err = h.calls.Ended(ctx, sig.CallID)
	default:
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		slog.Debug("No call record for signal", "call_id", sig.CallID, "action", action)
	default:
		slog.Warn("Failed to update call record", "call_id", sig.CallID, "action", action, "error", err)
	}
}

func (h *EventHandler) reportError(ctx context.Context, username, action string, err error) {
	slog.Warn("Inbound event failed", "username", username, "action", action, "error", err)
	push(ctx, h.transport, username, events.DestinationNotifications, events.NewErrorFrame(err.Error()))
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewValidationError("data", fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}

// resolveIdentity returns the username an action acts as. An empty claim
// means the connection's own identity; a different one is refused.
func resolveIdentity(field, claimed, identity string) (string, error) {
	if claimed == "" || claimed == identity {
		return identity, nil
	}
	return "", fmt.Errorf("%w: %s %q does not match the connected user", ErrForbidden, field, claimed)
}
