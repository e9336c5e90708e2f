package services

import (
	"context"
	"encoding/json"

	"github.com/codeready-toolchain/supportdesk/pkg/events"
)

// CallSignal is one call signaling envelope between two users. It is never
// persisted; SDP and Candidate are forwarded without inspection.
type CallSignal struct {
	CallID    string          `json:"callId"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	FromName  string          `json:"fromName,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// CallSignalRelay forwards call signals to the addressed user. It keeps no
// call state and checks no session membership. A call linked to a chat
// session carries the session id as metadata only.
type CallSignalRelay struct {
	transport Transport
}

// NewCallSignalRelay creates a new CallSignalRelay.
func NewCallSignalRelay(transport Transport) *CallSignalRelay {
	return &CallSignalRelay{transport: transport}
}

// Request forwards a CALL_REQUEST.
func (r *CallSignalRelay) Request(ctx context.Context, sig CallSignal) error {
	return r.forward(ctx, sig, events.CallFrame{
		Type:      events.FrameCallRequest,
		FromName:  sig.FromName,
		SessionID: sig.SessionID,
	})
}

// Accept forwards a CALL_ACCEPT.
func (r *CallSignalRelay) Accept(ctx context.Context, sig CallSignal) error {
	return r.forward(ctx, sig, events.CallFrame{Type: events.FrameCallAccept})
}

// Reject forwards a CALL_REJECT with the optional reason.
func (r *CallSignalRelay) Reject(ctx context.Context, sig CallSignal) error {
	return r.forward(ctx, sig, events.CallFrame{Type: events.FrameCallReject, Reason: sig.Reason})
}

// End forwards a CALL_END.
func (r *CallSignalRelay) End(ctx context.Context, sig CallSignal) error {
	return r.forward(ctx, sig, events.CallFrame{Type: events.FrameCallEnd})
}

// Offer forwards a WEBRTC_OFFER with its SDP.
func (r *CallSignalRelay) Offer(ctx context.Context, sig CallSignal) error {
	return r.forward(ctx, sig, events.CallFrame{Type: events.FrameWebRTCOffer, SDP: sig.SDP})
}

// Answer forwards a WEBRTC_ANSWER with its SDP.
func (r *CallSignalRelay) Answer(ctx context.Context, sig CallSignal) error {
	return r.forward(ctx, sig, events.CallFrame{Type: events.FrameWebRTCAnswer, SDP: sig.SDP})
}

// ICECandidate forwards an ICE_CANDIDATE with its candidate.
func (r *CallSignalRelay) ICECandidate(ctx context.Context, sig CallSignal) error {
	return r.forward(ctx, sig, events.CallFrame{Type: events.FrameICECandidate, Candidate: sig.Candidate})
}

// forward fills the routing fields and pushes the frame to sig.To. The
// transport's error (events.ErrNotConnected for an offline peer) is
// returned untouched; reporting it is up to the caller.
func (r *CallSignalRelay) forward(ctx context.Context, sig CallSignal, frame events.CallFrame) error {
	switch {
	case sig.CallID == "":
		return NewValidationError("callId", "required")
	case sig.From == "":
		return NewValidationError("from", "required")
	case sig.To == "":
		return NewValidationError("to", "required")
	}
	frame.CallID = sig.CallID
	frame.From = sig.From
	return r.transport.PushToUser(ctx, sig.To, events.DestinationCall, frame)
}
