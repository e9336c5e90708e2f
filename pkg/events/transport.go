package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotConnected is returned by LocalTransport.PushToUser when the user has
// no open connection on this pod.
var ErrNotConnected = errors.New("user not connected")

// EncodeFrame builds the wire form of a pushed frame. Frames carrying
// client-supplied JSON are spliced in as is, since json.Marshal would compact
// and escape it.
func EncodeFrame(destination string, data any) ([]byte, error) {
	rf, ok := data.(rawFrame)
	if !ok {
		payload, err := json.Marshal(ServerFrame{Destination: destination, Data: data})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s frame: %w", destination, err)
		}
		return payload, nil
	}

	body, err := rf.encodeRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", destination, err)
	}
	dest, err := json.Marshal(destination)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, len(body)+len(dest)+len(`{"destination":,"data":}`))
	payload = append(payload, `{"destination":`...)
	payload = append(payload, dest...)
	payload = append(payload, `,"data":`...)
	payload = append(payload, body...)
	return append(payload, '}'), nil
}

// LocalTransport pushes frames straight to this pod's connections.
type LocalTransport struct {
	manager *ConnectionManager
}

// NewLocalTransport creates a transport over manager.
func NewLocalTransport(manager *ConnectionManager) *LocalTransport {
	return &LocalTransport{manager: manager}
}

// PushToUser sends a frame to every connection of username.
func (t *LocalTransport) PushToUser(_ context.Context, username, destination string, data any) error {
	payload, err := EncodeFrame(destination, data)
	if err != nil {
		return err
	}
	if t.manager.SendToUser(username, payload) == 0 {
		return fmt.Errorf("%w: %s", ErrNotConnected, username)
	}
	return nil
}

// BroadcastQueue sends a frame to every subscriber of the queue channel.
func (t *LocalTransport) BroadcastQueue(_ context.Context, data any) error {
	payload, err := EncodeFrame(DestinationQueueUpdates, data)
	if err != nil {
		return err
	}
	t.manager.Broadcast(QueueChannel, payload)
	return nil
}

// NotifyTransport pushes frames through PostgreSQL NOTIFY so that whichever
// pod holds the user's connection delivers them. Delivery to a user without
// any connection is silently lost; the publisher cannot observe it.
type NotifyTransport struct {
	publisher *Publisher
}

// NewNotifyTransport creates a transport over publisher.
func NewNotifyTransport(publisher *Publisher) *NotifyTransport {
	return &NotifyTransport{publisher: publisher}
}

// PushToUser publishes a frame on the user's private channel.
func (t *NotifyTransport) PushToUser(ctx context.Context, username, destination string, data any) error {
	payload, err := EncodeFrame(destination, data)
	if err != nil {
		return err
	}
	return t.publisher.Notify(ctx, UserChannel(username), payload)
}

// BroadcastQueue publishes a frame on the queue channel.
func (t *NotifyTransport) BroadcastQueue(ctx context.Context, data any) error {
	payload, err := EncodeFrame(DestinationQueueUpdates, data)
	if err != nil {
		return err
	}
	return t.publisher.Notify(ctx, QueueChannel, payload)
}
