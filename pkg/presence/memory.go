// Package presence tracks whether support agents are available to take
// another chat.
//
// Availability is a single flag per agent. An agent holding several ACTIVE
// sessions becomes available again as soon as any one of them ends.
package presence

import (
	"context"
	"sync"
)

// Memory keeps availability in process memory. Unknown agents are unavailable.
type Memory struct {
	mu        sync.RWMutex
	available map[string]bool
}

// NewMemory creates an empty tracker.
func NewMemory() *Memory {
	return &Memory{available: make(map[string]bool)}
}

// SetAvailable records the agent's flag.
func (m *Memory) SetAvailable(_ context.Context, agent string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available[agent] = available
	return nil
}

// IsAvailable reads the agent's flag.
func (m *Memory) IsAvailable(_ context.Context, agent string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available[agent], nil
}
