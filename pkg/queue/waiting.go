// Package queue holds the waiting pool of unassigned chat sessions and the
// dispatcher that runs inbound real-time events on a bounded set of workers.
package queue

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyQueued is returned by Enqueue when the session id is already present.
var ErrAlreadyQueued = errors.New("session already queued")

// Entry is a waiting session as shown to agents picking from the queue.
type Entry struct {
	SessionID    string    `json:"sessionId"`
	Username     string    `json:"-"`
	StudentName  string    `json:"studentName"`
	StudentID    string    `json:"studentId,omitempty"`
	StudentEmail string    `json:"studentEmail,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	Topic        string    `json:"topic,omitempty"`

	// Seq is the insertion sequence number, assigned by Enqueue.
	Seq uint64 `json:"-"`
}

// Status is a consistent view of the pool taken under a single lock.
type Status struct {
	Size    int     `json:"queueSize"`
	Entries []Entry `json:"waitingStudents"`
}

// WaitingPool is a FIFO-ordered set of waiting sessions keyed by session id.
// Entries leave the pool on assignment or cancellation and are never
// reordered. All methods are safe for concurrent use.
type WaitingPool struct {
	mu      sync.RWMutex
	order   *list.List               // of *Entry, ascending Seq
	byID    map[string]*list.Element // session_id → element in order
	nextSeq uint64
}

// NewWaitingPool creates an empty pool.
func NewWaitingPool() *WaitingPool {
	return &WaitingPool{
		order: list.New(),
		byID:  make(map[string]*list.Element),
	}
}

// Enqueue appends e at the tail and returns its sequence number.
func (p *WaitingPool) Enqueue(e Entry) (uint64, error) {
	if e.SessionID == "" {
		return 0, fmt.Errorf("enqueue: session id is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byID[e.SessionID]; exists {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyQueued, e.SessionID)
	}
	p.nextSeq++
	e.Seq = p.nextSeq
	p.byID[e.SessionID] = p.order.PushBack(&e)
	return e.Seq, nil
}

// RemoveByID removes the entry wherever it sits. Returns whether it was present.
func (p *WaitingPool) RemoveByID(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.byID[id]
	if !ok {
		return false
	}
	p.order.Remove(el)
	delete(p.byID, id)
	return true
}

// Contains reports whether id is waiting.
func (p *WaitingPool) Contains(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byID[id]
	return ok
}

// PositionOf returns the 1-based rank of id among waiting entries.
func (p *WaitingPool) PositionOf(id string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	target, ok := p.byID[id]
	if !ok {
		return 0, false
	}
	pos := 1
	for el := p.order.Front(); el != target; el = el.Next() {
		pos++
	}
	return pos, true
}

// Placement returns the 1-based rank of id and the pool size, read under
// one lock so the pair is consistent.
func (p *WaitingPool) Placement(id string) (position, size int, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	size = p.order.Len()
	target, ok := p.byID[id]
	if !ok {
		return 0, size, false
	}
	position = 1
	for el := p.order.Front(); el != target; el = el.Next() {
		position++
	}
	return position, size, true
}

// Size returns the number of waiting entries.
func (p *WaitingPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.order.Len()
}

// Snapshot returns an ordered copy of the waiting entries.
func (p *WaitingPool) Snapshot() []Entry {
	return p.Status().Entries
}

// Status returns the size and the ordered entries from the same instant.
func (p *WaitingPool) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]Entry, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, *el.Value.(*Entry))
	}
	return Status{Size: len(entries), Entries: entries}
}
