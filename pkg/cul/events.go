package cul

import (
	"context"
	"sync"
)

// EventQueue hands Moritz messages from the driver to consumers.
// It is unbounded, FIFO and safe for multiple producers and consumers.
type EventQueue struct {
	items  []string
	closed bool
	lock   sync.Mutex
	notify chan struct{}
}

// NewEventQueue creates an EventQueue.
func NewEventQueue() *EventQueue {
	return &EventQueue{notify: make(chan struct{}, 1)}
}

// Push appends a message. Messages pushed after Close are discarded.
func (q *EventQueue) Push(msg string) {
	q.lock.Lock()
	if !q.closed {
		q.items = append(q.items, msg)
	}
	q.lock.Unlock()
	q.wake()
}

// TryPop returns the oldest message without blocking.
func (q *EventQueue) TryPop() (string, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.popLocked()
}

// Pop blocks until a message is available, ctx is done, or the queue is
// closed and drained.
func (q *EventQueue) Pop(ctx context.Context) (string, error) {
	for {
		q.lock.Lock()
		msg, ok := q.popLocked()
		remaining, closed := len(q.items), q.closed
		q.lock.Unlock()
		if ok {
			if remaining > 0 {
				q.wake()
			}
			return msg, nil
		}
		if closed {
			q.wake()
			return "", ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of pending messages.
func (q *EventQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}

// Close marks the end of the stream. Pending messages can still be popped.
func (q *EventQueue) Close() {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	q.wake()
}

func (q *EventQueue) popLocked() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

func (q *EventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
