package cul

import "sync"

// MaxQueuedCommands is the default capacity of the send queue.
const MaxQueuedCommands = 10

// CommandQueue holds commands not yet sent. It is bounded: when full, the
// oldest command is dropped to admit a new one.
// All methods are safe for concurrent use.
type CommandQueue struct {
	capacity int
	items    []Command
	lock     sync.Mutex
}

// NewCommandQueue creates a queue with the given capacity.
func NewCommandQueue(capacity int) *CommandQueue {
	if capacity <= 0 {
		capacity = MaxQueuedCommands
	}
	return &CommandQueue{
		capacity: capacity,
		items:    make([]Command, 0, capacity),
	}
}

// Cap returns the capacity.
func (q *CommandQueue) Cap() int {
	return q.capacity
}

// Len returns the number of queued commands.
func (q *CommandQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}

// Enqueue adds cmd at the newest end. If the queue is full the oldest
// command is evicted and returned.
func (q *CommandQueue) Enqueue(cmd Command) (dropped Command) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.items) >= q.capacity {
		dropped = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	q.items = append(q.items, cmd)
	return
}

// Pop removes and returns the oldest command, or nil if empty.
func (q *CommandQueue) Pop() Command {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	cmd := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return cmd
}

// Requeue puts a popped command back at the oldest end so it is the next
// one to send. If newer commands filled the queue in the meantime, the
// newest one is evicted and returned.
func (q *CommandQueue) Requeue(cmd Command) (dropped Command) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if n := len(q.items); n >= q.capacity {
		dropped = q.items[n-1]
		q.items[n-1] = nil
		q.items = q.items[:n-1]
	}
	items := make([]Command, 0, q.capacity)
	items = append(items, cmd)
	q.items = append(items, q.items...)
	return dropped
}

// Snapshot returns the queued commands from oldest to newest.
func (q *CommandQueue) Snapshot() []Command {
	q.lock.Lock()
	defer q.lock.Unlock()
	return append([]Command(nil), q.items...)
}
