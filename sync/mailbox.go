package sync

import (
	"log/slog"
	gosync "sync"
)

// Mailbox is a thread-safe unbounded FIFO of messages for a single consumer.
// Producers never block; the consumer waits on Notify and then drains.
// Once closed, pushes are dropped.
type Mailbox struct {
	mu     gosync.Mutex
	items  []any
	closed bool
	notify chan struct{} // signaled when items are added
	name   string
}

// NewMailbox creates an empty mailbox. name only labels debug logs.
func NewMailbox(name string) *Mailbox {
	return &Mailbox{
		notify: make(chan struct{}, 1),
		name:   name,
	}
}

// Push appends a message. It reports false if the mailbox is closed.
func (q *Mailbox) Push(msg any) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if logEnabled(slog.LevelDebug) {
			sub("mailbox").Debug("push after close dropped", "mailbox", q.name)
		}
		return false
	}
	q.items = append(q.items, msg)
	newLen := len(q.items)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("mailbox").Debug("push", "mailbox", q.name, "len", newLen)
	}

	// Non-blocking signal
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Notify returns a channel that receives after one or more pushes.
func (q *Mailbox) Notify() <-chan struct{} {
	return q.notify
}

// Pop removes and returns the oldest message. Blocks until a message is
// available or done is closed. Returns (nil, false) when done.
func (q *Mailbox) Pop(done <-chan struct{}) (any, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return nil, false
		case <-q.notify:
		}
	}
}

// Len returns the number of queued messages.
func (q *Mailbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns all queued messages in order.
func (q *Mailbox) Drain() []any {
	q.mu.Lock()
	result := q.items
	q.items = nil
	q.mu.Unlock()
	return result
}

// Close drops queued messages and rejects further pushes.
func (q *Mailbox) Close() {
	q.mu.Lock()
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()

	if dropped > 0 {
		sub("mailbox").Debug("closed with pending messages", "mailbox", q.name, "dropped", dropped)
	}
}
