package session

import (
	"sync"

	"skill-forge/internal/protocol"
)

// RingBuffer is a fixed-capacity FIFO of stream events. Events accumulate
// while a session has no channel and are flushed in order once one attaches.
// When full, the oldest event is dropped.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []*protocol.Message
	capacity int
	head     int // oldest event
	count    int
	dropped  int
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]*protocol.Message, capacity),
		capacity: capacity,
	}
}

// Write appends an event, overwriting the oldest one when full.
func (rb *RingBuffer) Write(msg *protocol.Message) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	tail := (rb.head + rb.count) % rb.capacity
	rb.buf[tail] = msg
	if rb.count == rb.capacity {
		rb.head = (rb.head + 1) % rb.capacity
		rb.dropped++
		return
	}
	rb.count++
}

// Peek returns the oldest event without removing it.
func (rb *RingBuffer) Peek() (*protocol.Message, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil, false
	}
	return rb.buf[rb.head], true
}

// Pop removes the oldest event.
func (rb *RingBuffer) Pop() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return
	}
	rb.buf[rb.head] = nil
	rb.head = (rb.head + 1) % rb.capacity
	rb.count--
}

// ReadAll returns all buffered events in chronological order.
func (rb *RingBuffer) ReadAll() []*protocol.Message {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	result := make([]*protocol.Message, rb.count)
	for i := 0; i < rb.count; i++ {
		result[i] = rb.buf[(rb.head+i)%rb.capacity]
	}
	return result
}

// Len returns the number of buffered events.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Dropped returns how many events were overwritten since creation.
func (rb *RingBuffer) Dropped() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}
