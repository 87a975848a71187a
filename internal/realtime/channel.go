package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"skill-forge/internal/protocol"
)

const channelQueueSize = 64

var errChannelClosed = errors.New("channel closed")

// pushChannel is the session.Channel shared by the SSE and WebSocket
// transports. Messages are queued here and written by the transport's
// single writer goroutine.
type pushChannel struct {
	id    string
	queue chan *protocol.Message
	done  chan struct{}
	once  sync.Once
}

func newPushChannel() *pushChannel {
	return &pushChannel{
		id:    uuid.NewString(),
		queue: make(chan *protocol.Message, channelQueueSize),
		done:  make(chan struct{}),
	}
}

func (c *pushChannel) ID() string { return c.id }

// Send blocks until msg is queued or the channel closes.
func (c *pushChannel) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}

	select {
	case c.queue <- msg:
		return nil
	case <-c.done:
		return errChannelClosed
	}
}

// Close is idempotent. Queued messages are discarded.
func (c *pushChannel) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *pushChannel) Done() <-chan struct{} { return c.done }
