// Package display bridges the engine's serialized callback context to an
// independent consumer goroutine through a single-slot rendezvous channel.
package display

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Mode tags carried alongside each message; the consumer selects rendering
// per tag.
const (
	ModeRead     byte = 'R' // value obtained by an explicit read
	ModeNotify   byte = 'N' // server-initiated notification
	ModeIndicate byte = 'I' // server-initiated indication
	ModeInfo     byte = '*' // engine status text
)

// ErrClosed is returned by Publish once the channel has been closed; the
// producer must discard rather than block forever.
var ErrClosed = errors.New("display channel closed")

// Message is one unit of hand-off between producer and consumer. Passed by
// value, so neither side can observe the other mid-write.
type Message struct {
	Text string
	Mode byte
}

// Channel is a single-slot rendezvous between exactly one producer (the
// engine, on the callback context) and one consumer goroutine. Publish does
// not return until the consumer has accepted the message, which gives strict
// FIFO delivery and natural backpressure: a slow consumer stalls the
// producer, never loses or reorders a message.
type Channel struct {
	slot      chan Message
	done      chan struct{}
	closeOnce sync.Once
	active    atomic.Bool
}

func NewChannel() *Channel {
	c := &Channel{
		slot: make(chan Message),
		done: make(chan struct{}),
	}
	c.active.Store(true)
	return c
}

// Publish blocks until the consumer takes the message or the channel closes.
// Called only from the producer side.
func (c *Channel) Publish(text string, mode byte) error {
	if !c.active.Load() {
		return ErrClosed
	}
	select {
	case c.slot <- Message{Text: text, Mode: mode}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Consume blocks until a message is published or the channel closes. The
// second result is false once the channel is closed; the consumer should
// then stop looping.
func (c *Channel) Consume() (Message, bool) {
	select {
	case m := <-c.slot:
		return m, true
	case <-c.done:
		return Message{}, false
	}
}

// IsActive reports whether the producing session is still live. Consumers
// poll this after each wakeup to decide whether to keep waiting.
func (c *Channel) IsActive() bool { return c.active.Load() }

// Close marks the channel inactive and wakes both sides. Idempotent; safe
// from any goroutine.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.active.Store(false)
		close(c.done)
	})
}
