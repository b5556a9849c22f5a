// Package history retains a bounded trail of display messages so a session
// can be inspected after it ends. The collector sits behind the display
// consumer as a sink; it never blocks delivery and overwrites the oldest
// entries once the ring fills up.
package history

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srg/gattwatch/internal/display"
)

// MaxCapacity guards against accidental misconfiguration.
const MaxCapacity uint32 = 1024 * 1024

// Entry is one retained display message with its arrival time.
type Entry struct {
	At   time.Time
	Text string
	Mode byte
}

// Metrics tracks collector traffic with lock-free counters.
type Metrics struct {
	Recorded    int64 // total entries accepted
	Overwritten int64 // entries lost to buffer overflow
	Errors      int64 // unexpected enqueue failures
}

// Collector buffers display messages in a lock-free overlapped ring.
// Deliver is called on the display consumer goroutine; Drain may run on
// any other goroutine once delivery has stopped.
type Collector struct {
	buffer  mpmc.RichOverlappedRingBuffer[Entry]
	onError func(error)

	recorded    int64
	overwritten int64
	errors      int64
}

var _ display.Sink = (*Collector)(nil)

// New creates a collector retaining up to capacity entries. onError is
// invoked on unexpected ring failures; nil means failures are counted
// but otherwise ignored.
func New(capacity uint32, onError func(error)) (*Collector, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("history: capacity must be > 0")
	}
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("history: capacity %d exceeds maximum %d", capacity, MaxCapacity)
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Collector{
		buffer:  mpmc.NewOverlappedRingBuffer[Entry](capacity),
		onError: onError,
	}, nil
}

// Deliver records one display message. The ring drops the oldest entry
// on overflow, so this never blocks the consumer.
func (c *Collector) Deliver(m display.Message) {
	e := Entry{At: time.Now(), Text: m.Text, Mode: m.Mode}
	overwrites, err := c.buffer.EnqueueM(e)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		c.onError(fmt.Errorf("history: enqueue failed: %w", err))
		return
	}
	atomic.AddInt64(&c.overwritten, int64(overwrites))
	atomic.AddInt64(&c.recorded, 1)
}

// Drain removes and returns all buffered entries in arrival order.
func (c *Collector) Drain() ([]Entry, error) {
	var out []Entry
	for !c.buffer.IsEmpty() {
		e, err := c.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("history: dequeue failed: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// GetMetrics returns an atomic snapshot of the counters.
func (c *Collector) GetMetrics() Metrics {
	return Metrics{
		Recorded:    atomic.LoadInt64(&c.recorded),
		Overwritten: atomic.LoadInt64(&c.overwritten),
		Errors:      atomic.LoadInt64(&c.errors),
	}
}
