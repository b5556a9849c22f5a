package display

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []Message
}

func (r *recordingSink) Deliver(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *recordingSink) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func newQuietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestConsumerRendersTaggedLines(t *testing.T) {
	// GOAL: Verify each mode renders with its tag and sinks receive copies
	//
	// TEST SCENARIO: Publish one message per mode → consumer loop exits on
	// Close → output carries tags in order, sink saw every message

	ch := NewChannel()
	var out bytes.Buffer
	sink := &recordingSink{}
	c := NewConsumer(ch, &out, newQuietLogger(), false, sink)

	finished := make(chan struct{})
	go func() {
		c.Run()
		close(finished)
	}()

	require.NoError(t, ch.Publish("device name", ModeRead))
	require.NoError(t, ch.Publish("heart rate", ModeNotify))
	require.NoError(t, ch.Publish("service changed", ModeIndicate))
	require.NoError(t, ch.Publish("session drained", ModeInfo))
	ch.Close()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("consumer MUST exit once the channel closes")
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "READ device name", lines[0])
	assert.Equal(t, "NTFY heart rate", lines[1])
	assert.Equal(t, "INDI service changed", lines[2])
	assert.Equal(t, "INFO session drained", lines[3])

	assert.Len(t, sink.all(), 4, "sink MUST receive every rendered message")
}

func TestConsumerBackpressuresProducer(t *testing.T) {
	// GOAL: Verify a slow consumer stalls the producer instead of dropping
	//
	// TEST SCENARIO: Consumer sleeps per message → producer publishes twice →
	// second publish completes only after the first message was processed

	ch := NewChannel()
	var out bytes.Buffer
	processed := make(chan string, 2)
	slow := sinkFunc(func(m Message) {
		time.Sleep(30 * time.Millisecond)
		processed <- m.Text
	})
	c := NewConsumer(ch, &out, newQuietLogger(), false, slow)
	go c.Run()
	defer ch.Close()

	require.NoError(t, ch.Publish("first", ModeNotify))
	require.NoError(t, ch.Publish("second", ModeNotify))

	assert.Equal(t, "first", <-processed)
	assert.Equal(t, "second", <-processed)
}

type sinkFunc func(Message)

func (f sinkFunc) Deliver(m Message) { f(m) }
