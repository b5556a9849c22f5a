package display

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelDeliversInOrder(t *testing.T) {
	// GOAL: Verify strict FIFO delivery across the rendezvous
	//
	// TEST SCENARIO: Producer publishes A then B → consumer receives A before
	// B, and the second publish cannot complete before the first hand-off

	ch := NewChannel()
	done := make(chan []Message)

	go func() {
		var got []Message
		for {
			m, ok := ch.Consume()
			if !ok {
				done <- got
				return
			}
			got = append(got, m)
		}
	}()

	require.NoError(t, ch.Publish("A", ModeRead))
	require.NoError(t, ch.Publish("B", ModeNotify))
	ch.Close()

	got := <-done
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Text)
	assert.Equal(t, ModeRead, got[0].Mode)
	assert.Equal(t, "B", got[1].Text)
	assert.Equal(t, ModeNotify, got[1].Mode)
}

func TestPublishBlocksUntilConsumed(t *testing.T) {
	// GOAL: Verify the producer blocks until the consumer takes the message
	//
	// TEST SCENARIO: Publish with no consumer → producer stays blocked →
	// Consume releases it

	ch := NewChannel()
	published := make(chan struct{})

	go func() {
		_ = ch.Publish("slow", ModeInfo)
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("Publish MUST NOT return before the consumer takes the message")
	case <-time.After(50 * time.Millisecond):
	}

	m, ok := ch.Consume()
	require.True(t, ok)
	assert.Equal(t, "slow", m.Text)

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Publish MUST return once the message was consumed")
	}
}

func TestCloseWakesBlockedConsumer(t *testing.T) {
	// GOAL: Verify Close wakes a consumer blocked with no pending message
	//
	// TEST SCENARIO: Consumer waits on an empty channel → Close → Consume
	// returns not-ok and IsActive reports false

	ch := NewChannel()
	woke := make(chan bool)

	go func() {
		_, ok := ch.Consume()
		woke <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case ok := <-woke:
		assert.False(t, ok, "wakeup without a message MUST report not-ok")
	case <-time.After(time.Second):
		t.Fatal("Close MUST wake the blocked consumer")
	}
	assert.False(t, ch.IsActive())
}

func TestPublishAfterCloseIsDiscarded(t *testing.T) {
	// GOAL: Verify publishing into a closed channel returns ErrClosed instead
	// of blocking forever

	ch := NewChannel()
	ch.Close()

	err := ch.Publish("late", ModeNotify)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	ch := NewChannel()
	ch.Close()
	ch.Close()
	assert.False(t, ch.IsActive())
}

func TestCloseUnblocksPublisher(t *testing.T) {
	// GOAL: Verify a producer blocked mid-publish is released by Close
	//
	// TEST SCENARIO: Publish with no consumer → Close from another goroutine
	// → Publish returns ErrClosed

	ch := NewChannel()
	result := make(chan error)

	go func() {
		result <- ch.Publish("stuck", ModeRead)
	}()

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close MUST unblock the publisher")
	}
}
