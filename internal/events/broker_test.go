package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	require.Equal(t, 2, b.Subscribers())
	b.Publish("worker-log", map[string]string{"line": "hello"})

	for _, ch := range []<-chan string{ch1, ch2} {
		select {
		case msg := <-ch:
			assert.Contains(t, msg, "event: worker-log\n")
			assert.Contains(t, msg, `"line":"hello"`)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestCancelClosesChannelAndIsIdempotent(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // second cancel must not panic

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the subscriber buffer; Publish must never stall.
		for i := 0; i < 1000; i++ {
			b.Publish("worker-log", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnserializablePayloadDropped(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish("bad", make(chan int)) // not JSON-serializable
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
