package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	b.Publish(core.NewNotification(core.KindStarted, "", nil))

	n1 := <-ch1
	n2 := <-ch2
	assert.Equal(t, core.KindStarted, n1.Kind)
	assert.Equal(t, n1.ID, n2.ID)
}

func TestBroker_PublishWithoutListenersDoesNotBlock(t *testing.T) {
	b := NewBroker()
	for i := 0; i < 1000; i++ {
		b.Publish(core.NewNotification(core.KindUsage, "coder", nil))
	}
}

func TestBroker_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(2)
	defer cancel()

	for i := 0; i < 10; i++ {
		b.Publish(core.NewNotification(core.KindUsage, "coder", map[string]any{"seq": i}))
	}

	// Only the buffered notifications survive.
	assert.Len(t, ch, 2)
	first := <-ch
	assert.Equal(t, 0, first.Payload["seq"])
}

func TestBroker_CancelStopsDelivery(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(4)
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
	b.Publish(core.NewNotification(core.KindStopped, "", nil))
}

func TestBroker_CloseTerminatesSubscribers(t *testing.T) {
	b := NewBroker()
	ch, _ := b.Subscribe(1)
	b.Close()

	_, open := <-ch
	require.False(t, open)

	// Publishing and subscribing after close are safe no-ops.
	b.Publish(core.NewNotification(core.KindStopped, "", nil))
	late, _ := b.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
