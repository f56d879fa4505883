package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	assert.Equal(t, 1, broker.SubscriberCount())

	broker.Publish(&Event{
		Type:      EventReleaseCreated,
		ReleaseID: "rel-1",
		Message:   "release created",
	})

	select {
	case event := <-sub:
		assert.Equal(t, EventReleaseCreated, event.Type)
		assert.Equal(t, "rel-1", event.ReleaseID)
		assert.False(t, event.Timestamp.IsZero(), "broker should stamp events")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	subA := broker.Subscribe()
	subB := broker.Subscribe()

	broker.Publish(&Event{Type: EventReleasePromoted, ReleaseID: "rel-1"})

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case event := <-sub:
			require.Equal(t, EventReleasePromoted, event.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	// Channel is closed after unsubscribe
	_, open := <-sub
	assert.False(t, open)
}

func TestBrokerFullSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; publishing past its buffer must not wedge the broker
	_ = broker.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventReleaseApplying, ReleaseID: "rel-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broker blocked on a full subscriber")
	}
}
