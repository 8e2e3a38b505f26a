package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()
	events, unsubscribe := hub.Subscribe("run-1")
	defer unsubscribe()

	hub.Publish(Event{RunID: "run-1", Status: StatusRunning, Progress: 50})
	hub.Publish(Event{RunID: "run-2", Status: StatusRunning, Progress: 10})

	ev := <-events
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, 50, ev.Progress)
	select {
	case extra := <-events:
		t.Fatalf("unexpected event for another run: %+v", extra)
	default:
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	_, unsubscribe := hub.Subscribe("run-1")
	defer unsubscribe()

	// Nobody drains the channel; publishing must still return.
	for i := 0; i < 1000; i++ {
		hub.Publish(Event{RunID: "run-1", Status: StatusRunning, Progress: i % 100})
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	events, unsubscribe := hub.Subscribe("run-1")
	unsubscribe()
	unsubscribe() // second call is a no-op

	_, open := <-events
	require.False(t, open)
	hub.Publish(Event{RunID: "run-1", Status: StatusCompleted})
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	hub.Publish(Event{RunID: "run-unknown", Status: StatusRunning})
}
