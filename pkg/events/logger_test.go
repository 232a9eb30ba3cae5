package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForwardDeliversAcrossTopics(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	seen := map[string]int{}
	received := make(chan struct{}, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Forward(ctx, bus, func(ev Event) {
		mu.Lock()
		seen[ev.Topic]++
		mu.Unlock()
		received <- struct{}{}
	}, TopicQueryCompleted, TopicVoteCast)

	// Give the subscribers a moment to register.
	waitForSubscriber(t, bus, TopicQueryCompleted)

	bus.Publish(TopicQueryCompleted, map[string]any{"query_id": "q1"})
	bus.Publish(TopicVoteCast, nil)
	bus.Publish(TopicGoalCompleted, nil) // not forwarded

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("forwarded event not delivered")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[TopicQueryCompleted])
	assert.Equal(t, 1, seen[TopicVoteCast])
	assert.Zero(t, seen[TopicGoalCompleted])
}

func TestForwardStopsOnCancel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Forward(ctx, bus, func(Event) {}, TopicStepFailed)
		close(done)
	}()
	waitForSubscriber(t, bus, TopicStepFailed)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after cancellation")
	}

	// The subscriber is gone, so publishing neither blocks nor drops.
	bus.Publish(TopicStepFailed, nil)
	assert.Equal(t, int64(0), bus.Dropped())
}

func TestTopicsCoversAllConstants(t *testing.T) {
	topics := Topics()
	assert.Len(t, topics, 10)
	assert.Contains(t, topics, TopicQueryCompleted)
	assert.Contains(t, topics, TopicMilestoneReached)
	assert.Contains(t, topics, TopicDecisionMade)
}

func waitForSubscriber(t *testing.T, bus *Bus, topic string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		bus.mu.RLock()
		n := len(bus.subs[topic])
		bus.mu.RUnlock()
		if n > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		case <-time.After(time.Millisecond):
		}
	}
}
