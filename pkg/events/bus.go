// Package events provides the in-process publish/subscribe bus used for
// cross-component hooks. Delivery is best-effort at-most-once per
// subscriber: publishers never block, and events that would overflow a
// subscriber's queue are dropped and logged.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Well-known topics. Subscribers are registered at startup, not discovered
// dynamically, so the set of topics is a closed list.
const (
	TopicQueryCompleted   = "orchestrator.query_completed"
	TopicQueryFailed      = "orchestrator.query_failed"
	TopicGoalCompleted    = "planning.goal_completed"
	TopicGoalCancelled    = "planning.goal_cancelled"
	TopicStepCompleted    = "planning.step_completed"
	TopicStepFailed       = "planning.step_failed"
	TopicMilestoneReached = "planning.milestone_reached"
	TopicVoteCast         = "sci.vote_cast"
	TopicDecisionClosed   = "sci.decision_closed"
	TopicDecisionMade     = "meta.decision_made"
)

// Event is one published message.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   map[string]any
}

type subscriber struct {
	name string
	ch   chan Event
}

// Bus is a process-wide topic bus with bounded per-subscriber queues.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*subscriber
	closed  bool
	dropped int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers a named subscriber on a topic with the given queue
// capacity and returns its receive channel plus an unsubscribe function.
// The channel is closed on unsubscribe and on Bus.Close.
func (b *Bus) Subscribe(topic, name string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{name: name, ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s == sub {
					b.subs[topic] = append(list[:i], list[i+1:]...)
					close(sub.ch)
					return
				}
			}
		})
	}
	return sub.ch, unsubscribe
}

// Publish delivers an event to every subscriber of the topic without
// blocking. Subscribers whose queues are full miss the event.
func (b *Bus) Publish(topic string, payload map[string]any) {
	ev := Event{Topic: topic, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			slog.Warn("Event dropped, subscriber queue full",
				"topic", topic, "subscriber", sub.name)
		}
	}
}

// Dropped returns the number of events dropped due to subscriber overflow.
func (b *Bus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close shuts the bus down and closes every subscriber channel. Publishes
// after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, list := range b.subs {
		for _, sub := range list {
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
}
