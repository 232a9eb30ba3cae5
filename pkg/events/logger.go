package events

import (
	"context"
	"sync"
)

// forwardBuffer is the per-topic queue depth for Forward subscribers.
const forwardBuffer = 64

// Topics returns every well-known topic.
func Topics() []string {
	return []string{
		TopicQueryCompleted,
		TopicQueryFailed,
		TopicGoalCompleted,
		TopicGoalCancelled,
		TopicStepCompleted,
		TopicStepFailed,
		TopicMilestoneReached,
		TopicVoteCast,
		TopicDecisionClosed,
		TopicDecisionMade,
	}
}

// Forward subscribes to the given topics and invokes fn for every event
// until the context is cancelled or the bus closes. It blocks; run it in
// its own goroutine. fn may be called concurrently across topics.
func Forward(ctx context.Context, bus *Bus, fn func(Event), topics ...string) {
	var wg sync.WaitGroup
	for _, topic := range topics {
		ch, unsubscribe := bus.Subscribe(topic, "forward:"+topic, forwardBuffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					fn(ev)
				}
			}
		}()
	}
	wg.Wait()
}
