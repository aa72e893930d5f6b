// Package broadcast fans "Doc should speak this" events out to every
// presentation surface attached to a conversation.
package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/observability"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Event is one line of text Doc should speak.
type Event struct {
	Text string `json:"text"`
}

// Subscription is one live subscriber. C is closed on unsubscribe.
type Subscription struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Channel delivers every published event to every subscriber in publish
// order. A subscriber whose queue is full misses the event; others are not
// affected.
type Channel struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool
	logger zerolog.Logger
}

// NewChannel creates a channel with the given per-subscriber buffer.
func NewChannel(buffer int, logger zerolog.Logger) *Channel {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Channel{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed channel
// returns a subscription whose C is already closed.
func (c *Channel) Subscribe() *Subscription {
	ch := make(chan Event, c.buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return sub
	}
	c.subs[sub.ID] = sub
	observability.AddBroadcastSubscribers(1)
	c.logger.Debug().Str("subscriber_id", sub.ID).Int("subscribers", len(c.subs)).Msg("Subscriber added")
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (c *Channel) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sub.ID]; !ok {
		return
	}
	delete(c.subs, sub.ID)
	close(sub.ch)
	observability.AddBroadcastSubscribers(-1)
	c.logger.Debug().Str("subscriber_id", sub.ID).Int("subscribers", len(c.subs)).Msg("Subscriber removed")
}

// Publish hands text to every subscriber and returns how many accepted it.
func (c *Channel) Publish(text string) int {
	ev := Event{Text: text}

	c.mu.RLock()
	defer c.mu.RUnlock()

	delivered := 0
	for id, sub := range c.subs {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			observability.RecordBroadcastDropped()
			c.logger.Warn().Str("subscriber_id", id).Msg("Subscriber queue full, event dropped")
		}
	}
	return delivered
}

// Len returns the number of live subscribers.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Close unsubscribes everyone. Later publishes are no-ops.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
		observability.AddBroadcastSubscribers(-1)
	}
}
