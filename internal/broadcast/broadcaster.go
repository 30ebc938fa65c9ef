// Package broadcast fans conversation events out to live subscribers.
package broadcast

import (
	"context"
	"strings"
	"sync"
	"time"

	"booking-inbox/internal/domain"
)

const defaultBufferSize = 64

// Broadcaster delivers events to the subscribers of one contact id. There is
// no backlog: a subscriber only sees events published after it subscribed.
type Broadcaster struct {
	subs       map[string]map[chan domain.ConversationEvent]struct{}
	mu         sync.Mutex
	done       chan struct{}
	bufferSize int
	now        func() time.Time
}

// New creates a Broadcaster with the default buffer size (64).
func New() *Broadcaster {
	return NewWithBuffer(defaultBufferSize)
}

// NewWithBuffer creates a Broadcaster with a custom per-subscriber buffer.
func NewWithBuffer(size int) *Broadcaster {
	if size < 1 {
		size = 1
	}
	return &Broadcaster{
		subs:       make(map[string]map[chan domain.ConversationEvent]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
		now:        time.Now,
	}
}

// Subscribe registers a stream for contactID. The first event is always
// EventConnected. The channel is closed and removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, contactID string) <-chan domain.ConversationEvent {
	contactID = strings.TrimSpace(contactID)

	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan domain.ConversationEvent)
		close(ch)
		return ch
	default:
	}

	sub := make(chan domain.ConversationEvent, b.bufferSize)
	sub <- domain.ConversationEvent{
		Type:      domain.EventConnected,
		ContactID: contactID,
		Date:      b.now().UTC(),
	}
	set, ok := b.subs[contactID]
	if !ok {
		set = make(map[chan domain.ConversationEvent]struct{})
		b.subs[contactID] = set
	}
	set[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()

		select {
		case <-b.done:
			return
		default:
		}

		b.remove(contactID, sub)
		close(sub)
	}()

	return sub
}

// remove expects b.mu to be held.
func (b *Broadcaster) remove(contactID string, sub chan domain.ConversationEvent) {
	set := b.subs[contactID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, contactID)
	}
}

// Publish sends ev to every subscriber of ev.ContactID. Non-blocking: a
// subscriber whose buffer is full misses the event.
func (b *Broadcaster) Publish(ev domain.ConversationEvent) {
	if ev.Date.IsZero() {
		ev.Date = b.now().UTC()
	}

	// The exclusive lock keeps publish order per contact across goroutines.
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	for sub := range b.subs[ev.ContactID] {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Close shuts down the broadcaster and all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	close(b.done)
	for _, set := range b.subs {
		for sub := range set {
			close(sub)
		}
	}
	b.subs = nil
}

// SubscriberCount returns the number of live subscribers for contactID.
func (b *Broadcaster) SubscriberCount(contactID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[contactID])
}
