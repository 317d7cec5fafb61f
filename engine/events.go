package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind names an engine event.
type EventKind string

const (
	EventWorkflowCreated  EventKind = "workflow_created"
	EventStateChanged     EventKind = "state_changed"
	EventContextUpdated   EventKind = "context_updated"
	EventSideEffectFailed EventKind = "side_effect_failed"
)

// Side effect names reported on EventSideEffectFailed.
const (
	EffectAudit        = "audit"
	EffectNotification = "notification"
	EffectPersistence  = "persistence"
)

// Event is emitted after a mutation is committed, or when a side channel fails.
type Event struct {
	Kind         EventKind `json:"kind"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowType string    `json:"workflow_type"`
	FromState    string    `json:"from_state,omitempty"`
	ToState      string    `json:"to_state,omitempty"`
	Action       string    `json:"action,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Terminal     bool      `json:"terminal,omitempty"`
	Effect       string    `json:"effect,omitempty"`
	Err          error     `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
}

// Observer receives engine events. OnEvent runs on the emitting goroutine and must not block.
type Observer interface {
	OnEvent(ctx context.Context, evt Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, evt Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ctx context.Context, evt Event) { f(ctx, evt) }

// Subscription ties an observer to its owner's lifetime.
type Subscription interface {
	Unsubscribe()
}

type observerEntry struct {
	id  uint64
	obs Observer
}

type eventBus struct {
	mu        sync.RWMutex
	next      uint64
	observers []observerEntry
	logger    Logger
}

type busSubscription struct {
	bus  *eventBus
	id   uint64
	once sync.Once
}

func (s *busSubscription) Unsubscribe() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		next := make([]observerEntry, 0, len(b.observers))
		for _, entry := range b.observers {
			if entry.id != s.id {
				next = append(next, entry)
			}
		}
		b.observers = next
	})
}

func (b *eventBus) subscribe(obs Observer) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.observers = append(b.observers, observerEntry{id: b.next, obs: obs})
	return &busSubscription{bus: b, id: b.next}
}

func (b *eventBus) emit(ctx context.Context, evt Event) {
	b.mu.RLock()
	observers := append([]observerEntry(nil), b.observers...)
	b.mu.RUnlock()
	for _, entry := range observers {
		b.deliver(ctx, entry.obs, evt)
	}
}

func (b *eventBus) deliver(ctx context.Context, obs Observer, evt Event) {
	defer recoverPanic(b.logger, "observer", map[string]any{
		"event":       string(evt.Kind),
		"workflow_id": evt.WorkflowID,
	})
	obs.OnEvent(ctx, evt)
}

func (b *eventBus) dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, entry := range b.observers {
		if dc, ok := entry.obs.(interface{ Dropped() int64 }); ok {
			total += dc.Dropped()
		}
	}
	return total
}

// ChannelObserver buffers events on a bounded channel. Events that do not fit are dropped and counted.
type ChannelObserver struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelObserver creates an observer with the given buffer size (minimum 1).
func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelObserver{ch: make(chan Event, buffer)}
}

// OnEvent enqueues evt without blocking.
func (c *ChannelObserver) OnEvent(_ context.Context, evt Event) {
	select {
	case c.ch <- evt:
	default:
		c.dropped.Add(1)
	}
}

// Events exposes the receive side of the buffer.
func (c *ChannelObserver) Events() <-chan Event { return c.ch }

// Dropped returns the number of events discarded because the buffer was full.
func (c *ChannelObserver) Dropped() int64 { return c.dropped.Load() }
