package pipeline

import (
	"sync"
	"time"

	"media-ingest/internal/domain"
)

// EventType classifies messages emitted during a run.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq           int64                `json:"seq"`
	Timestamp     time.Time            `json:"timestamp"`
	RunID         string               `json:"runId"`
	Type          EventType            `json:"type"`
	Phase         domain.Phase         `json:"phase,omitempty"`
	Message       string               `json:"message,omitempty"`
	Ratio         float64              `json:"ratio,omitempty"`
	RemoteMediaID domain.RemoteMediaID `json:"remoteMediaId,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every event published after the call and returns
// a func that removes it. fn runs on the publishing goroutine.
func (b *EventBus) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}

	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
	}
}

// Publish appends one event, assigns sequence and timestamp and notifies subscribers.
func (b *EventBus) Publish(event Event) Event {
	published := b.store(event)

	b.subMu.Lock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.subMu.Unlock()

	for _, fn := range subs {
		fn(published)
	}
	return published
}

func (b *EventBus) store(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = append([]Event(nil), b.events[len(b.events)-b.maxEvents:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest event, or 0.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
