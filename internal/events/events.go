package events

import (
	"context"
	"sync"

	"github.com/musoukun/policyScope/internal/store"
)

type RunEvent struct {
	RunID   string         `json:"run_id"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	Source  string         `json:"source"`
	TraceID string         `json:"trace_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

func FromStore(event store.RunEvent) RunEvent {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return RunEvent{
		RunID:   event.RunID,
		Seq:     event.Seq,
		Type:    store.NormalizeEventType(event.Type),
		Ts:      event.Timestamp,
		Source:  event.Source,
		TraceID: event.TraceID,
		Payload: payload,
	}
}

func (e RunEvent) Store() store.RunEvent {
	return store.RunEvent{
		RunID:     e.RunID,
		Seq:       e.Seq,
		Type:      store.NormalizeEventType(e.Type),
		Timestamp: e.Ts,
		Source:    e.Source,
		TraceID:   e.TraceID,
		Payload:   e.Payload,
	}
}

// Terminal reports whether no further events follow for the run.
func (e RunEvent) Terminal() bool {
	switch store.NormalizeEventType(e.Type) {
	case store.EventRunCompleted, store.EventRunFailed, store.EventRunCancelled:
		return true
	}
	return false
}

const defaultBuffer = 16

// Broker fans run events out to live subscribers. Slow subscribers drop
// events and recover them through replay.
type Broker struct {
	mu          sync.RWMutex
	buffer      int
	subscribers map[string]map[chan RunEvent]struct{}
	onDrop      func(RunEvent)
}

type Option func(*Broker)

func WithBuffer(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.buffer = size
		}
	}
}

func WithDropHook(hook func(RunEvent)) Option {
	return func(b *Broker) {
		b.onDrop = hook
	}
}

func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		buffer:      defaultBuffer,
		subscribers: map[string]map[chan RunEvent]struct{}{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers for events of runID until ctx is done, at which point
// the channel is closed.
func (b *Broker) Subscribe(ctx context.Context, runID string) <-chan RunEvent {
	ch := make(chan RunEvent, b.buffer)

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = map[chan RunEvent]struct{}{}
	}
	b.subscribers[runID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[runID] != nil {
			delete(b.subscribers[runID], ch)
			if len(b.subscribers[runID]) == 0 {
				delete(b.subscribers, runID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func (b *Broker) Subscribers(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[runID])
}

// Publish never blocks. Sends happen under the read lock so a subscriber
// cannot be closed mid-send.
func (b *Broker) Publish(event RunEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.RunID] {
		select {
		case ch <- event:
		default:
			if b.onDrop != nil {
				b.onDrop(event)
			}
		}
	}
}
