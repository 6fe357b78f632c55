package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/musoukun/policyScope/internal/store"
)

func receiveEvent(t *testing.T, ch <-chan RunEvent) RunEvent {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before receive")
		}
		return ev
	case <-timer.C:
		t.Fatal("timed out waiting for event")
	}

	return RunEvent{}
}

func waitForClosed(t *testing.T, ch <-chan RunEvent) {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestSubscribe_RemovedOnCancel(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "run-1")
	if got := b.Subscribers("run-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	cancel()
	waitForClosed(t, ch)

	b.mu.RLock()
	_, exists := b.subscribers["run-1"]
	b.mu.RUnlock()
	if exists {
		t.Fatal("subscriber not removed")
	}
}

func TestPublish_FansOutPerRun(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := b.Subscribe(ctx, "run-1")
	ch2 := b.Subscribe(ctx, "run-1")
	other := b.Subscribe(ctx, "run-2")

	b.Publish(RunEvent{RunID: "run-1", Seq: 1, Type: store.EventStageStarted})
	if got := receiveEvent(t, ch1); got.Seq != 1 {
		t.Fatalf("unexpected event %+v", got)
	}
	if got := receiveEvent(t, ch2); got.Type != store.EventStageStarted {
		t.Fatalf("unexpected event %+v", got)
	}
	select {
	case <-other:
		t.Fatal("unexpected event for different run")
	default:
	}

	cancel()
	waitForClosed(t, ch1)
	waitForClosed(t, ch2)
	waitForClosed(t, other)
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	var dropped atomic.Int64
	b := NewBroker(WithBuffer(2), WithDropHook(func(RunEvent) { dropped.Add(1) }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "run-1")
	for i := 1; i <= 3; i++ {
		b.Publish(RunEvent{RunID: "run-1", Seq: int64(i)})
	}
	if len(ch) != 2 {
		t.Fatalf("expected full buffer, got %d", len(ch))
	}
	if dropped.Load() != 1 {
		t.Fatalf("expected one dropped event, got %d", dropped.Load())
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBroker()
	b.Publish(RunEvent{RunID: "run-1"})
}

func TestConcurrent_SubscribePublishCancel(t *testing.T) {
	b := NewBroker()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			defer wg.Done()
			ch := b.Subscribe(ctx, "run-1")
			cancel()
			for range ch {
			}
		}()
		go func(seq int) {
			defer wg.Done()
			b.Publish(RunEvent{RunID: "run-1", Seq: int64(seq)})
		}(i)
	}
	wg.Wait()
}

func TestStoreConversion(t *testing.T) {
	stored := store.RunEvent{RunID: "run-1", Seq: 3, Type: "RUN_FAILED", Timestamp: "2026-02-07T00:00:00Z", Source: "worker"}
	event := FromStore(stored)
	if event.Type != store.EventRunFailed || event.Ts != stored.Timestamp || event.Payload == nil {
		t.Fatalf("unexpected conversion %+v", event)
	}
	if !event.Terminal() {
		t.Fatal("expected run.failed to be terminal")
	}
	if (RunEvent{Type: store.EventStageCompleted}).Terminal() {
		t.Fatal("stage events are not terminal")
	}
	back := event.Store()
	if back.Timestamp != stored.Timestamp || back.Seq != 3 {
		t.Fatalf("unexpected round trip %+v", back)
	}
}
