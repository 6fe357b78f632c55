package limits

import (
	"context"
	"sync"
	"time"
)

// MemoryBudget is a process-local Budget for development and tests.
type MemoryBudget struct {
	mu     sync.Mutex
	limits Limits
	counts map[CallType]int
	dates  map[CallType]string
	loc    *time.Location
	now    func() time.Time
}

func NewMemoryBudget(limits Limits, now func() time.Time) *MemoryBudget {
	if now == nil {
		now = time.Now
	}
	return &MemoryBudget{
		limits: limits,
		counts: map[CallType]int{},
		dates:  map[CallType]string{},
		loc:    time.UTC,
		now:    now,
	}
}

// current returns the count for the active window, resetting a stale one.
// Callers hold b.mu.
func (b *MemoryBudget) current(callType CallType) (int, window) {
	w := windowAt(b.now(), b.loc)
	if b.dates[callType] != w.date {
		b.dates[callType] = w.date
		b.counts[callType] = 0
	}
	return b.counts[callType], w
}

func (b *MemoryBudget) Check(ctx context.Context, callType CallType) (Status, error) {
	limit, err := b.limits.limit(callType)
	if err != nil {
		return Status{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	count, w := b.current(callType)
	return newStatus(callType, limit, count, w), nil
}

func (b *MemoryBudget) Consume(ctx context.Context, callType CallType) (Status, bool, error) {
	limit, err := b.limits.limit(callType)
	if err != nil {
		return Status{}, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	count, w := b.current(callType)
	if count >= limit {
		return newStatus(callType, limit, count, w), false, nil
	}
	b.counts[callType] = count + 1
	return newStatus(callType, limit, count+1, w), true, nil
}

func (b *MemoryBudget) Release(ctx context.Context, callType CallType) (Status, error) {
	limit, err := b.limits.limit(callType)
	if err != nil {
		return Status{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	count, w := b.current(callType)
	if count > 0 {
		count--
		b.counts[callType] = count
	}
	return newStatus(callType, limit, count, w), nil
}

func (b *MemoryBudget) Reset(ctx context.Context, callType CallType) (Status, error) {
	limit, err := b.limits.limit(callType)
	if err != nil {
		return Status{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, w := b.current(callType)
	b.counts[callType] = 0
	return newStatus(callType, limit, 0, w), nil
}

func (b *MemoryBudget) List(ctx context.Context) ([]Status, error) {
	types := b.limits.types()
	statuses := make([]Status, 0, len(types))
	for _, callType := range types {
		status, err := b.Check(ctx, callType)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
