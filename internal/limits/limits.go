package limits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// CallType names a budgeted backend operation.
type CallType string

const (
	WikiGeneration CallType = "wiki_generation"
	NewsFetch      CallType = "news_fetch"
)

var ErrUnknownCallType = errors.New("unknown call type")

// Status is the budget of one call type for the current daily window.
type Status struct {
	CallType     CallType  `json:"call_type"`
	DailyLimit   int       `json:"daily_limit"`
	CurrentCount int       `json:"current_count"`
	Remaining    int       `json:"remaining"`
	WindowDate   string    `json:"last_reset_date"`
	ResetAt      time.Time `json:"reset_at"`
}

func (s Status) CanCall() bool {
	return s.Remaining > 0
}

// Budget tracks daily call counts. Consume never counts past the limit and
// Release returns one consumed call, never going below zero.
type Budget interface {
	Check(ctx context.Context, callType CallType) (Status, error)
	Consume(ctx context.Context, callType CallType) (Status, bool, error)
	Release(ctx context.Context, callType CallType) (Status, error)
	Reset(ctx context.Context, callType CallType) (Status, error)
	List(ctx context.Context) ([]Status, error)
}

// Limits maps each call type to its daily limit.
type Limits map[CallType]int

func (l Limits) limit(callType CallType) (int, error) {
	limit, ok := l[callType]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCallType, callType)
	}
	return limit, nil
}

func (l Limits) types() []CallType {
	types := make([]CallType, 0, len(l))
	for callType := range l {
		types = append(types, callType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseCallType validates a call type received from a caller.
func ParseCallType(raw string) (CallType, error) {
	switch CallType(raw) {
	case WikiGeneration, NewsFetch:
		return CallType(raw), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCallType, raw)
}

type window struct {
	date    string
	resetAt time.Time
}

func windowAt(now time.Time, loc *time.Location) window {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return window{date: start.Format("2006-01-02"), resetAt: start.AddDate(0, 0, 1)}
}

func newStatus(callType CallType, limit int, count int, w window) Status {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		CallType:     callType,
		DailyLimit:   limit,
		CurrentCount: count,
		Remaining:    remaining,
		WindowDate:   w.date,
		ResetAt:      w.resetAt,
	}
}
