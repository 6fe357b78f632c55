package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newBudgets(t *testing.T, limits Limits, clock *fakeClock) map[string]Budget {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(clock.now)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Budget{
		"redis":  NewRedisBudget(client, limits, WithClock(clock.Now)),
		"memory": NewMemoryBudget(limits, clock.Now),
	}
}

func TestBudgetConsumeStopsAtLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}
	for name, budget := range newBudgets(t, Limits{WikiGeneration: 2, NewsFetch: 5}, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			status, ok, err := budget.Consume(ctx, WikiGeneration)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, 1, status.CurrentCount)
			require.Equal(t, 1, status.Remaining)

			_, ok, err = budget.Consume(ctx, WikiGeneration)
			require.NoError(t, err)
			require.True(t, ok)

			status, ok, err = budget.Consume(ctx, WikiGeneration)
			require.NoError(t, err)
			require.False(t, ok)
			require.Equal(t, 2, status.CurrentCount)
			require.False(t, status.CanCall())

			status, err = budget.Check(ctx, WikiGeneration)
			require.NoError(t, err)
			require.Equal(t, 2, status.CurrentCount)
			require.Equal(t, 0, status.Remaining)
			require.Equal(t, "2025-09-01", status.WindowDate)
			require.Equal(t, time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC), status.ResetAt)

			status, err = budget.Check(ctx, NewsFetch)
			require.NoError(t, err)
			require.True(t, status.CanCall())
			require.Equal(t, 5, status.Remaining)
		})
	}
}

func TestBudgetReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}
	for name, budget := range newBudgets(t, Limits{NewsFetch: 1}, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := budget.Consume(ctx, NewsFetch)
			require.NoError(t, err)
			require.True(t, ok)

			status, err := budget.Reset(ctx, NewsFetch)
			require.NoError(t, err)
			require.Equal(t, 0, status.CurrentCount)

			_, ok, err = budget.Consume(ctx, NewsFetch)
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestBudgetReleaseReturnsOneCall(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}
	for name, budget := range newBudgets(t, Limits{WikiGeneration: 2}, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			status, err := budget.Release(ctx, WikiGeneration)
			require.NoError(t, err)
			require.Equal(t, 0, status.CurrentCount)

			for i := 0; i < 2; i++ {
				_, ok, err := budget.Consume(ctx, WikiGeneration)
				require.NoError(t, err)
				require.True(t, ok)
			}
			status, err = budget.Release(ctx, WikiGeneration)
			require.NoError(t, err)
			require.Equal(t, 1, status.CurrentCount)
			require.Equal(t, 1, status.Remaining)

			_, ok, err := budget.Consume(ctx, WikiGeneration)
			require.NoError(t, err)
			require.True(t, ok)

			_, err = budget.Release(ctx, NewsFetch)
			require.True(t, errors.Is(err, ErrUnknownCallType))
		})
	}
}

func TestBudgetNewDayStartsFresh(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 1, 23, 59, 0, 0, time.UTC)}
	for name, budget := range newBudgets(t, Limits{WikiGeneration: 1}, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock.now = time.Date(2025, 9, 1, 23, 59, 0, 0, time.UTC)
			_, ok, err := budget.Consume(ctx, WikiGeneration)
			require.NoError(t, err)
			require.True(t, ok)

			clock.now = clock.now.Add(2 * time.Minute)
			status, err := budget.Check(ctx, WikiGeneration)
			require.NoError(t, err)
			require.Equal(t, 0, status.CurrentCount)
			require.Equal(t, "2025-09-02", status.WindowDate)
		})
	}
}

func TestBudgetUnknownCallType(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	for name, budget := range newBudgets(t, Limits{WikiGeneration: 1}, clock) {
		t.Run(name, func(t *testing.T) {
			_, err := budget.Check(context.Background(), NewsFetch)
			require.True(t, errors.Is(err, ErrUnknownCallType))
			_, _, err = budget.Consume(context.Background(), "other")
			require.True(t, errors.Is(err, ErrUnknownCallType))
		})
	}
}

func TestBudgetListSorted(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}
	for name, budget := range newBudgets(t, Limits{WikiGeneration: 10, NewsFetch: 30}, clock) {
		t.Run(name, func(t *testing.T) {
			statuses, err := budget.List(context.Background())
			require.NoError(t, err)
			require.Len(t, statuses, 2)
			require.Equal(t, NewsFetch, statuses[0].CallType)
			require.Equal(t, WikiGeneration, statuses[1].CallType)
			require.Equal(t, 30, statuses[0].DailyLimit)
		})
	}
}

func TestRedisBudgetKeyExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	clock := &fakeClock{now: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}
	mr.SetTime(clock.now)
	budget := NewRedisBudget(client, Limits{WikiGeneration: 3}, WithClock(clock.Now), WithKeyPrefix("test"))

	_, _, err := budget.Consume(context.Background(), WikiGeneration)
	require.NoError(t, err)
	require.True(t, mr.Exists("test:wiki_generation:2025-09-01"))
	require.Greater(t, mr.TTL("test:wiki_generation:2025-09-01"), time.Duration(0))
}

func TestParseCallType(t *testing.T) {
	callType, err := ParseCallType("news_fetch")
	require.NoError(t, err)
	require.Equal(t, NewsFetch, callType)

	_, err = ParseCallType("chat")
	require.True(t, errors.Is(err, ErrUnknownCallType))
}
