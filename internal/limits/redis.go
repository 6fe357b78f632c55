package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "policyscope:budget"

// releaseScript decrements a counter that exists and is above zero.
var releaseScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count > 0 then
	return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisBudget keeps one counter per call type and day. Counters expire an
// hour after their window closes.
type RedisBudget struct {
	client *redis.Client
	limits Limits
	prefix string
	loc    *time.Location
	now    func() time.Time
}

type RedisOption func(*RedisBudget)

func WithKeyPrefix(prefix string) RedisOption {
	return func(b *RedisBudget) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

func WithLocation(loc *time.Location) RedisOption {
	return func(b *RedisBudget) {
		if loc != nil {
			b.loc = loc
		}
	}
}

func WithClock(now func() time.Time) RedisOption {
	return func(b *RedisBudget) {
		if now != nil {
			b.now = now
		}
	}
}

func NewRedisBudget(client *redis.Client, limits Limits, opts ...RedisOption) *RedisBudget {
	budget := &RedisBudget{
		client: client,
		limits: limits,
		prefix: defaultKeyPrefix,
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(budget)
	}
	return budget
}

func (b *RedisBudget) key(callType CallType, w window) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, callType, w.date)
}

func (b *RedisBudget) Check(ctx context.Context, callType CallType) (Status, error) {
	limit, err := b.limits.limit(callType)
	if err != nil {
		return Status{}, err
	}
	w := windowAt(b.now(), b.loc)
	count, err := b.client.Get(ctx, b.key(callType, w)).Int()
	if errors.Is(err, redis.Nil) {
		count = 0
	} else if err != nil {
		return Status{}, err
	}
	return newStatus(callType, limit, count, w), nil
}

func (b *RedisBudget) Consume(ctx context.Context, callType CallType) (Status, bool, error) {
	limit, err := b.limits.limit(callType)
	if err != nil {
		return Status{}, false, err
	}
	w := windowAt(b.now(), b.loc)
	key := b.key(callType, w)

	pipe := b.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, w.resetAt.Add(time.Hour))
	if _, err := pipe.Exec(ctx); err != nil {
		return Status{}, false, err
	}
	count := int(incr.Val())
	if count > limit {
		if err := b.client.Decr(ctx, key).Err(); err != nil {
			return Status{}, false, err
		}
		return newStatus(callType, limit, limit, w), false, nil
	}
	return newStatus(callType, limit, count, w), true, nil
}

func (b *RedisBudget) Release(ctx context.Context, callType CallType) (Status, error) {
	limit, err := b.limits.limit(callType)
	if err != nil {
		return Status{}, err
	}
	w := windowAt(b.now(), b.loc)
	count, err := releaseScript.Run(ctx, b.client, []string{b.key(callType, w)}).Int()
	if err != nil {
		return Status{}, err
	}
	return newStatus(callType, limit, count, w), nil
}

func (b *RedisBudget) Reset(ctx context.Context, callType CallType) (Status, error) {
	limit, err := b.limits.limit(callType)
	if err != nil {
		return Status{}, err
	}
	w := windowAt(b.now(), b.loc)
	if err := b.client.Del(ctx, b.key(callType, w)).Err(); err != nil {
		return Status{}, err
	}
	return newStatus(callType, limit, 0, w), nil
}

func (b *RedisBudget) List(ctx context.Context) ([]Status, error) {
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
