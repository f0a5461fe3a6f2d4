package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest event in the window expires and frees a slot.
	ResetAt time.Time
}

// Limiter is a sliding window limiter over Redis sorted sets. It guards the
// pay and return endpoints, where each request may cost a gateway round trip.
// Rejected attempts are not kept, so a client hammering the endpoint regains
// access as soon as its accepted requests age out.
type Limiter struct {
	Client redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

func (l Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow records one event for key and reports whether it fits in max per window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	now := l.now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: max, Remaining: max, ResetAt: now.Add(window)}, nil
	}

	redisKey := l.Prefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Limit: max, ResetAt: now.Add(window)}, err
	}

	d := Decision{Limit: max, ResetAt: now.Add(window)}
	if first := oldest.Val(); len(first) > 0 {
		d.ResetAt = time.Unix(0, int64(first[0].Score)).Add(window)
	}
	current := int(count.Val())
	if current > max {
		if err := l.Client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return d, err
		}
		return d, nil
	}
	d.Allowed = true
	d.Remaining = max - current
	return d, nil
}
