package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/admission-go/internal/ratelimit"
)

// recordScript runs prune, count, conditional add and expiry refresh as one unit.
//
// KEYS[1] window key
// ARGV[1] now, ARGV[2] prune cutoff (both unix seconds), ARGV[3] window seconds,
// ARGV[4] limit, ARGV[5] member
//
// Returns {admitted, count, oldest}; oldest is -1 when not read or the set is empty.
var recordScript = redis.NewScript(`
local key = KEYS[1]

redis.call("ZREMRANGEBYSCORE", key, "-inf", ARGV[2])
local count = redis.call("ZCARD", key)

if count >= tonumber(ARGV[4]) then
  local oldest = -1
  local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  if first[2] then
    oldest = tonumber(first[2])
  end
  return {0, count, oldest}
end

redis.call("ZADD", key, ARGV[1], ARGV[5])
redis.call("EXPIRE", key, ARGV[3])
return {1, count, -1}
`)

// RateLimitRedisStore is a Redis sorted-set implementation of ratelimit.Store.
// It is safe to share one Redis between any number of processes.
type RateLimitRedisStore struct {
	client redis.Cmdable
	member func() string
}

// NewRateLimitRedisStore creates a new Redis-backed sliding window store.
func NewRateLimitRedisStore(client redis.Cmdable) (*RateLimitRedisStore, error) {
	gen, err := nanoid.Standard(12)
	if err != nil {
		return nil, fmt.Errorf("member generator: %w", err)
	}

	return &RateLimitRedisStore{client: client, member: gen}, nil
}

func (r *RateLimitRedisStore) Record(
	ctx context.Context, key string, limit int64, window time.Duration, now time.Time,
) (ratelimit.Window, error) {
	ts := now.Unix()
	secs := int64(window / time.Second)
	score := strconv.FormatInt(ts, 10)

	res, err := recordScript.Run(ctx, r.client, []string{key},
		score,
		strconv.FormatInt(ts-secs, 10),
		strconv.FormatInt(secs, 10),
		strconv.FormatInt(limit, 10),
		score+"-"+r.member(),
	).Int64Slice()
	if err != nil {
		return ratelimit.Window{}, ratelimit.WrapStoreError(key, err)
	}

	if len(res) != 3 {
		return ratelimit.Window{}, ratelimit.WrapStoreError(key,
			fmt.Errorf("%w: %d values from record script", ratelimit.ErrUnexpectedReply, len(res)))
	}

	w := ratelimit.Window{Admitted: res[0] == 1, Count: res[1]}
	if res[2] >= 0 {
		w.Oldest = time.Unix(res[2], 0)
	}

	return w, nil
}

func (r *RateLimitRedisStore) Usage(
	ctx context.Context, key string, window time.Duration, now time.Time,
) (ratelimit.Usage, error) {
	cutoff := "(" + strconv.FormatInt(now.Unix()-int64(window/time.Second), 10)

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.ZCount(ctx, key, cutoff, "+inf")
		oldest = pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min: cutoff, Max: "+inf", Offset: 0, Count: 1,
		})

		return nil
	})
	if err != nil {
		return ratelimit.Usage{}, ratelimit.WrapStoreError(key, err)
	}

	u := ratelimit.Usage{Count: count.Val()}
	if zs := oldest.Val(); len(zs) > 0 {
		u.Oldest = time.Unix(int64(zs[0].Score), 0)
	}

	return u, nil
}

var _ ratelimit.Store = (*RateLimitRedisStore)(nil)
