package adapter

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"chatcore/internal/infrastructure/cache/port"
)

// RedisSessionSet keeps one sorted set per user (connection -> expiry) and a
// global sorted set used for reaping. Scores are unix milliseconds.
type RedisSessionSet struct {
	client *redis.Client
	prefix string
}

var _ port.SessionSet = (*RedisSessionSet)(nil)

func NewRedisSessionSet(client *redis.Client, prefix string) *RedisSessionSet {
	return &RedisSessionSet{client: client, prefix: prefix}
}

func (r *RedisSessionSet) userKey(userID string) string { return r.prefix + "sessions:user:" + userID }
func (r *RedisSessionSet) allKey() string               { return r.prefix + "sessions:all" }

func globalMember(s port.Session) string { return s.UserID + "\x00" + s.ConnID }

func liveMin(now time.Time) string { return "(" + strconv.FormatInt(now.UnixMilli(), 10) }

func (r *RedisSessionSet) Add(ctx context.Context, s port.Session, now time.Time, ttl time.Duration) (int64, error) {
	score := float64(now.Add(ttl).UnixMilli())
	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, r.userKey(s.UserID), redis.Z{Score: score, Member: s.ConnID})
		p.ZAdd(ctx, r.allKey(), redis.Z{Score: score, Member: globalMember(s)})
		count = p.ZCount(ctx, r.userKey(s.UserID), liveMin(now), "+inf")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count.Val(), nil
}

func (r *RedisSessionSet) Remove(ctx context.Context, s port.Session, now time.Time) (int64, error) {
	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, r.userKey(s.UserID), s.ConnID)
		p.ZRem(ctx, r.allKey(), globalMember(s))
		count = p.ZCount(ctx, r.userKey(s.UserID), liveMin(now), "+inf")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count.Val(), nil
}

func (r *RedisSessionSet) Count(ctx context.Context, userID string, now time.Time) (int64, error) {
	return r.client.ZCount(ctx, r.userKey(userID), liveMin(now), "+inf").Result()
}

func (r *RedisSessionSet) Reap(ctx context.Context, now time.Time) ([]port.Session, error) {
	expired, err := r.client.ZRangeByScore(ctx, r.allKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	var out []port.Session
	for _, m := range expired {
		// ZREM decides which reaper owns the member
		n, err := r.client.ZRem(ctx, r.allKey(), m).Result()
		if err != nil {
			return out, err
		}
		if n == 0 {
			continue
		}
		user, conn, ok := strings.Cut(m, "\x00")
		if !ok {
			continue
		}
		if err := r.client.ZRem(ctx, r.userKey(user), conn).Err(); err != nil {
			return out, err
		}
		out = append(out, port.Session{UserID: user, ConnID: conn})
	}
	return out, nil
}
