package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 25

// Redis keeps each restaurant's queue in a Redis list: RPUSH to join, LPOP
// to serve.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (q *Redis) key(restaurantID string) string { return q.prefix + restaurantID }

// Enqueue appends e and returns its 1-based position. A caller already in
// the queue keeps its place and gets its current position back.
func (q *Redis) Enqueue(ctx context.Context, e Entry) (int, error) {
	if err := e.validate(); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	key := q.key(e.RestaurantID)

	var pos int
	txf := func(tx *redis.Tx) error {
		items, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		if i := indexOf(items, e.CallerID); i >= 0 {
			pos = i + 1
			return nil
		}
		var push *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			push = p.RPush(ctx, key, raw)
			return nil
		})
		if err != nil {
			return err
		}
		pos = int(push.Val())
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = q.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("queue enqueue %s: %w", e.RestaurantID, err)
		}
		return pos, nil
	}
	return 0, fmt.Errorf("queue enqueue %s: %w", e.RestaurantID, err)
}

// Dequeue pops the head. Unreadable items are discarded.
func (q *Redis) Dequeue(ctx context.Context, restaurantID string) (Entry, bool, error) {
	for {
		raw, err := q.rdb.LPop(ctx, q.key(restaurantID)).Result()
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		if err != nil {
			return Entry{}, false, fmt.Errorf("queue dequeue %s: %w", restaurantID, err)
		}
		var e Entry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		return e, true, nil
	}
}

// PushFront puts e back at the head, used when a popped caller could not be
// connected and must keep its turn.
func (q *Redis) PushFront(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key(e.RestaurantID), raw).Err(); err != nil {
		return fmt.Errorf("queue push front %s: %w", e.RestaurantID, err)
	}
	return nil
}

// PositionOf returns the 1-based rank of callerID.
func (q *Redis) PositionOf(ctx context.Context, restaurantID, callerID string) (int, bool, error) {
	items, err := q.rdb.LRange(ctx, q.key(restaurantID), 0, -1).Result()
	if err != nil {
		return 0, false, fmt.Errorf("queue position %s: %w", restaurantID, err)
	}
	i := indexOf(items, callerID)
	if i < 0 {
		return 0, false, nil
	}
	return i + 1, true, nil
}

// Remove drops the first entry for callerID.
func (q *Redis) Remove(ctx context.Context, restaurantID, callerID string) (bool, error) {
	key := q.key(restaurantID)
	items, err := q.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("queue remove %s: %w", restaurantID, err)
	}
	i := indexOf(items, callerID)
	if i < 0 {
		return false, nil
	}
	n, err := q.rdb.LRem(ctx, key, 1, items[i]).Result()
	if err != nil {
		return false, fmt.Errorf("queue remove %s: %w", restaurantID, err)
	}
	return n > 0, nil
}

func (q *Redis) List(ctx context.Context, restaurantID string) ([]Entry, error) {
	items, err := q.rdb.LRange(ctx, q.key(restaurantID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue list %s: %w", restaurantID, err)
	}
	out := make([]Entry, 0, len(items))
	for _, raw := range items {
		var e Entry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (q *Redis) Len(ctx context.Context, restaurantID string) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key(restaurantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len %s: %w", restaurantID, err)
	}
	return int(n), nil
}

func indexOf(items []string, callerID string) int {
	for i, raw := range items {
		var e Entry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		if e.CallerID == callerID {
			return i
		}
	}
	return -1
}
