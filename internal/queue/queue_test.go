package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type store interface {
	Enqueue(ctx context.Context, e Entry) (int, error)
	Dequeue(ctx context.Context, restaurantID string) (Entry, bool, error)
	PushFront(ctx context.Context, e Entry) error
	PositionOf(ctx context.Context, restaurantID, callerID string) (int, bool, error)
	Remove(ctx context.Context, restaurantID, callerID string) (bool, error)
	List(ctx context.Context, restaurantID string) ([]Entry, error)
	Len(ctx context.Context, restaurantID string) (int, error)
}

func forEach(t *testing.T, fn func(t *testing.T, q store)) {
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		fn(t, NewRedis(rdb, ""))
	})
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func entry(caller string) Entry {
	return Entry{RestaurantID: "r1", CallerID: caller, CallerLabel: "Kiosk " + caller, EnqueuedAt: time.Unix(1700000000, 0).UTC()}
}

func TestEnqueue_FIFOAndPositions(t *testing.T) {
	forEach(t, func(t *testing.T, q store) {
		ctx := context.Background()
		for i, c := range []string{"s1", "s2", "s3"} {
			pos, err := q.Enqueue(ctx, entry(c))
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if pos != i+1 {
				t.Fatalf("expected position %d, got %d", i+1, pos)
			}
		}

		if pos, ok, _ := q.PositionOf(ctx, "r1", "s2"); !ok || pos != 2 {
			t.Fatalf("expected s2 at 2, got %d ok=%v", pos, ok)
		}
		if _, ok, _ := q.PositionOf(ctx, "r1", "nobody"); ok {
			t.Fatalf("expected not found")
		}

		head, ok, err := q.Dequeue(ctx, "r1")
		if err != nil || !ok || head.CallerID != "s1" || head.CallerLabel != "Kiosk s1" {
			t.Fatalf("expected s1 at head, got %+v ok=%v err=%v", head, ok, err)
		}
		if pos, _, _ := q.PositionOf(ctx, "r1", "s3"); pos != 2 {
			t.Fatalf("expected s3 moved to 2, got %d", pos)
		}
	})
}

func TestEnqueue_IdempotentPerCaller(t *testing.T) {
	forEach(t, func(t *testing.T, q store) {
		ctx := context.Background()
		_, _ = q.Enqueue(ctx, entry("s1"))
		_, _ = q.Enqueue(ctx, entry("s2"))
		pos, err := q.Enqueue(ctx, entry("s1"))
		if err != nil || pos != 1 {
			t.Fatalf("expected existing position 1, got %d err=%v", pos, err)
		}
		if n, _ := q.Len(ctx, "r1"); n != 2 {
			t.Fatalf("expected 2 entries, got %d", n)
		}
	})
}

func TestDequeue_Empty(t *testing.T) {
	forEach(t, func(t *testing.T, q store) {
		if _, ok, err := q.Dequeue(context.Background(), "r1"); ok || err != nil {
			t.Fatalf("expected empty, ok=%v err=%v", ok, err)
		}
	})
}

func TestRemoveAndPushFront(t *testing.T) {
	forEach(t, func(t *testing.T, q store) {
		ctx := context.Background()
		for _, c := range []string{"s1", "s2", "s3"} {
			_, _ = q.Enqueue(ctx, entry(c))
		}
		removed, err := q.Remove(ctx, "r1", "s2")
		if err != nil || !removed {
			t.Fatalf("expected removal, removed=%v err=%v", removed, err)
		}
		if removed, _ := q.Remove(ctx, "r1", "s2"); removed {
			t.Fatalf("second removal must be a no-op")
		}

		head, _, _ := q.Dequeue(ctx, "r1")
		if err := q.PushFront(ctx, head); err != nil {
			t.Fatalf("push front: %v", err)
		}
		list, err := q.List(ctx, "r1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].CallerID != "s1" || list[1].CallerID != "s3" {
			t.Fatalf("unexpected order: %+v", list)
		}
	})
}

func TestQueuesAreIsolatedPerRestaurant(t *testing.T) {
	forEach(t, func(t *testing.T, q store) {
		ctx := context.Background()
		_, _ = q.Enqueue(ctx, entry("s1"))
		other := entry("s1")
		other.RestaurantID = "r2"
		if pos, _ := q.Enqueue(ctx, other); pos != 1 {
			t.Fatalf("expected position 1 in r2, got %d", pos)
		}
		if n, _ := q.Len(ctx, "r2"); n != 1 {
			t.Fatalf("expected r2 length 1, got %d", n)
		}
	})
}

func TestEnqueue_ConcurrentCallersAllQueued(t *testing.T) {
	forEach(t, func(t *testing.T, q store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		seen := make(chan int, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pos, err := q.Enqueue(ctx, entry(fmt.Sprintf("s%d", i)))
				if err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
				seen <- pos
			}(i)
		}
		wg.Wait()
		close(seen)

		positions := map[int]bool{}
		for p := range seen {
			if positions[p] {
				t.Fatalf("position %d reported twice", p)
			}
			positions[p] = true
		}
		if n, _ := q.Len(ctx, "r1"); n != 10 {
			t.Fatalf("expected 10 entries, got %d", n)
		}
	})
}

func TestEnqueue_RejectsInvalid(t *testing.T) {
	forEach(t, func(t *testing.T, q store) {
		if _, err := q.Enqueue(context.Background(), Entry{RestaurantID: "r1"}); err == nil {
			t.Fatalf("expected invalid entry error")
		}
	})
}
