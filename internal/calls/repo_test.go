package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"callbroker/internal/directory"
	"callbroker/internal/storage"
	"callbroker/pkg/utils"
)

func forEachRepo(t *testing.T, fn func(t *testing.T, r Repository)) {
	t.Run("sql", func(t *testing.T) {
		ctx := context.Background()
		db, err := storage.OpenMemory(ctx)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		dir := directory.NewSQLRepo(db, utils.DriverSQLite)
		if err := dir.PutRestaurant(ctx, directory.Restaurant{ID: "r1", Name: "Burger Bar"}); err != nil {
			t.Fatalf("seed restaurant: %v", err)
		}
		if err := dir.PutScreen(ctx, directory.Screen{ID: "s1", Name: "Lobby"}, "r1"); err != nil {
			t.Fatalf("seed screen: %v", err)
		}
		fn(t, NewSQLRepo(db, utils.DriverSQLite))
	})
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryRepo()) })
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(id, caller, restaurant string, start time.Time) Session {
	return Session{ID: id, CallerID: caller, RestaurantID: restaurant, Status: StatusInitiated, InitiatedBy: InitiatedByScreen, StartTime: start}
}

func TestRepository_CreateGetDelete(t *testing.T) {
	forEachRepo(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		if err := r.Create(ctx, newSession("c1", "s1", "r1", t0)); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := r.Get(ctx, "c1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusInitiated || !got.StartTime.Equal(t0) || got.CallerID != "s1" {
			t.Fatalf("unexpected session: %+v", got)
		}
		if err := r.Delete(ctx, "c1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := r.Get(ctx, "c1"); !errors.Is(err, ErrCallNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestRepository_TransitionIsConditional(t *testing.T) {
	forEachRepo(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		_ = r.Create(ctx, newSession("c1", "s1", "r1", t0))

		ok, err := r.Transition(ctx, "c1", allowedFrom(StatusEnded), Update{Status: StatusEnded})
		if err != nil || ok {
			t.Fatalf("INITIATED -> ENDED must not apply: ok=%v err=%v", ok, err)
		}
		if ok, err := r.Transition(ctx, "c1", allowedFrom(StatusActive), Update{Status: StatusActive, UpdatedAt: t0}); err != nil || !ok {
			t.Fatalf("accept: ok=%v err=%v", ok, err)
		}
		end := t0.Add(90 * time.Second)
		dur := 90
		ok, err = r.Transition(ctx, "c1", allowedFrom(StatusEnded), Update{Status: StatusEnded, EndTime: &end, DurationSec: &dur, OrderNumber: "42", UpdatedAt: end})
		if err != nil || !ok {
			t.Fatalf("end: ok=%v err=%v", ok, err)
		}
		got, _ := r.Get(ctx, "c1")
		if got.Status != StatusEnded || got.EndTime == nil || !got.EndTime.Equal(end) || got.DurationSec == nil || *got.DurationSec != 90 || got.OrderNumber != "42" {
			t.Fatalf("unexpected ended session: %+v", got)
		}
		if ok, _ := r.Transition(ctx, "c1", OpenStatuses, Update{Status: StatusEnded}); ok {
			t.Fatalf("terminal session changed")
		}
		if ok, _ := r.Transition(ctx, "missing", OpenStatuses, Update{Status: StatusEnded}); ok {
			t.Fatalf("missing session changed")
		}
	})
}

func TestRepository_OpenByCallerNewestFirst(t *testing.T) {
	forEachRepo(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		_ = r.Create(ctx, newSession("old", "s1", "r1", t0))
		_ = r.Create(ctx, newSession("new", "s1", "r1", t0.Add(time.Minute)))
		_ = r.Create(ctx, newSession("other", "s2", "r1", t0))
		_ = r.Create(ctx, newSession("done", "s1", "r1", t0.Add(2*time.Minute)))
		_, _ = r.Transition(ctx, "done", allowedFrom(StatusMissed), Update{Status: StatusMissed})

		open, err := r.OpenByCaller(ctx, "s1")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if len(open) != 2 || open[0].ID != "new" || open[1].ID != "old" {
			t.Fatalf("unexpected open sessions: %+v", open)
		}
	})
}

func TestRepository_ListPagesAndFilters(t *testing.T) {
	forEachRepo(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c", "d", "e"} {
			caller := "s1"
			if i%2 == 1 {
				caller = "s2"
			}
			_ = r.Create(ctx, newSession(id, caller, "r1", t0.Add(time.Duration(i)*time.Minute)))
		}

		items, total, err := r.List(ctx, ListFilter{Limit: 2, Offset: 0})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 5 || len(items) != 2 || items[0].ID != "e" || items[1].ID != "d" {
			t.Fatalf("unexpected first page: total=%d %+v", total, items)
		}

		items, total, _ = r.List(ctx, ListFilter{CallerID: "s2"})
		if total != 2 || len(items) != 2 || items[0].ID != "d" {
			t.Fatalf("caller filter: total=%d %+v", total, items)
		}

		items, total, _ = r.List(ctx, ListFilter{From: t0.Add(time.Minute), To: t0.Add(3 * time.Minute)})
		if total != 3 || len(items) != 3 {
			t.Fatalf("date filter: total=%d %+v", total, items)
		}

		items, total, _ = r.List(ctx, ListFilter{RestaurantID: "nope"})
		if total != 0 || len(items) != 0 {
			t.Fatalf("expected empty page")
		}
	})
}

func TestRepository_SetRecordingFirstWins(t *testing.T) {
	forEachRepo(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		_ = r.Create(ctx, newSession("c1", "s1", "r1", t0))
		size := int64(2048)
		if ok, err := r.SetRecording(ctx, "c1", "rec/1.webm", &size); err != nil || !ok {
			t.Fatalf("first attach: ok=%v err=%v", ok, err)
		}
		if ok, err := r.SetRecording(ctx, "c1", "rec/2.webm", nil); err != nil || ok {
			t.Fatalf("second attach must be ignored: ok=%v err=%v", ok, err)
		}
		got, _ := r.Get(ctx, "c1")
		if got.RecordingRef != "rec/1.webm" || got.RecordingSize == nil || *got.RecordingSize != 2048 {
			t.Fatalf("unexpected recording: %+v", got)
		}
		if _, err := r.SetRecording(ctx, "missing", "x", nil); !errors.Is(err, ErrCallNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestSQLRepo_JoinsDisplayNames(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	dir := directory.NewSQLRepo(db, utils.DriverSQLite)
	_ = dir.PutRestaurant(ctx, directory.Restaurant{ID: "r1", Name: "Burger Bar"})
	_ = dir.PutScreen(ctx, directory.Screen{ID: "s1", Name: "Lobby"}, "r1")

	r := NewSQLRepo(db, utils.DriverSQLite)
	_ = r.Create(ctx, newSession("c1", "s1", "r1", t0))
	got, err := r.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CallerName != "Lobby" || got.RestaurantName != "Burger Bar" {
		t.Fatalf("names not joined: %+v", got)
	}
}
