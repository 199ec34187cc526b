package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"callbroker/internal/audit"
	"callbroker/internal/config"
	"callbroker/internal/directory"
	"callbroker/internal/lock"
	"callbroker/internal/presence"
	"callbroker/internal/queue"
)

type emitted struct {
	partyType presence.PartyType
	partyID   string
	event     string
	payload   any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeBroadcaster) EmitTo(_ context.Context, t presence.PartyType, id, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{t, id, event, payload})
}

func (f *fakeBroadcaster) to(t presence.PartyType, id, event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.events {
		if e.partyType == t && e.partyID == id && e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepo
	locks *lock.Memory
	queue *queue.Memory
	dir   *directory.MemoryRepo
	bc    *fakeBroadcaster
	audit *audit.MemoryRepo

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		repo:  NewMemoryRepo(),
		locks: lock.NewMemory(),
		queue: queue.NewMemory(),
		dir:   directory.NewMemoryRepo(),
		bc:    &fakeBroadcaster{},
		audit: audit.NewMemoryRepo(),
		now:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.locks.SetClock(f.clock)

	_ = f.dir.PutRestaurant(ctx, directory.Restaurant{ID: "r1", Name: "Burger Bar"})
	_ = f.dir.PutRestaurant(ctx, directory.Restaurant{ID: "r2", Name: "Noodle Hut"})
	_ = f.dir.PutRestaurant(ctx, directory.Restaurant{ID: "r3", Name: "Closed Cafe", Status: directory.StatusOffline})
	for i := 1; i <= 12; i++ {
		_ = f.dir.PutScreen(ctx, directory.Screen{ID: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("Kiosk %d", i)}, "r1", "r2")
	}

	f.svc = NewService(Deps{
		Repo:        f.repo,
		Locks:       f.locks,
		Queue:       f.queue,
		Directory:   f.dir,
		Broadcaster: f.bc,
		Audit:       audit.NewService(f.audit),
	}, config.CallsConfig{StaleAfter: 5 * time.Minute, LockTTL: time.Hour})
	f.svc.clock = f.clock
	var n atomic.Int64
	f.svc.newID = func() string { return fmt.Sprintf("call-%d", n.Add(1)) }
	return f
}

func (f *fixture) holder(t *testing.T, restaurantID string) string {
	t.Helper()
	h, ok, err := f.locks.Holder(context.Background(), restaurantID)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if !ok {
		return ""
	}
	return h
}

func (f *fixture) mustInitiate(t *testing.T, screenID, restaurantID string) Session {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), screenID, restaurantID, InitiatedByScreen)
	if err != nil {
		t.Fatalf("initiate %s -> %s: %v", screenID, restaurantID, err)
	}
	if res.Queued || res.Session == nil {
		t.Fatalf("initiate %s -> %s: expected a session, got %+v", screenID, restaurantID, res)
	}
	return *res.Session
}

func TestInitiate_AvailableRestaurantConnects(t *testing.T) {
	f := newFixture(t)
	sess := f.mustInitiate(t, "s1", "r1")

	if sess.Status != StatusInitiated || sess.InitiatedBy != InitiatedByScreen {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.CallerName != "Kiosk 1" || sess.RestaurantName != "Burger Bar" {
		t.Fatalf("display names missing: %+v", sess)
	}
	if h := f.holder(t, "r1"); h != sess.ID {
		t.Fatalf("lock holder %q, want %q", h, sess.ID)
	}
	st := f.bc.to(presence.Screen, "s1", EventCallStatus)
	if len(st) != 1 || st[0].(CallStatusPayload).Status != "RINGING" || st[0].(CallStatusPayload).CallID != sess.ID {
		t.Fatalf("caller not told it is ringing: %+v", st)
	}
	in := f.bc.to(presence.Restaurant, "r1", EventCallIncoming)
	if len(in) != 1 || in[0].(IncomingPayload).ScreenID != "s1" {
		t.Fatalf("restaurant not notified: %+v", in)
	}
}

func TestInitiate_BusyRestaurantQueuesWithoutSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if ok, _ := f.locks.Acquire(ctx, "r1", "C1", time.Hour); !ok {
		t.Fatalf("seed lock")
	}

	res, err := f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !res.Queued || res.Position != 1 || res.Session != nil {
		t.Fatalf("expected queued at 1, got %+v", res)
	}
	if _, total, _ := f.repo.List(ctx, ListFilter{CallerID: "s2"}); total != 0 {
		t.Fatalf("queued attempt left %d session rows", total)
	}
	if h := f.holder(t, "r1"); h != "C1" {
		t.Fatalf("lock changed hands: %q", h)
	}
	st := f.bc.to(presence.Screen, "s2", EventCallStatus)
	if len(st) != 1 || st[0].(CallStatusPayload).Status != "BUSY" || st[0].(CallStatusPayload).Position != 1 {
		t.Fatalf("caller not told it is queued: %+v", st)
	}

	// A second request from the same caller keeps its place.
	res, _ = f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen)
	if !res.Queued || res.Position != 1 {
		t.Fatalf("re-request moved caller: %+v", res)
	}
	res, _ = f.svc.Initiate(ctx, "s3", "r1", InitiatedByScreen)
	if res.Position != 2 {
		t.Fatalf("second caller position %d", res.Position)
	}
}

func TestEnd_ReleasesAndConnectsQueueHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustInitiate(t, "s1", "r1")
	if _, err := f.svc.Accept(ctx, first.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res, _ := f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen); !res.Queued {
		t.Fatalf("s2 should be queued")
	}

	f.advance(95 * time.Second)
	ended, err := f.svc.End(ctx, first.ID, "42")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != StatusEnded || ended.DurationSec == nil || *ended.DurationSec != 95 || ended.OrderNumber != "42" {
		t.Fatalf("unexpected ended session: %+v", ended)
	}
	stored, _ := f.repo.Get(ctx, first.ID)
	if stored.Status != StatusEnded || stored.EndTime == nil || stored.OrderNumber != "42" {
		t.Fatalf("end not persisted: %+v", stored)
	}

	holder := f.holder(t, "r1")
	next, err := f.repo.Get(ctx, holder)
	if err != nil || next.CallerID != "s2" || next.Status != StatusInitiated || next.InitiatedBy != InitiatedByScreen {
		t.Fatalf("queue head not connected: holder=%q session=%+v err=%v", holder, next, err)
	}
	if n, _ := f.queue.Len(ctx, "r1"); n != 0 {
		t.Fatalf("queue should be empty, has %d", n)
	}
	var ringing bool
	for _, p := range f.bc.to(presence.Screen, "s2", EventCallStatus) {
		if p.(CallStatusPayload).Status == "RINGING" && p.(CallStatusPayload).CallID == holder {
			ringing = true
		}
	}
	if !ringing {
		t.Fatalf("s2 never moved to RINGING")
	}
	for _, who := range []struct {
		t  presence.PartyType
		id string
	}{{presence.Restaurant, "r1"}, {presence.Screen, "s1"}} {
		if len(f.bc.to(who.t, who.id, EventCallEnded)) != 1 {
			t.Fatalf("%s %s not told the call ended", who.t, who.id)
		}
	}
	if len(f.bc.to(presence.SuperAdmin, "", EventAdminCallEnded)) != 1 {
		t.Fatalf("admins not told the call ended")
	}
}

func TestEnd_UnansweredCallEndsWithOrderAndServesQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustInitiate(t, "s1", "r1")
	if res, _ := f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen); !res.Queued || res.Position != 1 {
		t.Fatalf("s2 should be queued at 1, got %+v", res)
	}

	f.advance(30 * time.Second)
	ended, err := f.svc.End(ctx, first.ID, "42")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != StatusEnded || ended.OrderNumber != "42" || ended.DurationSec == nil || *ended.DurationSec != 30 {
		t.Fatalf("unexpected ended session: %+v", ended)
	}
	stored, _ := f.repo.Get(ctx, first.ID)
	if stored.Status != StatusEnded || stored.OrderNumber != "42" {
		t.Fatalf("end not persisted: %+v", stored)
	}
	next, err := f.repo.Get(ctx, f.holder(t, "r1"))
	if err != nil || next.CallerID != "s2" {
		t.Fatalf("queue head not connected: %+v err=%v", next, err)
	}
}

func TestInitiate_RecordsInitiator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Initiate(ctx, "s1", "r1", InitiatedByRestaurant)
	if err != nil || res.Session == nil || res.Session.InitiatedBy != InitiatedByRestaurant {
		t.Fatalf("initiator not recorded: %+v err=%v", res, err)
	}
	stored, _ := f.repo.Get(ctx, res.Session.ID)
	if stored.InitiatedBy != InitiatedByRestaurant {
		t.Fatalf("initiator not persisted: %+v", stored)
	}

	res, err = f.svc.Initiate(ctx, "s2", "r2", "")
	if err != nil || res.Session.InitiatedBy != InitiatedByScreen {
		t.Fatalf("empty initiator should default to SCREEN: %+v err=%v", res, err)
	}
	if _, err := f.svc.Initiate(ctx, "s3", "r2", "KIOSK"); KindOf(err) != KindInvalid {
		t.Fatalf("unknown initiator accepted: %v", err)
	}
}

func TestInitiate_AlreadyInCallThenStaleRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustInitiate(t, "s1", "r1")

	f.advance(time.Minute)
	if _, err := f.svc.Initiate(ctx, "s1", "r1", InitiatedByScreen); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("expected ALREADY_IN_CALL, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, "s1", "r2", InitiatedByScreen); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("one open call per caller across restaurants, got %v", err)
	}

	f.advance(5 * time.Minute)
	second := f.mustInitiate(t, "s1", "r1")
	if second.ID == first.ID {
		t.Fatalf("expected a new session")
	}
	old, _ := f.repo.Get(ctx, first.ID)
	if old.Status != StatusEnded || old.DurationSec == nil || *old.DurationSec != 0 {
		t.Fatalf("stale session not force-ended with zero duration: %+v", old)
	}
	if h := f.holder(t, "r1"); h != second.ID {
		t.Fatalf("lock holder %q, want %q", h, second.ID)
	}
	evs := f.audit.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeStaleCleanup || evs[0].CallID != first.ID {
		t.Fatalf("stale cleanup not audited: %+v", evs)
	}
}

func TestInitiate_StaleRecoveryServesOtherRestaurantQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.mustInitiate(t, "s1", "r1")
	if res, _ := f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen); !res.Queued {
		t.Fatalf("s2 should be queued")
	}

	f.advance(10 * time.Minute)
	f.mustInitiate(t, "s1", "r2")

	holder := f.holder(t, "r1")
	if holder == "" || holder == stale.ID {
		t.Fatalf("r1 not handed to the queue: holder=%q", holder)
	}
	next, _ := f.repo.Get(ctx, holder)
	if next.CallerID != "s2" {
		t.Fatalf("r1 holder belongs to %q", next.CallerID)
	}
}

func TestInitiate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Initiate(ctx, "s1", "r3", InitiatedByScreen); !errors.Is(err, ErrRestaurantOffline) {
		t.Fatalf("expected offline, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, "s1", "nope", InitiatedByScreen); !errors.Is(err, ErrRestaurantNotFound) {
		t.Fatalf("expected restaurant not found, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, "ghost", "r1", InitiatedByScreen); !errors.Is(err, ErrCallerNotFound) {
		t.Fatalf("expected screen not found, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, "", "r1", InitiatedByScreen); KindOf(err) != KindInvalid {
		t.Fatalf("expected invalid, got %v", err)
	}
	if _, total, _ := f.repo.List(ctx, ListFilter{}); total != 0 {
		t.Fatalf("rejected attempts left %d sessions", total)
	}
	if h := f.holder(t, "r3"); h != "" {
		t.Fatalf("offline restaurant locked by %q", h)
	}
}

func TestInitiate_ConcurrentCallersOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	results := make([]InitiateResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Initiate(ctx, fmt.Sprintf("s%d", i+1), "r1", InitiatedByScreen)
		}(i)
	}
	wg.Wait()

	connected := 0
	positions := map[int]bool{}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Queued {
			positions[results[i].Position] = true
			continue
		}
		connected++
		if h := f.holder(t, "r1"); h != results[i].Session.ID {
			t.Fatalf("winner %s does not hold the lock (%s)", results[i].Session.ID, h)
		}
	}
	if connected != 1 {
		t.Fatalf("expected exactly one connected caller, got %d", connected)
	}
	for p := 1; p < callers; p++ {
		if !positions[p] {
			t.Fatalf("position %d missing: %v", p, positions)
		}
	}
	if _, total, _ := f.repo.List(ctx, ListFilter{}); total != 1 {
		t.Fatalf("expected one session row, got %d", total)
	}
}

func TestFinish_OutcomesForUnansweredCalls(t *testing.T) {
	cases := []struct {
		name string
		op   func(s *Service, id string) (Session, error)
		want Status
	}{
		{"end", func(s *Service, id string) (Session, error) { return s.End(context.Background(), id, "") }, StatusEnded},
		{"cancel", func(s *Service, id string) (Session, error) { return s.Cancel(context.Background(), id) }, StatusMissed},
		{"reject", func(s *Service, id string) (Session, error) { return s.Reject(context.Background(), id) }, StatusRejected},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			sess := f.mustInitiate(t, "s1", "r1")
			got, err := c.op(f.svc, sess.ID)
			if err != nil {
				t.Fatalf("%s: %v", c.name, err)
			}
			if got.Status != c.want {
				t.Fatalf("status %s, want %s", got.Status, c.want)
			}
			if h := f.holder(t, "r1"); h != "" {
				t.Fatalf("lock still held by %q", h)
			}

			// Finishing again is a no-op.
			again, err := f.svc.End(context.Background(), sess.ID, "99")
			if err != nil || again.Status != c.want || again.OrderNumber == "99" {
				t.Fatalf("second finish changed the call: %+v err=%v", again, err)
			}
		})
	}
}

func TestReject_AnsweredCallHangsUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.mustInitiate(t, "s1", "r1")
	_, _ = f.svc.Accept(ctx, sess.ID)
	got, err := f.svc.Reject(ctx, sess.ID)
	if err != nil || got.Status != StatusEnded {
		t.Fatalf("expected ENDED, got %+v err=%v", got, err)
	}
}

func TestFinish_RetriesReleaseForTerminalCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.mustInitiate(t, "s1", "r1")
	// Simulate a crash between the status write and the lock release.
	end := f.clock()
	zero := 0
	_, _ = f.repo.Transition(ctx, sess.ID, OpenStatuses, Update{Status: StatusMissed, EndTime: &end, DurationSec: &zero})
	if h := f.holder(t, "r1"); h != sess.ID {
		t.Fatalf("setup: lock not held")
	}
	if _, err := f.svc.End(ctx, sess.ID, ""); err != nil {
		t.Fatalf("end: %v", err)
	}
	if h := f.holder(t, "r1"); h != "" {
		t.Fatalf("release not retried, holder %q", h)
	}
}

func TestAccept_IdempotentAndExtendsLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.mustInitiate(t, "s1", "r1")

	f.advance(50 * time.Minute)
	got, err := f.svc.Accept(ctx, sess.ID)
	if err != nil || got.Status != StatusActive {
		t.Fatalf("accept: %+v err=%v", got, err)
	}
	if _, err := f.svc.Accept(ctx, sess.ID); err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if len(f.bc.to(presence.SuperAdmin, "", EventAdminCallStarted)) != 1 {
		t.Fatalf("admin call-started should be sent once")
	}
	if len(f.bc.to(presence.Screen, "s1", EventCallAccepted)) != 1 {
		t.Fatalf("caller not told the call was accepted")
	}

	f.advance(30 * time.Minute)
	if h := f.holder(t, "r1"); h != sess.ID {
		t.Fatalf("lock expired during the call: holder %q", h)
	}

	_, _ = f.svc.End(ctx, sess.ID, "")
	if _, err := f.svc.Accept(ctx, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accepting an ended call: %v", err)
	}
	if _, err := f.svc.Accept(ctx, "missing"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.mustInitiate(t, "s1", "r1")

	got, err := f.svc.UpdateStatus(ctx, sess.ID, StatusRinging)
	if err != nil || got.Status != StatusRinging {
		t.Fatalf("ringing: %+v err=%v", got, err)
	}
	if got, err = f.svc.UpdateStatus(ctx, sess.ID, StatusActive); err != nil || got.Status != StatusActive {
		t.Fatalf("active: %+v err=%v", got, err)
	}
	if _, err := f.svc.UpdateStatus(ctx, sess.ID, StatusRinging); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ACTIVE -> RINGING: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, sess.ID, StatusEnded); KindOf(err) != KindInvalid {
		t.Fatalf("terminal status through update: %v", err)
	}
}

func TestDrain_DropsCallersThatCannotConnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustInitiate(t, "s1", "r1")
	if res, _ := f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen); !res.Queued {
		t.Fatalf("s2 should be queued")
	}
	if res, _ := f.svc.Initiate(ctx, "s3", "r1", InitiatedByScreen); !res.Queued {
		t.Fatalf("s3 should be queued")
	}
	// s2 gives up waiting and reaches another restaurant.
	f.mustInitiate(t, "s2", "r2")

	if _, err := f.svc.End(ctx, first.ID, ""); err != nil {
		t.Fatalf("end: %v", err)
	}
	next, _ := f.repo.Get(ctx, f.holder(t, "r1"))
	if next.CallerID != "s3" {
		t.Fatalf("expected s3 to be connected, got %+v", next)
	}
	var failed bool
	for _, p := range f.bc.to(presence.Screen, "s2", EventCallStatus) {
		if c := p.(CallStatusPayload); c.Status == "FAILED" && c.Code == ErrAlreadyInCall.Code {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("dropped caller was not told why")
	}
}

func TestDrain_OfflineRestaurantKeepsQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustInitiate(t, "s1", "r1")
	_, _ = f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen)

	_ = f.dir.SetRestaurantStatus(ctx, "r1", directory.StatusOffline)
	if _, err := f.svc.End(ctx, first.ID, ""); err != nil {
		t.Fatalf("end: %v", err)
	}
	if h := f.holder(t, "r1"); h != "" {
		t.Fatalf("offline restaurant locked by %q", h)
	}
	entries, _ := f.queue.List(ctx, "r1")
	if len(entries) != 1 || entries[0].CallerID != "s2" {
		t.Fatalf("queued caller lost: %+v", entries)
	}

	if err := f.svc.SetAvailability(ctx, "r1", directory.StatusAvailable); err != nil {
		t.Fatalf("availability: %v", err)
	}
	next, _ := f.repo.Get(ctx, f.holder(t, "r1"))
	if next.CallerID != "s2" {
		t.Fatalf("queue not served when restaurant came back: %+v", next)
	}
}

func TestLeaveQueue_RebroadcastsPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustInitiate(t, "s1", "r1")
	_, _ = f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen)
	_, _ = f.svc.Initiate(ctx, "s3", "r1", InitiatedByScreen)

	removed, err := f.svc.LeaveQueue(ctx, "r1", "s2")
	if err != nil || !removed {
		t.Fatalf("leave: removed=%v err=%v", removed, err)
	}
	ups := f.bc.to(presence.Screen, "s3", EventQueuePosition)
	last := ups[len(ups)-1].(QueuePositionPayload)
	if last.Position != 1 || last.QueueLength != 1 {
		t.Fatalf("s3 not moved up: %+v", last)
	}
	if removed, _ := f.svc.LeaveQueue(ctx, "r1", "s2"); removed {
		t.Fatalf("second leave removed something")
	}
	q, _ := f.svc.Queue(ctx, "r1")
	if len(q) != 1 || q[0].CallerID != "s3" || q[0].Position != 1 {
		t.Fatalf("unexpected queue: %+v", q)
	}
	if pos, ok, err := f.svc.QueuePosition(ctx, "r1", "s3"); err != nil || !ok || pos != 1 {
		t.Fatalf("s3 position: %d %v %v", pos, ok, err)
	}
	if _, ok, _ := f.svc.QueuePosition(ctx, "r1", "s2"); ok {
		t.Fatalf("s2 still reported as queued")
	}
}

func TestDrain_WaitsWhileRestaurantInCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustInitiate(t, "s1", "r1")
	_, _ = f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen)

	if err := f.svc.SetAvailability(ctx, "r1", directory.StatusAvailable); err != nil {
		t.Fatalf("availability: %v", err)
	}
	if h := f.holder(t, "r1"); h != first.ID {
		t.Fatalf("lock moved to %q during a running call", h)
	}
	if pos, ok, _ := f.svc.QueuePosition(ctx, "r1", "s2"); !ok || pos != 1 {
		t.Fatalf("s2 lost its place: %d %v", pos, ok)
	}
	if open, _ := f.repo.OpenByCaller(ctx, "s2"); len(open) != 0 {
		t.Fatalf("s2 connected while r1 was busy: %+v", open)
	}
}

func TestAdmin_ForceReleaseAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := Actor{UserID: "admin-1", Role: "SUPER_ADMIN", IP: "10.0.0.1"}
	first := f.mustInitiate(t, "s1", "r1")
	_, _ = f.svc.Initiate(ctx, "s2", "r1", InitiatedByScreen)

	st, err := f.svc.LockStatus(ctx, "r1")
	if err != nil || !st.Locked || st.HolderCallID != first.ID || st.Holder == nil || len(st.Queue) != 1 {
		t.Fatalf("lock status: %+v err=%v", st, err)
	}

	if err := f.svc.ResetRestaurant(ctx, "r1", actor); err != nil {
		t.Fatalf("reset: %v", err)
	}
	old, _ := f.repo.Get(ctx, first.ID)
	if old.Status != StatusEnded {
		t.Fatalf("holder session not ended: %+v", old)
	}
	second, _ := f.repo.Get(ctx, f.holder(t, "r1"))
	if second.CallerID != "s2" {
		t.Fatalf("queue not served after reset: %+v", second)
	}

	if err := f.svc.ForceReleaseLock(ctx, "r1", actor); err != nil {
		t.Fatalf("force release: %v", err)
	}
	if h := f.holder(t, "r1"); h != "" {
		t.Fatalf("lock still held by %q", h)
	}
	evs := f.audit.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 audit events, got %+v", evs)
	}
	for _, e := range evs {
		if e.Type != audit.EventTypeAdminAction || e.ActorUserID != "admin-1" || e.IPAddress != "10.0.0.1" {
			t.Fatalf("unexpected audit event: %+v", e)
		}
	}
	if err := f.svc.ResetRestaurant(ctx, "nope", actor); !errors.Is(err, ErrRestaurantNotFound) {
		t.Fatalf("reset unknown restaurant: %v", err)
	}
}

func TestAttachRecording_FirstWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.mustInitiate(t, "s1", "r1")
	_, _ = f.svc.End(ctx, sess.ID, "")

	size := int64(100)
	got, err := f.svc.AttachRecording(ctx, sess.ID, "rec/a.webm", &size)
	if err != nil || got.RecordingRef != "rec/a.webm" {
		t.Fatalf("attach: %+v err=%v", got, err)
	}
	got, err = f.svc.AttachRecording(ctx, sess.ID, "rec/b.webm", nil)
	if err != nil || got.RecordingRef != "rec/a.webm" {
		t.Fatalf("second attach replaced the first: %+v err=%v", got, err)
	}
	if _, err := f.svc.AttachRecording(ctx, "missing", "x", nil); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	neg := int64(-1)
	if _, err := f.svc.AttachRecording(ctx, sess.ID, "x", &neg); KindOf(err) != KindInvalid {
		t.Fatalf("negative size accepted: %v", err)
	}
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sess := f.mustInitiate(t, "s1", "r1")
		_, _ = f.svc.End(ctx, sess.ID, "")
		f.advance(time.Minute)
	}

	page, err := f.svc.List(ctx, 2, 2, ListFilter{CallerID: "s1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 1 || page.Items[0].ID != "call-1" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page, _ := f.svc.List(ctx, 0, 0, ListFilter{}); page.Page != 1 || page.Limit != 10 {
		t.Fatalf("defaults not applied: %+v", page)
	}
	if _, err := f.svc.List(ctx, 1, 1000, ListFilter{}); KindOf(err) != KindInvalid {
		t.Fatalf("oversized limit accepted: %v", err)
	}
}
