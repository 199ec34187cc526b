package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbroker/internal/audit"
	"callbroker/internal/config"
	"callbroker/internal/directory"
	"callbroker/internal/presence"
	"callbroker/internal/queue"
	"callbroker/pkg/logger"

	"github.com/google/uuid"
)

// Locker is the per-restaurant exclusive lock, keyed by restaurant id and
// holding a call id.
type Locker interface {
	Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resource, holder string) (bool, error)
	Extend(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error)
	ForceRelease(ctx context.Context, resource string) error
	IsLocked(ctx context.Context, resource string) (bool, error)
	Holder(ctx context.Context, resource string) (string, bool, error)
}

// Queue is the per-restaurant FIFO of waiting callers.
type Queue interface {
	Enqueue(ctx context.Context, e queue.Entry) (int, error)
	Dequeue(ctx context.Context, restaurantID string) (queue.Entry, bool, error)
	PushFront(ctx context.Context, e queue.Entry) error
	PositionOf(ctx context.Context, restaurantID, callerID string) (int, bool, error)
	Remove(ctx context.Context, restaurantID, callerID string) (bool, error)
	List(ctx context.Context, restaurantID string) ([]queue.Entry, error)
	Len(ctx context.Context, restaurantID string) (int, error)
}

// Directory resolves restaurants and screens.
type Directory interface {
	Restaurant(ctx context.Context, id string) (directory.Restaurant, error)
	Screen(ctx context.Context, id string) (directory.Screen, error)
	SetRestaurantStatus(ctx context.Context, id string, status directory.RestaurantStatus) error
}

// Broadcaster pushes realtime events to every connection of a party.
type Broadcaster interface {
	EmitTo(ctx context.Context, t presence.PartyType, id, event string, payload any)
}

// Auditor records admin interventions and automatic recoveries.
type Auditor interface {
	Append(ctx context.Context, e audit.Event) error
}

type Deps struct {
	Repo        Repository
	Locks       Locker
	Queue       Queue
	Directory   Directory
	Broadcaster Broadcaster
	Audit       Auditor
}

// Actor identifies who triggered an admin operation.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// Service orchestrates call sessions. It is the only writer of sessions and
// the only user of the restaurant locks and queues.
//
// A restaurant's lock names the call that owns the restaurant. A call is
// connected by creating its session and then taking the lock; if the lock is
// taken the session is deleted again and the caller waits in the queue.
// Whoever ends a call releases the lock and hands the restaurant to the head
// of the queue through the same connect path.
type Service struct {
	repo  Repository
	locks Locker
	queue Queue
	dir   Directory
	bc    Broadcaster
	audit Auditor

	staleAfter time.Duration
	lockTTL    time.Duration

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(d Deps, cfg config.CallsConfig) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Hour
	}
	return &Service{
		repo:       d.Repo,
		locks:      d.Locks,
		queue:      d.Queue,
		dir:        d.Directory,
		bc:         d.Broadcaster,
		audit:      d.Audit,
		staleAfter: cfg.StaleAfter,
		lockTTL:    cfg.LockTTL,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
}

// InitiateResult is either a connected session or a queue position.
type InitiateResult struct {
	Session  *Session `json:"session,omitempty"`
	Queued   bool     `json:"queued"`
	Position int      `json:"position,omitempty"`
}

// attempt is one try at connecting a caller to a restaurant.
type attempt struct {
	callerID     string
	callerLabel  string
	restaurantID string
	by           InitiatedBy
}

// Initiate starts a call between a screen and a restaurant. by records which
// side asked for it and defaults to SCREEN. A busy restaurant is not an
// error: the caller is queued and the result carries its position.
func (s *Service) Initiate(ctx context.Context, callerID, restaurantID string, by InitiatedBy) (InitiateResult, error) {
	if callerID == "" || restaurantID == "" {
		return InitiateResult{}, invalid("screenId and restaurantId are required")
	}
	if by == "" {
		by = InitiatedByScreen
	}
	if !by.Valid() {
		return InitiateResult{}, invalid("initiatedBy must be SCREEN or RESTAURANT")
	}
	screen, err := s.dir.Screen(ctx, callerID)
	if errors.Is(err, directory.ErrNotFound) {
		return InitiateResult{}, ErrCallerNotFound
	}
	if err != nil {
		return InitiateResult{}, internal("load screen", err)
	}

	a := attempt{callerID: callerID, callerLabel: screen.Name, restaurantID: restaurantID, by: by}
	sess, freed, err := s.connect(ctx, a)
	defer s.drain(ctx, freed...)
	if err == nil {
		return InitiateResult{Session: &sess}, nil
	}
	if !errors.Is(err, ErrRestaurantBusy) {
		return InitiateResult{}, err
	}

	pos, err := s.queue.Enqueue(ctx, queue.Entry{
		RestaurantID: restaurantID,
		CallerID:     callerID,
		CallerLabel:  screen.Name,
		EnqueuedAt:   s.clock().UTC(),
	})
	if err != nil {
		return InitiateResult{}, internal("enqueue caller", err)
	}
	logger.From(ctx).Info("caller queued", "restaurant_id", restaurantID, "screen_id", callerID, "position", pos)

	s.emit(ctx, presence.Screen, callerID, EventCallStatus, CallStatusPayload{
		Status:       "BUSY",
		RestaurantID: restaurantID,
		Position:     pos,
		Message:      "Restaurant is busy. You are in the queue.",
	})
	s.emit(ctx, presence.Screen, callerID, EventQueuePosition, QueuePositionPayload{RestaurantID: restaurantID, Position: pos})
	return InitiateResult{Queued: true, Position: pos}, nil
}

// connect runs the create-then-lock saga for one attempt. freed lists the
// restaurants whose locks were released by stale recovery; their queues need
// draining once the caller is done.
func (s *Service) connect(ctx context.Context, a attempt) (sess Session, freed []string, err error) {
	freed, err = s.clearOpenSessions(ctx, a.callerID)
	if err != nil {
		return Session{}, freed, err
	}

	rest, err := s.dir.Restaurant(ctx, a.restaurantID)
	if errors.Is(err, directory.ErrNotFound) {
		return Session{}, freed, ErrRestaurantNotFound
	}
	if err != nil {
		return Session{}, freed, internal("load restaurant", err)
	}
	if rest.Status == directory.StatusOffline {
		return Session{}, freed, ErrRestaurantOffline
	}

	now := s.clock().UTC()
	sess = Session{
		ID:             s.newID(),
		CallerID:       a.callerID,
		CallerName:     a.callerLabel,
		RestaurantID:   a.restaurantID,
		RestaurantName: rest.Name,
		Status:         StatusInitiated,
		InitiatedBy:    a.by,
		StartTime:      now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return Session{}, freed, internal("create session", err)
	}

	acquired, err := s.locks.Acquire(ctx, a.restaurantID, sess.ID, s.lockTTL)
	if err != nil || !acquired {
		s.undoCreate(ctx, sess.ID)
		if err != nil {
			return Session{}, freed, internal("acquire restaurant lock", err)
		}
		return Session{}, freed, ErrRestaurantBusy
	}

	// The session stays INITIATED until a client reports RINGING or the
	// restaurant answers; the caller is told it is ringing either way.
	logger.From(ctx).Info("call ringing", "call_id", sess.ID, "restaurant_id", a.restaurantID, "screen_id", a.callerID)
	s.emit(ctx, presence.Restaurant, a.restaurantID, EventCallIncoming, IncomingPayload{
		CallID:       sess.ID,
		RestaurantID: a.restaurantID,
		ScreenID:     a.callerID,
		ScreenName:   a.callerLabel,
		Session:      sess,
	})
	s.emit(ctx, presence.Screen, a.callerID, EventCallStatus, CallStatusPayload{
		Status:       string(StatusRinging),
		CallID:       sess.ID,
		RestaurantID: a.restaurantID,
	})
	return sess, freed, nil
}

// undoCreate is the compensation for a session whose lock was not obtained.
// A failure leaves an INITIATED orphan that stale recovery ends later.
func (s *Service) undoCreate(ctx context.Context, id string) {
	if err := s.repo.Delete(ctx, id); err != nil {
		logger.From(ctx).Error("orphan session left behind", "call_id", id, "err", err)
	}
}

// clearOpenSessions enforces one open call per caller. Recent open sessions
// block the attempt; older ones are force-ended and their locks released.
func (s *Service) clearOpenSessions(ctx context.Context, callerID string) ([]string, error) {
	open, err := s.repo.OpenByCaller(ctx, callerID)
	if err != nil {
		return nil, internal("load open sessions", err)
	}
	now := s.clock()
	for _, o := range open {
		if now.Sub(o.StartTime) < s.staleAfter {
			return nil, ErrAlreadyInCall
		}
	}

	var freed []string
	for _, o := range open {
		released, err := s.recoverStale(ctx, o)
		if err != nil {
			return freed, err
		}
		if released {
			freed = append(freed, o.RestaurantID)
		}
	}
	return freed, nil
}

// recoverStale force-ends an abandoned session with zero duration. This is
// the only path that ends a session that was never answered as ENDED.
func (s *Service) recoverStale(ctx context.Context, o Session) (bool, error) {
	now := s.clock().UTC()
	zero := 0
	ok, err := s.repo.Transition(ctx, o.ID, OpenStatuses, Update{Status: StatusEnded, EndTime: &now, DurationSec: &zero, UpdatedAt: now})
	if err != nil {
		return false, internal("end stale session", err)
	}
	released, err := s.locks.Release(ctx, o.RestaurantID, o.ID)
	if err != nil {
		return false, internal("release stale lock", err)
	}
	if !ok {
		return released, nil
	}

	logger.From(ctx).Warn("stale call session force-ended",
		"call_id", o.ID, "restaurant_id", o.RestaurantID, "screen_id", o.CallerID,
		"age", now.Sub(o.StartTime).String(), "lock_released", released)
	s.recordAudit(ctx, audit.Event{
		Type:         audit.EventTypeStaleCleanup,
		RestaurantID: o.RestaurantID,
		CallID:       o.ID,
		Message:      "stale session force-ended",
	})
	ended := EndedPayload{CallID: o.ID, RestaurantID: o.RestaurantID, ScreenID: o.CallerID, Status: StatusEnded, Reason: "stale"}
	s.emit(ctx, presence.Restaurant, o.RestaurantID, EventCallEnded, ended)
	s.emit(ctx, presence.Screen, o.CallerID, EventCallEnded, ended)
	return released, nil
}

// Accept answers a ringing call. The lock TTL is refreshed so ringing time
// does not shorten the conversation.
func (s *Service) Accept(ctx context.Context, callID string) (Session, error) {
	sess, err := s.get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == StatusActive {
		return sess, nil
	}

	ok, err := s.repo.Transition(ctx, callID, allowedFrom(StatusActive), Update{Status: StatusActive, UpdatedAt: s.clock().UTC()})
	if err != nil {
		return Session{}, internal("accept call", err)
	}
	if !ok {
		cur, err := s.get(ctx, callID)
		if err != nil {
			return Session{}, err
		}
		if cur.Status == StatusActive {
			return cur, nil
		}
		return Session{}, ErrInvalidTransition
	}
	sess.Status = StatusActive

	extended, err := s.locks.Extend(ctx, sess.RestaurantID, callID, s.lockTTL)
	switch {
	case err != nil:
		logger.From(ctx).Warn("lock ttl refresh failed", "call_id", callID, "restaurant_id", sess.RestaurantID, "err", err)
	case !extended:
		logger.From(ctx).Warn("accepted call no longer holds its restaurant lock", "call_id", callID, "restaurant_id", sess.RestaurantID)
	}

	logger.From(ctx).Info("call accepted", "call_id", callID, "restaurant_id", sess.RestaurantID)
	p := AcceptedPayload{CallID: callID, RestaurantID: sess.RestaurantID, ScreenID: sess.CallerID}
	s.emit(ctx, presence.Restaurant, sess.RestaurantID, EventCallAccepted, p)
	s.emit(ctx, presence.Screen, sess.CallerID, EventCallAccepted, p)
	s.emit(ctx, presence.SuperAdmin, "", EventAdminCallStarted, AdminCallPayload{Session: sess})
	return sess, nil
}

// End hangs up a call. It finalizes as ENDED whether or not the call was
// answered; Cancel and Reject record the unanswered outcomes.
func (s *Service) End(ctx context.Context, callID, orderNumber string) (Session, error) {
	return s.finish(ctx, callID, StatusEnded, orderNumber)
}

// Cancel withdraws a call from the caller side. An unanswered call ends as
// MISSED.
func (s *Service) Cancel(ctx context.Context, callID string) (Session, error) {
	return s.finish(ctx, callID, StatusMissed, "")
}

// Reject declines a call that has not been answered. Rejecting an answered
// call hangs it up.
func (s *Service) Reject(ctx context.Context, callID string) (Session, error) {
	return s.finish(ctx, callID, StatusRejected, "")
}

// finish moves a call to its terminal status, releases the restaurant and
// hands it to the next queued caller. Finishing a terminal call is a no-op
// apart from retrying the lock release.
func (s *Service) finish(ctx context.Context, callID string, outcome Status, orderNumber string) (Session, error) {
	sess, err := s.get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status.Terminal() {
		return s.releaseAfterFinish(ctx, sess, false)
	}

	target, from := outcome, allowedFrom(outcome)
	switch {
	case outcome == StatusEnded:
		// A hang-up is a forced end, as in stale recovery.
		from = OpenStatuses
	case sess.Status == StatusActive:
		target, from = StatusEnded, allowedFrom(StatusEnded)
	}

	now := s.clock().UTC()
	dur := int(now.Sub(sess.StartTime) / time.Second)
	if dur < 0 {
		dur = 0
	}
	ok, err := s.repo.Transition(ctx, callID, from, Update{
		Status:      target,
		EndTime:     &now,
		DurationSec: &dur,
		OrderNumber: orderNumber,
		UpdatedAt:   now,
	})
	if err != nil {
		return Session{}, internal("finish call", err)
	}
	if !ok {
		cur, err := s.get(ctx, callID)
		if err != nil {
			return Session{}, err
		}
		if cur.Status.Terminal() {
			return s.releaseAfterFinish(ctx, cur, false)
		}
		// Answered meanwhile. Statuses only move forward so this recursion is bounded.
		if cur.Status != sess.Status {
			return s.finish(ctx, callID, outcome, orderNumber)
		}
		return Session{}, ErrInvalidTransition
	}

	sess.Status = target
	sess.EndTime = &now
	sess.DurationSec = &dur
	if orderNumber != "" {
		sess.OrderNumber = orderNumber
	}
	logger.From(ctx).Info("call finished", "call_id", callID, "restaurant_id", sess.RestaurantID, "status", target, "duration_sec", dur)
	return s.releaseAfterFinish(ctx, sess, true)
}

func (s *Service) releaseAfterFinish(ctx context.Context, sess Session, notify bool) (Session, error) {
	released, err := s.locks.Release(ctx, sess.RestaurantID, sess.ID)
	if err != nil {
		return Session{}, internal("release restaurant lock", err)
	}
	if notify {
		p := EndedPayload{
			CallID:       sess.ID,
			RestaurantID: sess.RestaurantID,
			ScreenID:     sess.CallerID,
			Status:       sess.Status,
			OrderNumber:  sess.OrderNumber,
			DurationSec:  sess.DurationSec,
		}
		s.emit(ctx, presence.Restaurant, sess.RestaurantID, EventCallEnded, p)
		s.emit(ctx, presence.Screen, sess.CallerID, EventCallEnded, p)
		s.emit(ctx, presence.SuperAdmin, "", EventAdminCallEnded, AdminCallPayload{Session: sess})
	}
	if notify || released {
		s.drain(ctx, sess.RestaurantID)
	}
	return sess, nil
}

// UpdateStatus applies a non-terminal status change. Terminal statuses go
// through End and Reject so the lock is released with them.
func (s *Service) UpdateStatus(ctx context.Context, callID string, status Status) (Session, error) {
	switch status {
	case StatusActive:
		return s.Accept(ctx, callID)
	case StatusRinging:
	default:
		return Session{}, invalid("status must be RINGING or ACTIVE")
	}

	sess, err := s.get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == status {
		return sess, nil
	}
	ok, err := s.repo.Transition(ctx, callID, allowedFrom(status), Update{Status: status, UpdatedAt: s.clock().UTC()})
	if err != nil {
		return Session{}, internal("update call status", err)
	}
	if !ok {
		return Session{}, ErrInvalidTransition
	}
	sess.Status = status
	return sess, nil
}

// AttachRecording stores a media reference for a call. The first
// attachment wins; later calls return the session unchanged.
func (s *Service) AttachRecording(ctx context.Context, callID, ref string, size *int64) (Session, error) {
	if ref == "" {
		return Session{}, invalid("recording reference is required")
	}
	if size != nil && *size < 0 {
		return Session{}, invalid("recording size must be >= 0")
	}
	if _, err := s.repo.SetRecording(ctx, callID, ref, size); err != nil {
		if errors.Is(err, ErrCallNotFound) {
			return Session{}, err
		}
		return Session{}, internal("attach recording", err)
	}
	return s.get(ctx, callID)
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, callID string) (Session, error) {
	return s.get(ctx, callID)
}

func (s *Service) get(ctx context.Context, callID string) (Session, error) {
	if callID == "" {
		return Session{}, invalid("callId is required")
	}
	sess, err := s.repo.Get(ctx, callID)
	if errors.Is(err, ErrCallNotFound) {
		return Session{}, ErrCallNotFound
	}
	if err != nil {
		return Session{}, internal("load session", err)
	}
	return sess, nil
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// List returns one page of call history, newest first.
func (s *Service) List(ctx context.Context, page, limit int, f ListFilter) (Page, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		return Page{}, invalid(fmt.Sprintf("limit must be <= %d", maxPageLimit))
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Page{}, invalid("endDate must not be before startDate")
	}
	f.Offset = (page - 1) * limit
	f.Limit = limit

	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, internal("list sessions", err)
	}
	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// LeaveQueue withdraws a waiting caller.
func (s *Service) LeaveQueue(ctx context.Context, restaurantID, callerID string) (bool, error) {
	if restaurantID == "" || callerID == "" {
		return false, invalid("restaurantId and screenId are required")
	}
	removed, err := s.queue.Remove(ctx, restaurantID, callerID)
	if err != nil {
		return false, internal("leave queue", err)
	}
	if removed {
		logger.From(ctx).Info("caller left queue", "restaurant_id", restaurantID, "screen_id", callerID)
		s.broadcastPositions(ctx, restaurantID)
	}
	return removed, nil
}

// QueuePosition reports a waiting caller's 1-based position.
func (s *Service) QueuePosition(ctx context.Context, restaurantID, callerID string) (int, bool, error) {
	if restaurantID == "" || callerID == "" {
		return 0, false, invalid("restaurantId and screenId are required")
	}
	pos, ok, err := s.queue.PositionOf(ctx, restaurantID, callerID)
	if err != nil {
		return 0, false, internal("queue position", err)
	}
	return pos, ok, nil
}

// QueuedCaller is a queue entry with its 1-based position.
type QueuedCaller struct {
	queue.Entry
	Position int `json:"position"`
}

// Queue returns the waiting callers of a restaurant in serving order.
func (s *Service) Queue(ctx context.Context, restaurantID string) ([]QueuedCaller, error) {
	entries, err := s.queue.List(ctx, restaurantID)
	if err != nil {
		return nil, internal("list queue", err)
	}
	out := make([]QueuedCaller, len(entries))
	for i, e := range entries {
		out[i] = QueuedCaller{Entry: e, Position: i + 1}
	}
	return out, nil
}

// LockStatus is an operator view of one restaurant.
type LockStatus struct {
	RestaurantID string         `json:"restaurantId"`
	Locked       bool           `json:"locked"`
	HolderCallID string         `json:"holderCallId,omitempty"`
	Holder       *Session       `json:"holder,omitempty"`
	Queue        []QueuedCaller `json:"queue"`
}

func (s *Service) LockStatus(ctx context.Context, restaurantID string) (LockStatus, error) {
	holder, held, err := s.locks.Holder(ctx, restaurantID)
	if err != nil {
		return LockStatus{}, internal("read restaurant lock", err)
	}
	out := LockStatus{RestaurantID: restaurantID, Locked: held, HolderCallID: holder}
	if held {
		if sess, err := s.repo.Get(ctx, holder); err == nil {
			out.Holder = &sess
		}
	}
	if out.Queue, err = s.Queue(ctx, restaurantID); err != nil {
		return LockStatus{}, err
	}
	return out, nil
}

// ForceReleaseLock drops a restaurant lock regardless of its holder and
// serves the queue.
func (s *Service) ForceReleaseLock(ctx context.Context, restaurantID string, actor Actor) error {
	if restaurantID == "" {
		return invalid("restaurantId is required")
	}
	holder, _, err := s.locks.Holder(ctx, restaurantID)
	if err != nil {
		return internal("read restaurant lock", err)
	}
	if err := s.locks.ForceRelease(ctx, restaurantID); err != nil {
		return internal("force release lock", err)
	}
	logger.From(ctx).Warn("restaurant lock force-released", "restaurant_id", restaurantID, "holder_call_id", holder, "actor", actor.UserID)
	s.recordAudit(ctx, audit.Event{
		Type:         audit.EventTypeAdminAction,
		RestaurantID: restaurantID,
		ActorUserID:  actor.UserID,
		ActorRole:    actor.Role,
		IPAddress:    actor.IP,
		CallID:       holder,
		Message:      "restaurant lock force-released",
	})
	s.drain(ctx, restaurantID)
	return nil
}

// ResetRestaurant clears a stuck restaurant: the lock is dropped, the call
// holding it is ended, availability returns to AVAILABLE and the queue is
// served.
func (s *Service) ResetRestaurant(ctx context.Context, restaurantID string, actor Actor) error {
	if restaurantID == "" {
		return invalid("restaurantId is required")
	}
	if _, err := s.dir.Restaurant(ctx, restaurantID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return ErrRestaurantNotFound
		}
		return internal("load restaurant", err)
	}
	holder, held, err := s.locks.Holder(ctx, restaurantID)
	if err != nil {
		return internal("read restaurant lock", err)
	}
	if err := s.locks.ForceRelease(ctx, restaurantID); err != nil {
		return internal("force release lock", err)
	}
	if held {
		if err := s.forceEnd(ctx, holder, "reset"); err != nil {
			return err
		}
	}
	if err := s.dir.SetRestaurantStatus(ctx, restaurantID, directory.StatusAvailable); err != nil {
		return internal("reset restaurant status", err)
	}

	logger.From(ctx).Warn("restaurant reset", "restaurant_id", restaurantID, "holder_call_id", holder, "actor", actor.UserID)
	s.recordAudit(ctx, audit.Event{
		Type:         audit.EventTypeAdminAction,
		RestaurantID: restaurantID,
		ActorUserID:  actor.UserID,
		ActorRole:    actor.Role,
		IPAddress:    actor.IP,
		CallID:       holder,
		Message:      "restaurant reset",
	})
	s.emit(ctx, presence.SuperAdmin, "", EventRestaurantStatus, RestaurantStatusPayload{RestaurantID: restaurantID, Status: directory.StatusAvailable})
	s.drain(ctx, restaurantID)
	return nil
}

// forceEnd ends an open session without touching locks.
func (s *Service) forceEnd(ctx context.Context, callID, reason string) error {
	sess, err := s.repo.Get(ctx, callID)
	if errors.Is(err, ErrCallNotFound) {
		return nil
	}
	if err != nil {
		return internal("load session", err)
	}
	if sess.Status.Terminal() {
		return nil
	}
	now := s.clock().UTC()
	dur := int(now.Sub(sess.StartTime) / time.Second)
	if dur < 0 {
		dur = 0
	}
	ok, err := s.repo.Transition(ctx, callID, OpenStatuses, Update{Status: StatusEnded, EndTime: &now, DurationSec: &dur, UpdatedAt: now})
	if err != nil {
		return internal("force end session", err)
	}
	if ok {
		p := EndedPayload{CallID: callID, RestaurantID: sess.RestaurantID, ScreenID: sess.CallerID, Status: StatusEnded, DurationSec: &dur, Reason: reason}
		s.emit(ctx, presence.Restaurant, sess.RestaurantID, EventCallEnded, p)
		s.emit(ctx, presence.Screen, sess.CallerID, EventCallEnded, p)
	}
	return nil
}

// SetAvailability flips the restaurant availability flag. Becoming
// AVAILABLE serves the queue.
func (s *Service) SetAvailability(ctx context.Context, restaurantID string, status directory.RestaurantStatus) error {
	if !status.Valid() {
		return invalid("status must be AVAILABLE, BUSY or OFFLINE")
	}
	err := s.dir.SetRestaurantStatus(ctx, restaurantID, status)
	if errors.Is(err, directory.ErrNotFound) {
		return ErrRestaurantNotFound
	}
	if err != nil {
		return internal("set restaurant status", err)
	}
	s.emit(ctx, presence.SuperAdmin, "", EventRestaurantStatus, RestaurantStatusPayload{RestaurantID: restaurantID, Status: status})
	if status == directory.StatusAvailable {
		s.drain(ctx, restaurantID)
	}
	return nil
}

// maxDrainRestaurants bounds how far stale recoveries during a drain may
// cascade into other restaurants.
const maxDrainRestaurants = 16

// drain hands each listed restaurant to the head of its queue. It runs
// detached from the caller's cancellation so a disconnecting client cannot
// leave a released restaurant unserved. Failures are logged, never returned.
func (s *Service) drain(ctx context.Context, restaurantIDs ...string) {
	if len(restaurantIDs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	seen := map[string]bool{}
	work := append([]string(nil), restaurantIDs...)
	for len(work) > 0 && len(seen) < maxDrainRestaurants {
		rid := work[0]
		work = work[1:]
		if seen[rid] {
			continue
		}
		seen[rid] = true
		work = append(work, s.drainOne(ctx, rid)...)
		s.broadcastPositions(ctx, rid)
	}
}

// drainOne tries queued callers in order until one connects or the
// restaurant turns out to be unavailable. At most one pass over the queue
// as it was when draining began.
func (s *Service) drainOne(ctx context.Context, restaurantID string) []string {
	log := logger.From(ctx).With("restaurant_id", restaurantID)
	// A held lock means a call is running; its finish drains again.
	if locked, err := s.locks.IsLocked(ctx, restaurantID); err != nil || locked {
		if err != nil {
			log.Error("queue drain: lock check failed", "err", err)
		}
		return nil
	}
	n, err := s.queue.Len(ctx, restaurantID)
	if err != nil {
		log.Error("queue drain: length failed", "err", err)
		return nil
	}

	var freed []string
	for i := 0; i < n; i++ {
		e, ok, err := s.queue.Dequeue(ctx, restaurantID)
		if err != nil {
			log.Error("queue drain: dequeue failed", "err", err)
			return freed
		}
		if !ok {
			return freed
		}

		sess, more, err := s.connect(ctx, attempt{callerID: e.CallerID, callerLabel: e.CallerLabel, restaurantID: restaurantID, by: InitiatedByScreen})
		freed = append(freed, more...)
		if err == nil {
			log.Info("queue drain: connected next caller", "call_id", sess.ID, "screen_id", e.CallerID)
			return freed
		}

		switch KindOf(err) {
		case KindBusy, KindInternal:
			// Restaurant taken again or store trouble: the caller keeps its turn.
			if perr := s.queue.PushFront(ctx, e); perr != nil {
				log.Error("queue drain: caller lost from queue", "screen_id", e.CallerID, "err", perr)
			}
			log.Warn("queue drain: stopped", "screen_id", e.CallerID, "err", err)
			return freed
		default:
			if errors.Is(err, ErrRestaurantOffline) || errors.Is(err, ErrRestaurantNotFound) {
				if perr := s.queue.PushFront(ctx, e); perr != nil {
					log.Error("queue drain: caller lost from queue", "screen_id", e.CallerID, "err", perr)
				}
				log.Info("queue drain: restaurant unavailable", "err", err)
				return freed
			}
			log.Info("queue drain: dropped caller", "screen_id", e.CallerID, "code", CodeOf(err))
			s.emit(ctx, presence.Screen, e.CallerID, EventCallStatus, CallStatusPayload{
				Status:       "FAILED",
				RestaurantID: restaurantID,
				Code:         CodeOf(err),
				Message:      err.Error(),
			})
		}
	}
	return freed
}

func (s *Service) broadcastPositions(ctx context.Context, restaurantID string) {
	entries, err := s.queue.List(ctx, restaurantID)
	if err != nil {
		logger.From(ctx).Error("queue positions: list failed", "restaurant_id", restaurantID, "err", err)
		return
	}
	for i, e := range entries {
		s.emit(ctx, presence.Screen, e.CallerID, EventQueuePosition, QueuePositionPayload{
			RestaurantID: restaurantID,
			Position:     i + 1,
			QueueLength:  len(entries),
		})
	}
}

func (s *Service) emit(ctx context.Context, t presence.PartyType, id, event string, payload any) {
	if s.bc == nil {
		return
	}
	s.bc.EmitTo(ctx, t, id, event, payload)
}

func (s *Service) recordAudit(ctx context.Context, e audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, e); err != nil {
		logger.From(ctx).Error("audit append failed", "type", e.Type, "restaurant_id", e.RestaurantID, "err", err)
	}
}
