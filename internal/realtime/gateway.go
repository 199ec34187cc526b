// Package realtime is the websocket gateway: it authenticates connections,
// binds them to presence rooms, and turns inbound events into orchestrator
// calls and signaling relays.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"callbroker/internal/auth"
	"callbroker/internal/calls"
	"callbroker/internal/config"
	"callbroker/internal/directory"
	"callbroker/internal/presence"
	"callbroker/internal/rbac"
	"callbroker/internal/signaling"
	"callbroker/pkg/logger"
)

// CallService is the slice of the orchestrator the gateway drives.
type CallService interface {
	Initiate(ctx context.Context, callerID, restaurantID string, by calls.InitiatedBy) (calls.InitiateResult, error)
	Get(ctx context.Context, callID string) (calls.Session, error)
	Accept(ctx context.Context, callID string) (calls.Session, error)
	Reject(ctx context.Context, callID string) (calls.Session, error)
	Cancel(ctx context.Context, callID string) (calls.Session, error)
	End(ctx context.Context, callID, orderNumber string) (calls.Session, error)
	LeaveQueue(ctx context.Context, restaurantID, callerID string) (bool, error)
}

// Directory resolves who should hear about whose presence.
type Directory interface {
	AssignedScreens(ctx context.Context, restaurantID string) ([]directory.Screen, error)
	ScreenRestaurants(ctx context.Context, screenID string) ([]directory.Restaurant, error)
	ListRestaurants(ctx context.Context) ([]directory.Restaurant, error)
	ListScreens(ctx context.Context) ([]directory.Screen, error)
}

type Deps struct {
	Calls       CallService
	Directory   Directory
	Registry    *presence.Registry
	Broadcaster *presence.Broadcaster
	Relay       *signaling.Relay
}

type Gateway struct {
	calls CallService
	dir   Directory
	reg   *presence.Registry
	bc    *presence.Broadcaster
	relay *signaling.Relay
	cfg   config.WSConfig
	log   *slog.Logger

	upgrader websocket.Upgrader
	newID    func() string

	mu    sync.Mutex
	conns map[string]*conn
}

func NewGateway(d Deps, cfg config.WSConfig, log *slog.Logger) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 40
	}
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		calls: d.Calls,
		dir:   d.Directory,
		reg:   d.Registry,
		bc:    d.Broadcaster,
		relay: d.Relay,
		cfg:   cfg,
		log:   log,
		newID: uuid.NewString,
		conns: map[string]*conn{},
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	g.reg.OnChange(g.onPresenceChange)
	return g
}

// checkOrigin allows any origin when none are configured. Requests without
// an Origin header come from non-browser clients and are allowed.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(g.cfg.AllowedOrigins, origin)
}

// Serve upgrades an authenticated request. It must run behind
// auth.RequireAccessToken.
func (g *Gateway) Serve(c *gin.Context) {
	id := auth.IdentityFrom(c.Request.Context())
	if id.UserID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.From(c.Request.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}

	cn := newConn(g.newID(), ws, id, g.cfg.SendBuffer, g.cfg.RatePerSec, g.cfg.RateBurst)
	l := logger.From(c.Request.Context()).With("conn_id", cn.id, "user_id", id.UserID, "role", id.Role)
	ctx := logger.With(c.Request.Context(), l)
	l.Info("client connected")

	g.mu.Lock()
	g.conns[cn.id] = cn
	g.mu.Unlock()

	go cn.writePump()
	g.readPump(ctx, cn)

	g.mu.Lock()
	delete(g.conns, cn.id)
	g.mu.Unlock()
	left := g.reg.LeaveAll(cn)
	cn.close()
	l.Info("client disconnected", "parties_offline", len(left))
}

// CloseAll sends a close frame to every connected client. Their read loops
// then exit and the usual disconnect cleanup runs.
func (g *Gateway) CloseAll() int {
	g.mu.Lock()
	open := make([]*conn, 0, len(g.conns))
	for _, cn := range g.conns {
		open = append(open, cn)
	}
	g.mu.Unlock()
	for _, cn := range open {
		cn.close()
	}
	return len(open)
}

func (g *Gateway) readPump(ctx context.Context, cn *conn) {
	ws := cn.ws
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.From(ctx).Warn("unexpected close", "err", err)
			}
			return
		}
		if !cn.limiter.Allow() {
			g.replyError(ctx, cn, "", "RATE_LIMITED", "too many messages")
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			g.replyError(ctx, cn, "", "BAD_MESSAGE", "expected {\"event\", \"data\"}")
			continue
		}
		g.dispatch(ctx, cn, env)
	}
}

func (g *Gateway) dispatch(ctx context.Context, cn *conn, env Envelope) {
	switch env.Event {
	case evJoin:
		g.handleJoin(ctx, cn, env, true)
	case evLeave:
		g.handleJoin(ctx, cn, env, false)
	case evPresenceSync:
		g.syncPresence(ctx, cn)
	case evCallRequest:
		g.handleCallRequest(ctx, cn, env)
	case evCallAccept, evCallReject, evCallCancel, evCallEnd:
		g.handleCallAction(ctx, cn, env)
	case evQueueLeave:
		g.handleQueueLeave(ctx, cn, env)
	case evStatusRequest:
		g.handleStatusRequest(ctx, cn, env)
	default:
		if t, ok := strings.CutPrefix(env.Event, "signal:"); ok {
			g.handleSignal(ctx, cn, env, signaling.MessageType(t))
			return
		}
		g.replyError(ctx, cn, env.Event, "UNKNOWN_EVENT", "unknown event")
	}
}

var errEmptyData = errors.New("missing data")

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return errEmptyData
	}
	return json.Unmarshal(env.Data, v)
}

func (g *Gateway) replyError(ctx context.Context, cn *conn, event, code, msg string) {
	if err := cn.Send(EventError, ErrorPayload{Event: event, Code: code, Message: msg}); err != nil {
		logger.From(ctx).Debug("error reply dropped", "code", code, "err", err)
	}
}

// publicMessage hides store failures from clients.
func publicMessage(err error) string {
	if calls.KindOf(err) == calls.KindInternal {
		return "internal error"
	}
	return err.Error()
}

func (g *Gateway) handleJoin(ctx context.Context, cn *conn, env Envelope, join bool) {
	var req joinRequest
	if err := decode(env, &req); err != nil || !req.PartyType.Valid() {
		g.replyError(ctx, cn, env.Event, "BAD_MESSAGE", "partyType and partyId are required")
		return
	}
	if req.PartyType != presence.SuperAdmin && req.PartyID == "" {
		g.replyError(ctx, cn, env.Event, "BAD_MESSAGE", "partyId is required")
		return
	}
	if !canJoin(cn.identity, req) {
		g.replyError(ctx, cn, env.Event, "FORBIDDEN", "token does not allow this party")
		return
	}

	p := presence.NewParty(req.PartyType, req.PartyID)
	if !join {
		g.reg.Leave(cn, p)
		return
	}
	g.reg.Join(cn, p)
	logger.From(ctx).Info("joined", "party_type", p.Type, "party_id", p.ID)
	_ = cn.Send(EventJoined, JoinedPayload{PartyType: p.Type, PartyID: p.ID, ConnID: cn.id})
}

func canJoin(id auth.Identity, req joinRequest) bool {
	if req.PartyType == presence.SuperAdmin {
		return rbac.IsSuperAdmin(id.Role)
	}
	return rbac.CanActAs(id.Role, id.PartyID, string(req.PartyType), req.PartyID)
}

// callerFor resolves the screen a request acts for. Screen tokens default to
// their own party.
func callerFor(id auth.Identity, requested string) (string, bool) {
	if requested == "" && id.Role == rbac.RoleScreen {
		requested = id.PartyID
	}
	if requested == "" {
		return "", false
	}
	return requested, rbac.CanActAs(id.Role, id.PartyID, rbac.RoleScreen, requested)
}

func (g *Gateway) handleCallRequest(ctx context.Context, cn *conn, env Envelope) {
	var req callRequest
	if err := decode(env, &req); err != nil || req.RestaurantID == "" {
		g.replyError(ctx, cn, env.Event, "BAD_MESSAGE", "restaurantId is required")
		return
	}
	screenID, ok := callerFor(cn.identity, req.ScreenID)
	if !ok {
		g.replyError(ctx, cn, env.Event, "FORBIDDEN", "token does not allow calling for this screen")
		return
	}

	if _, err := g.calls.Initiate(ctx, screenID, req.RestaurantID, calls.InitiatedByScreen); err != nil {
		logger.From(ctx).Info("call request refused", "screen_id", screenID, "restaurant_id", req.RestaurantID, "code", calls.CodeOf(err))
		_ = cn.Send(calls.EventCallStatus, calls.CallStatusPayload{
			Status:       "BUSY",
			RestaurantID: req.RestaurantID,
			Code:         calls.CodeOf(err),
			Message:      publicMessage(err),
		})
	}
}

func (g *Gateway) handleCallAction(ctx context.Context, cn *conn, env Envelope) {
	var req callRef
	if err := decode(env, &req); err != nil || req.CallID == "" {
		g.replyError(ctx, cn, env.Event, "BAD_MESSAGE", "callId is required")
		return
	}
	sess, err := g.calls.Get(ctx, req.CallID)
	if err != nil {
		g.replyError(ctx, cn, env.Event, calls.CodeOf(err), publicMessage(err))
		return
	}
	if !canAct(cn.identity, env.Event, sess) {
		g.replyError(ctx, cn, env.Event, "FORBIDDEN", "not a party to this call")
		return
	}

	switch env.Event {
	case evCallAccept:
		_, err = g.calls.Accept(ctx, req.CallID)
	case evCallReject:
		_, err = g.calls.Reject(ctx, req.CallID)
	case evCallCancel:
		_, err = g.calls.Cancel(ctx, req.CallID)
	case evCallEnd:
		_, err = g.calls.End(ctx, req.CallID, req.OrderNumber)
	}
	if err != nil {
		logger.From(ctx).Warn("call action failed", "event", env.Event, "call_id", req.CallID, "err", err)
		g.replyError(ctx, cn, env.Event, calls.CodeOf(err), publicMessage(err))
	}
}

// canAct: the restaurant answers or declines, the screen cancels, either
// side hangs up.
func canAct(id auth.Identity, event string, s calls.Session) bool {
	if rbac.IsSuperAdmin(id.Role) {
		return true
	}
	isRestaurant := id.Role == rbac.RoleRestaurant && id.PartyID == s.RestaurantID
	isScreen := id.Role == rbac.RoleScreen && id.PartyID == s.CallerID
	switch event {
	case evCallAccept, evCallReject:
		return isRestaurant
	case evCallCancel:
		return isScreen
	default:
		return isRestaurant || isScreen
	}
}

func (g *Gateway) handleQueueLeave(ctx context.Context, cn *conn, env Envelope) {
	var req queueLeaveRequest
	if err := decode(env, &req); err != nil || req.RestaurantID == "" {
		g.replyError(ctx, cn, env.Event, "BAD_MESSAGE", "restaurantId is required")
		return
	}
	screenID, ok := callerFor(cn.identity, req.ScreenID)
	if !ok {
		g.replyError(ctx, cn, env.Event, "FORBIDDEN", "token does not allow this screen")
		return
	}
	if _, err := g.calls.LeaveQueue(ctx, req.RestaurantID, screenID); err != nil {
		g.replyError(ctx, cn, env.Event, calls.CodeOf(err), publicMessage(err))
	}
}

func (g *Gateway) handleSignal(ctx context.Context, cn *conn, env Envelope, t signaling.MessageType) {
	if len(g.reg.PartiesOf(cn)) == 0 {
		g.replyError(ctx, cn, env.Event, "NOT_JOINED", "join before signaling")
		return
	}
	var req signalRequest
	if err := decode(env, &req); err != nil {
		g.replyError(ctx, cn, env.Event, "BAD_MESSAGE", "targetType, targetId and payload are required")
		return
	}
	n, err := g.relay.Relay(ctx, cn, cn.id, signaling.Message{
		Type:       t,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		CallID:     req.CallID,
		Payload:    req.Payload,
	})
	if err != nil {
		g.replyError(ctx, cn, env.Event, "BAD_SIGNAL", err.Error())
		return
	}
	if n == 0 {
		logger.From(ctx).Debug("signal target offline", "type", t, "target_type", req.TargetType, "target_id", req.TargetID, "call_id", req.CallID)
	}
}

func (g *Gateway) handleStatusRequest(ctx context.Context, cn *conn, env Envelope) {
	if !rbac.IsSuperAdmin(cn.identity.Role) {
		g.replyError(ctx, cn, env.Event, "FORBIDDEN", "super admin only")
		return
	}
	status, err := g.globalStatus(ctx)
	if err != nil {
		logger.From(ctx).Error("global status failed", "err", err)
		g.replyError(ctx, cn, env.Event, "INTERNAL", "internal error")
		return
	}
	_ = cn.Send(EventStatusResponse, status)
}

func (g *Gateway) globalStatus(ctx context.Context) (GlobalStatus, error) {
	rests, err := g.dir.ListRestaurants(ctx)
	if err != nil {
		return GlobalStatus{}, err
	}
	screens, err := g.dir.ListScreens(ctx)
	if err != nil {
		return GlobalStatus{}, err
	}
	out := GlobalStatus{
		Restaurants: make([]RestaurantState, 0, len(rests)),
		Screens:     make([]ScreenState, 0, len(screens)),
	}
	for _, r := range rests {
		out.Restaurants = append(out.Restaurants, RestaurantState{Restaurant: r, Online: g.reg.IsOnline(presence.NewParty(presence.Restaurant, r.ID))})
	}
	for _, s := range screens {
		out.Screens = append(out.Screens, ScreenState{Screen: s, Online: g.reg.IsOnline(presence.NewParty(presence.Screen, s.ID))})
	}
	return out, nil
}

// counterparts lists who cares about p's presence, admins excluded.
func (g *Gateway) counterparts(ctx context.Context, p presence.Party) ([]presence.Party, error) {
	var out []presence.Party
	switch p.Type {
	case presence.Restaurant:
		screens, err := g.dir.AssignedScreens(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range screens {
			out = append(out, presence.NewParty(presence.Screen, s.ID))
		}
	case presence.Screen:
		rests, err := g.dir.ScreenRestaurants(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range rests {
			out = append(out, presence.NewParty(presence.Restaurant, r.ID))
		}
	}
	return out, nil
}

func (g *Gateway) onPresenceChange(ch presence.Change) {
	if ch.Party.Type == presence.SuperAdmin {
		return
	}
	ctx := logger.With(context.Background(), g.log)
	event := EventPresenceOffline
	if ch.Online {
		event = EventPresenceOnline
	}
	payload := PresencePayload{PartyType: ch.Party.Type, PartyID: ch.Party.ID, Online: ch.Online}

	peers, err := g.counterparts(ctx, ch.Party)
	if err != nil {
		g.log.Error("presence fan-out: directory lookup failed", "party_type", ch.Party.Type, "party_id", ch.Party.ID, "err", err)
	}
	for _, p := range peers {
		g.bc.EmitTo(ctx, p.Type, p.ID, event, payload)
	}
	g.bc.EmitTo(ctx, presence.SuperAdmin, "", event, payload)
}

// syncPresence re-announces every online counterpart to a reconnected
// client.
func (g *Gateway) syncPresence(ctx context.Context, cn *conn) {
	seen := map[presence.Party]bool{}
	announce := func(p presence.Party) {
		if seen[p] || !g.reg.IsOnline(p) {
			return
		}
		seen[p] = true
		_ = cn.Send(EventPresenceOnline, PresencePayload{PartyType: p.Type, PartyID: p.ID, Online: true})
	}
	for _, own := range g.reg.PartiesOf(cn) {
		if own.Type == presence.SuperAdmin {
			for _, t := range []presence.PartyType{presence.Restaurant, presence.Screen} {
				for _, id := range g.reg.Online(t) {
					announce(presence.NewParty(t, id))
				}
			}
			continue
		}
		peers, err := g.counterparts(ctx, own)
		if err != nil {
			logger.From(ctx).Error("presence sync failed", "party_type", own.Type, "party_id", own.ID, "err", err)
			continue
		}
		for _, p := range peers {
			announce(p)
		}
	}
}
