package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callbroker/internal/audit"
	"callbroker/internal/auth"
	"callbroker/internal/calls"
	"callbroker/internal/directory"
	"callbroker/internal/rbac"
	"callbroker/internal/reporting"
	"callbroker/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls   *calls.Service
	Reports *reporting.Service
	Audit   audit.Reader
}

// writeError maps orchestrator error kinds to status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch calls.KindOf(err) {
	case calls.KindInvalid:
		status = http.StatusBadRequest
	case calls.KindNotFound:
		status = http.StatusNotFound
	case calls.KindConflict, calls.KindBusy:
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": calls.CodeOf(err)})
}

func forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "FORBIDDEN"})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": calls.ErrInvalidArgument.Code})
}

// --- Calls ---

type initiateRequest struct {
	ScreenID     string `json:"screenId"`
	RestaurantID string `json:"restaurantId"`
	// InitiatedBy is honoured for admin tokens only.
	InitiatedBy calls.InitiatedBy `json:"initiatedBy,omitempty"`
}

// Initiate answers 201 with the session when the restaurant was free and
// 202 with the queue position when it was busy.
func (h Handlers) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	id := auth.IdentityFrom(c.Request.Context())
	if req.ScreenID == "" && id.Role == rbac.RoleScreen {
		req.ScreenID = id.PartyID
	}
	if req.ScreenID == "" || req.RestaurantID == "" {
		badRequest(c, "screenId and restaurantId required")
		return
	}
	if !rbac.CanActAs(id.Role, id.PartyID, rbac.RoleScreen, req.ScreenID) {
		forbidden(c)
		return
	}

	if !rbac.IsSuperAdmin(id.Role) {
		req.InitiatedBy = calls.InitiatedByScreen
	}

	res, err := h.Calls.Initiate(c.Request.Context(), req.ScreenID, req.RestaurantID, req.InitiatedBy)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Queued {
		c.JSON(http.StatusAccepted, gin.H{"queued": true, "position": res.Position})
		return
	}
	c.JSON(http.StatusCreated, res.Session)
}

// loadOwnCall fetches :id and checks the caller is a party to it.
// restaurant and screen say which side may use the route.
func (h Handlers) loadOwnCall(c *gin.Context, restaurant, screen bool) (calls.Session, bool) {
	sess, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return calls.Session{}, false
	}
	id := auth.IdentityFrom(c.Request.Context())
	ok := rbac.IsSuperAdmin(id.Role) ||
		(restaurant && id.Role == rbac.RoleRestaurant && id.PartyID == sess.RestaurantID) ||
		(screen && id.Role == rbac.RoleScreen && id.PartyID == sess.CallerID)
	if !ok {
		forbidden(c)
		return calls.Session{}, false
	}
	return sess, true
}

func (h Handlers) respondSession(c *gin.Context, sess calls.Session, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) Accept(c *gin.Context) {
	if _, ok := h.loadOwnCall(c, true, false); !ok {
		return
	}
	sess, err := h.Calls.Accept(c.Request.Context(), c.Param("id"))
	h.respondSession(c, sess, err)
}

func (h Handlers) Reject(c *gin.Context) {
	if _, ok := h.loadOwnCall(c, true, false); !ok {
		return
	}
	sess, err := h.Calls.Reject(c.Request.Context(), c.Param("id"))
	h.respondSession(c, sess, err)
}

func (h Handlers) Cancel(c *gin.Context) {
	if _, ok := h.loadOwnCall(c, false, true); !ok {
		return
	}
	sess, err := h.Calls.Cancel(c.Request.Context(), c.Param("id"))
	h.respondSession(c, sess, err)
}

type endRequest struct {
	OrderNumber string `json:"orderNumber"`
}

func (h Handlers) End(c *gin.Context) {
	if _, ok := h.loadOwnCall(c, true, true); !ok {
		return
	}
	var req endRequest
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	sess, err := h.Calls.End(c.Request.Context(), c.Param("id"), req.OrderNumber)
	h.respondSession(c, sess, err)
}

type statusRequest struct {
	Status calls.Status `json:"status"`
}

func (h Handlers) UpdateStatus(c *gin.Context) {
	if _, ok := h.loadOwnCall(c, true, true); !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		badRequest(c, "valid status required")
		return
	}
	sess, err := h.Calls.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	h.respondSession(c, sess, err)
}

type recordingRequest struct {
	RecordingRef string `json:"recordingRef"`
	Size         *int64 `json:"size,omitempty"`
}

func (h Handlers) AttachRecording(c *gin.Context) {
	if _, ok := h.loadOwnCall(c, true, true); !ok {
		return
	}
	var req recordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	sess, err := h.Calls.AttachRecording(c.Request.Context(), c.Param("id"), req.RecordingRef, req.Size)
	h.respondSession(c, sess, err)
}

// parseDate accepts RFC 3339 or YYYY-MM-DD. A bare end date covers the
// whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// scopeToParty pins device tokens to their own history.
func scopeToParty(id auth.Identity, f *calls.ListFilter) {
	switch id.Role {
	case rbac.RoleScreen:
		f.CallerID = id.PartyID
	case rbac.RoleRestaurant:
		f.RestaurantID = id.PartyID
	}
}

func (h Handlers) ListCalls(c *gin.Context) {
	page, ok1 := queryInt(c, "page")
	limit, ok2 := queryInt(c, "limit")
	if !ok1 || !ok2 {
		badRequest(c, "page and limit must be integers")
		return
	}
	f := calls.ListFilter{CallerID: c.Query("screenId"), RestaurantID: c.Query("restaurantId")}
	var err error
	if v := c.Query("startDate"); v != "" {
		if f.From, err = parseDate(v, false); err != nil {
			badRequest(c, "invalid startDate")
			return
		}
	}
	if v := c.Query("endDate"); v != "" {
		if f.To, err = parseDate(v, true); err != nil {
			badRequest(c, "invalid endDate")
			return
		}
	}
	scopeToParty(auth.IdentityFrom(c.Request.Context()), &f)

	out, err := h.Calls.List(c.Request.Context(), page, limit, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

const defaultSummaryWindow = 30 * 24 * time.Hour

// CallsSummary defaults to the last 30 days.
func (h Handlers) CallsSummary(c *gin.Context) {
	r, ok := summaryRange(c)
	if !ok {
		return
	}

	f := calls.ListFilter{CallerID: c.Query("screenId"), RestaurantID: c.Query("restaurantId")}
	scopeToParty(auth.IdentityFrom(c.Request.Context()), &f)

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		RestaurantID: f.RestaurantID,
		ScreenID:     f.CallerID,
		Range:        r,
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		badRequest(c, "startDate must be before endDate")
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// summaryRange reads startDate/endDate, defaulting to the last 30 days,
// and returns the half-open report range.
func summaryRange(c *gin.Context) (reporting.TimeRange, bool) {
	to := time.Now().UTC()
	var from time.Time
	var err error
	if v := c.Query("endDate"); v != "" {
		if to, err = parseDate(v, true); err != nil {
			badRequest(c, "invalid endDate")
			return reporting.TimeRange{}, false
		}
	}
	if v := c.Query("startDate"); v != "" {
		if from, err = parseDate(v, false); err != nil {
			badRequest(c, "invalid startDate")
			return reporting.TimeRange{}, false
		}
	} else {
		from = to.Add(-defaultSummaryWindow)
	}
	return reporting.TimeRange{From: from, To: to.Add(time.Millisecond)}, true
}

// --- Restaurants ---

// AnswerMetrics reports how many of a restaurant's calls were answered and
// turned into orders.
func (h Handlers) AnswerMetrics(c *gin.Context) {
	r, ok := summaryRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.AnswerMetrics(c.Request.Context(), c.Param("id"), r)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		badRequest(c, "startDate must be before endDate")
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) Queue(c *gin.Context) {
	q, err := h.Calls.Queue(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restaurantId": c.Param("id"), "queue": q})
}

// queueParty reads :id and :screenId and checks the caller is the waiting
// screen or the restaurant.
func queueParty(c *gin.Context) (rid, sid string, ok bool) {
	rid, sid = c.Param("id"), c.Param("screenId")
	id := auth.IdentityFrom(c.Request.Context())
	if !rbac.CanActAs(id.Role, id.PartyID, rbac.RoleScreen, sid) && !rbac.CanActAs(id.Role, id.PartyID, rbac.RoleRestaurant, rid) {
		forbidden(c)
		return "", "", false
	}
	return rid, sid, true
}

func notQueued(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "screen is not queued", "code": "NOT_QUEUED"})
}

// QueuePosition lets a reconnecting kiosk recover its place in line.
func (h Handlers) QueuePosition(c *gin.Context) {
	rid, sid, ok := queueParty(c)
	if !ok {
		return
	}
	pos, queued, err := h.Calls.QueuePosition(c.Request.Context(), rid, sid)
	if err != nil {
		writeError(c, err)
		return
	}
	if !queued {
		notQueued(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restaurantId": rid, "screenId": sid, "position": pos})
}

// LeaveQueue is allowed to the waiting screen and to the restaurant.
func (h Handlers) LeaveQueue(c *gin.Context) {
	rid, sid, ok := queueParty(c)
	if !ok {
		return
	}
	removed, err := h.Calls.LeaveQueue(c.Request.Context(), rid, sid)
	if err != nil {
		writeError(c, err)
		return
	}
	if !removed {
		notQueued(c)
		return
	}
	c.Status(http.StatusNoContent)
}

type availabilityRequest struct {
	Status directory.RestaurantStatus `json:"status"`
}

func (h Handlers) SetAvailability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if err := h.Calls.SetAvailability(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restaurantId": c.Param("id"), "status": req.Status})
}

// --- Admin ---

func actorFrom(c *gin.Context) calls.Actor {
	id := auth.IdentityFrom(c.Request.Context())
	return calls.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

func (h Handlers) LockStatus(c *gin.Context) {
	st, err := h.Calls.LockStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) ForceReleaseLock(c *gin.Context) {
	if err := h.Calls.ForceReleaseLock(c.Request.Context(), c.Param("id"), actorFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restaurantId": c.Param("id"), "released": true})
}

func (h Handlers) ResetRestaurant(c *gin.Context) {
	if err := h.Calls.ResetRestaurant(c.Request.Context(), c.Param("id"), actorFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restaurantId": c.Param("id"), "reset": true})
}

func (h Handlers) AuditTrail(c *gin.Context) {
	evs, err := h.Audit.ByRestaurant(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if evs == nil {
		evs = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"restaurantId": c.Param("id"), "events": evs})
}
