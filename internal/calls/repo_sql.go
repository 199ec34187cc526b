package calls

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"callbroker/pkg/utils"
)

// SQLRepo stores sessions in call_sessions. Display names are joined from
// the directory tables on read.
type SQLRepo struct {
	db     *sql.DB
	driver string
}

func NewSQLRepo(db *sql.DB, driverName string) *SQLRepo {
	return &SQLRepo{db: db, driver: driverName}
}

func (r *SQLRepo) q(query string) string { return utils.Rebind(r.driver, query) }

const selectSession = `
SELECT cs.id, cs.caller_id, COALESCE(s.name, ''), cs.restaurant_id, COALESCE(rs.name, ''),
       cs.status, cs.initiated_by, cs.start_time, cs.end_time, cs.duration_sec,
       COALESCE(cs.order_number, ''), COALESCE(cs.recording_ref, ''), cs.recording_size
FROM call_sessions cs
LEFT JOIN screens s ON s.id = cs.caller_id
LEFT JOIN restaurants rs ON rs.id = cs.restaurant_id`

func (r *SQLRepo) Create(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (id, caller_id, restaurant_id, status, initiated_by, start_time, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	start := s.StartTime.UnixMilli()
	_, err := r.db.ExecContext(ctx, r.q(q), s.ID, s.CallerID, s.RestaurantID, string(s.Status), string(s.InitiatedBy), start, start)
	return err
}

func (r *SQLRepo) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, r.q(selectSession+` WHERE cs.id = ?`), id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrCallNotFound
	}
	return s, err
}

func (r *SQLRepo) OpenByCaller(ctx context.Context, callerID string) ([]Session, error) {
	q := selectSession + ` WHERE cs.caller_id = ? AND cs.status IN (` + utils.Placeholders(len(OpenStatuses)) + `)
ORDER BY cs.start_time DESC, cs.id DESC`
	args := []any{callerID}
	for _, st := range OpenStatuses {
		args = append(args, string(st))
	}
	rows, err := r.db.QueryContext(ctx, r.q(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (r *SQLRepo) Transition(ctx context.Context, id string, from []Status, u Update) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	q := `
UPDATE call_sessions
SET status = ?,
    end_time = COALESCE(?, end_time),
    duration_sec = COALESCE(?, duration_sec),
    order_number = COALESCE(?, order_number),
    updated_at = ?
WHERE id = ? AND status IN (` + utils.Placeholders(len(from)) + `)`

	var end, dur sql.NullInt64
	if u.EndTime != nil {
		end = sql.NullInt64{Int64: u.EndTime.UnixMilli(), Valid: true}
	}
	if u.DurationSec != nil {
		dur = sql.NullInt64{Int64: int64(*u.DurationSec), Valid: true}
	}
	order := sql.NullString{String: u.OrderNumber, Valid: u.OrderNumber != ""}
	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	args := []any{string(u.Status), end, dur, order, updated.UnixMilli(), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := r.db.ExecContext(ctx, r.q(q), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.q(`DELETE FROM call_sessions WHERE id = ?`), id)
	return err
}

func (r *SQLRepo) List(ctx context.Context, f ListFilter) ([]Session, int, error) {
	var where []string
	var args []any
	if f.CallerID != "" {
		where = append(where, "cs.caller_id = ?")
		args = append(args, f.CallerID)
	}
	if f.RestaurantID != "" {
		where = append(where, "cs.restaurant_id = ?")
		args = append(args, f.RestaurantID)
	}
	if !f.From.IsZero() {
		where = append(where, "cs.start_time >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		where = append(where, "cs.start_time <= ?")
		args = append(args, f.To.UnixMilli())
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM call_sessions cs`+cond), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	pageArgs := append(append([]any{}, args...), limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, r.q(selectSession+cond+` ORDER BY cs.start_time DESC, cs.id DESC LIMIT ? OFFSET ?`), pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := scanSessions(rows)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []Session{}
	}
	return items, total, nil
}

func (r *SQLRepo) SetRecording(ctx context.Context, id, ref string, size *int64) (bool, error) {
	var sz sql.NullInt64
	if size != nil {
		sz = sql.NullInt64{Int64: *size, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, r.q(`
UPDATE call_sessions SET recording_ref = ?, recording_size = ?, updated_at = ?
WHERE id = ? AND (recording_ref IS NULL OR recording_ref = '')`), ref, sz, time.Now().UnixMilli(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var start int64
	var end, dur, size sql.NullInt64
	if err := row.Scan(&s.ID, &s.CallerID, &s.CallerName, &s.RestaurantID, &s.RestaurantName,
		&s.Status, &s.InitiatedBy, &start, &end, &dur,
		&s.OrderNumber, &s.RecordingRef, &size); err != nil {
		return Session{}, err
	}
	s.StartTime = time.UnixMilli(start).UTC()
	if end.Valid {
		t := time.UnixMilli(end.Int64).UTC()
		s.EndTime = &t
	}
	if dur.Valid {
		d := int(dur.Int64)
		s.DurationSec = &d
	}
	if size.Valid {
		n := size.Int64
		s.RecordingSize = &n
	}
	return s, nil
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
