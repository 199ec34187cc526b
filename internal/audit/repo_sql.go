package audit

import (
	"context"
	"database/sql"
	"time"

	"callbroker/pkg/utils"
)

// SQLRepo appends to the audit_events table. It never updates or deletes.
type SQLRepo struct {
	db     *sql.DB
	driver string
}

func NewSQLRepo(db *sql.DB, driverName string) *SQLRepo {
	return &SQLRepo{db: db, driver: driverName}
}

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, restaurant_id, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, utils.Rebind(r.driver, q),
		e.ID, string(e.Type), e.RestaurantID, e.ActorUserID, e.ActorRole, e.IPAddress, e.CallID, e.Message, e.Metadata,
		e.CreatedAt.UnixMilli(),
	)
	return err
}

// ByRestaurant returns the events of one restaurant, oldest first.
func (r *SQLRepo) ByRestaurant(ctx context.Context, restaurantID string) ([]Event, error) {
	const q = `
SELECT id, type, restaurant_id, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at
FROM audit_events
WHERE restaurant_id = ?
ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, utils.Rebind(r.driver, q), restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.Type, &e.RestaurantID, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.CallID, &e.Message, &e.Metadata, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
