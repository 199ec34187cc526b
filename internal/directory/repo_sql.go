package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbroker/pkg/utils"
)

// SQLRepo reads the directory tables through database/sql.
type SQLRepo struct {
	db     *sql.DB
	driver string
	clock  func() time.Time
}

func NewSQLRepo(db *sql.DB, driverName string) *SQLRepo {
	return &SQLRepo{db: db, driver: driverName, clock: time.Now}
}

func (r *SQLRepo) q(query string) string { return utils.Rebind(r.driver, query) }

func (r *SQLRepo) Restaurant(ctx context.Context, id string) (Restaurant, error) {
	var out Restaurant
	err := r.db.QueryRowContext(ctx, r.q(`SELECT id, name, status FROM restaurants WHERE id = ?`), id).
		Scan(&out.ID, &out.Name, &out.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Restaurant{}, ErrNotFound
	}
	return out, err
}

func (r *SQLRepo) Screen(ctx context.Context, id string) (Screen, error) {
	var out Screen
	err := r.db.QueryRowContext(ctx, r.q(`SELECT id, name, location FROM screens WHERE id = ?`), id).
		Scan(&out.ID, &out.Name, &out.Location)
	if errors.Is(err, sql.ErrNoRows) {
		return Screen{}, ErrNotFound
	}
	return out, err
}

// AssignedScreens lists the screens configured to call restaurantID.
func (r *SQLRepo) AssignedScreens(ctx context.Context, restaurantID string) ([]Screen, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
SELECT s.id, s.name, s.location
FROM screens s
JOIN screen_restaurants sr ON sr.screen_id = s.id
WHERE sr.restaurant_id = ?
ORDER BY s.id`), restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScreens(rows)
}

// ScreenRestaurants lists the restaurants screenID may call.
func (r *SQLRepo) ScreenRestaurants(ctx context.Context, screenID string) ([]Restaurant, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
SELECT rs.id, rs.name, rs.status
FROM restaurants rs
JOIN screen_restaurants sr ON sr.restaurant_id = rs.id
WHERE sr.screen_id = ?
ORDER BY rs.id`), screenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRestaurants(rows)
}

func (r *SQLRepo) ListRestaurants(ctx context.Context) ([]Restaurant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, status FROM restaurants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRestaurants(rows)
}

func (r *SQLRepo) ListScreens(ctx context.Context) ([]Screen, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, location FROM screens ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScreens(rows)
}

func (r *SQLRepo) SetRestaurantStatus(ctx context.Context, id string, status RestaurantStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE restaurants SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), r.clock().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutRestaurant upserts a restaurant. Used for seeding local databases.
func (r *SQLRepo) PutRestaurant(ctx context.Context, rest Restaurant) error {
	if rest.Status == "" {
		rest.Status = StatusAvailable
	}
	_, err := r.db.ExecContext(ctx, r.q(`
INSERT INTO restaurants (id, name, status, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, status = excluded.status, updated_at = excluded.updated_at`),
		rest.ID, rest.Name, string(rest.Status), r.clock().UnixMilli())
	return err
}

// PutScreen upserts a screen and its restaurant assignments.
func (r *SQLRepo) PutScreen(ctx context.Context, s Screen, restaurantIDs ...string) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q(`
INSERT INTO screens (id, name, location) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, location = excluded.location`),
			s.ID, s.Name, s.Location); err != nil {
			return err
		}
		for _, rid := range restaurantIDs {
			if _, err := tx.ExecContext(ctx, r.q(`
INSERT INTO screen_restaurants (screen_id, restaurant_id) VALUES (?, ?)
ON CONFLICT (screen_id, restaurant_id) DO NOTHING`), s.ID, rid); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanScreens(rows *sql.Rows) ([]Screen, error) {
	var out []Screen
	for rows.Next() {
		var s Screen
		if err := rows.Scan(&s.ID, &s.Name, &s.Location); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanRestaurants(rows *sql.Rows) ([]Restaurant, error) {
	var out []Restaurant
	for rows.Next() {
		var r Restaurant
		if err := rows.Scan(&r.ID, &r.Name, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
