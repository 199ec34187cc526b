package reporting

import (
	"context"
	"time"

	"callbroker/internal/calls"
)

// sessionLister is the read side of the call session store.
type sessionLister interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.Session, int, error)
}

// CallsRepo reads sessions straight from the session store, one page at a
// time.
type CallsRepo struct {
	src      sessionLister
	pageSize int
}

func NewCallsRepo(src sessionLister) *CallsRepo { return &CallsRepo{src: src, pageSize: 500} }

func (r *CallsRepo) ListSessions(ctx context.Context, restaurantID, screenID string, from, to time.Time) ([]calls.Session, error) {
	f := calls.ListFilter{
		RestaurantID: restaurantID,
		CallerID:     screenID,
		From:         from,
		// The store filter is inclusive; the report range is not.
		To:    to.Add(-time.Millisecond),
		Limit: r.pageSize,
	}
	var out []calls.Session
	for {
		page, total, err := r.src.List(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		f.Offset += len(page)
		if len(page) == 0 || f.Offset >= total {
			return out, nil
		}
	}
}
