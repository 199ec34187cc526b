package calls

import "context"

// Repository is the session store. Only Service writes to it.
type Repository interface {
	Create(ctx context.Context, s Session) error
	// Get returns ErrCallNotFound for unknown ids.
	Get(ctx context.Context, id string) (Session, error)
	// OpenByCaller returns the caller's non-terminal sessions, newest first.
	OpenByCaller(ctx context.Context, callerID string) ([]Session, error)
	// Transition applies u only if the session is currently in one of from.
	// It reports whether the row changed.
	Transition(ctx context.Context, id string, from []Status, u Update) (bool, error)
	// Delete removes a session. Used only to undo a create whose lock
	// acquisition failed.
	Delete(ctx context.Context, id string) error
	// List returns one page, newest first, and the total match count.
	List(ctx context.Context, f ListFilter) ([]Session, int, error)
	// SetRecording stores ref if no recording is attached yet and reports
	// whether it did.
	SetRecording(ctx context.Context, id, ref string, size *int64) (bool, error)
}
