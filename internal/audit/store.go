package audit

import "context"

// Store persists audit events. Postgres backs production; the in-memory store
// serves tests and single-process dev runs. List methods return an empty
// slice when nothing matches.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID string) ([]Event, error)
	ListByPackage(ctx context.Context, packageID string) ([]Event, error)
}
