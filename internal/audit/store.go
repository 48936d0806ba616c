package audit

import "context"

// Store persists audit events. Append-only by contract; implementations never
// rewrite history.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]Event, error)
}
