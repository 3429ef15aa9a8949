package audit

import "context"

// Store is the append-only audit sink.
type Store interface {
	Append(ctx context.Context, event Event) error
}
