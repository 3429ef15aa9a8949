package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from a channel and persists them. Store errors
// are logged and the loop continues; a failing sink must not stall consent
// operations.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

// NewWorker builds a worker draining inbox into store.
func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run drains the inbox until ctx is cancelled, then flushes whatever is
// already buffered before returning.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.append(event)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case event := <-w.inbox:
			w.append(event)
		default:
			return
		}
	}
}

func (w *Worker) append(event Event) {
	// Fresh context: the run context is already cancelled during drain.
	if err := w.store.Append(context.Background(), event); err != nil {
		w.logger.Error("audit append failed",
			"consent_id", event.ConsentID,
			"action", event.Action,
			"error", err,
		)
	}
}
