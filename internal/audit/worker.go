package audit

import (
	"context"
	"log/slog"
	"time"
)

// Worker consumes audit events from a channel and persists them. It keeps
// background processing testable without wiring queue implementations into
// the domain services.
type Worker struct {
	store Store
	inbox <-chan Event
}

func NewWorker(store Store, inbox <-chan Event) *Worker {
	return &Worker{store: store, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}

// AsyncStore decouples audit writes from the request path. Append enqueues;
// a Worker drains the inbox into the wrapped store. Reads go straight to the
// wrapped store, so listings are eventually consistent with the inbox.
type AsyncStore struct {
	store  Store
	inbox  chan Event
	worker *Worker
	logger *slog.Logger
}

func NewAsyncStore(store Store, buffer int, logger *slog.Logger) *AsyncStore {
	inbox := make(chan Event, buffer)
	return &AsyncStore{
		store:  store,
		inbox:  inbox,
		worker: NewWorker(store, inbox),
		logger: logger,
	}
}

func (s *AsyncStore) Append(ctx context.Context, event Event) error {
	select {
	case s.inbox <- event:
		return nil
	default:
		// Full inbox falls back to a synchronous write rather than dropping
		// the event.
		return s.store.Append(ctx, event)
	}
}

func (s *AsyncStore) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Event, error) {
	return s.store.ListByResource(ctx, resourceType, resourceID)
}

// Run drives the worker until ctx is cancelled, restarting it after store
// failures so one bad write does not stop the drain.
func (s *AsyncStore) Run(ctx context.Context) {
	for {
		err := s.worker.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("audit worker failed", "error", err)
		time.Sleep(time.Second)
	}
}
