package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bondledger/pkg/requestcontext"
)

// Sink receives events after they are durably stored. Delivery is
// best-effort: the store is the audit trail, the sink feeds downstream
// consumers.
type Sink interface {
	Produce(ctx context.Context, event Event) error
	Close()
}

// Publisher captures structured audit events. The store append is part of
// the emitting operation's success path; sink fan-out failures are logged
// and never propagated.
type Publisher struct {
	store  Store
	sink   Sink
	logger *slog.Logger
}

type PublisherOption func(*Publisher)

func WithSink(sink Sink) PublisherOption {
	return func(p *Publisher) { p.sink = sink }
}

func NewPublisher(store Store, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records one event. ID, timestamp, and request ID are filled from
// context when unset so call sites stay small.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		return err
	}

	if p.sink != nil {
		// Bounded so a slow broker cannot stall the emitting operation.
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.sink.Produce(sinkCtx, event); err != nil {
			p.logger.WarnContext(ctx, "event sink produce failed",
				"action", string(event.Action),
				"event_id", event.ID.String(),
				"error", err,
			)
		}
	}
	return nil
}
