package audit

import (
	"context"

	"bondledger/pkg/domain"
)

// Store is the durable, append-only event sink. Events are never updated or
// deleted; they are the system's audit trail.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByInstrument(ctx context.Context, instrumentID domain.InstrumentID) ([]Event, error)
}
