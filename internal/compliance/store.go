package compliance

import (
	"context"

	"bondledger/pkg/domain"
)

// Store persists instrument records. Implementations return sentinel errors;
// the service translates them into coded domain errors.
//
// Reads return copies: no caller ever holds a reference into store state.
type Store interface {
	// Save creates or replaces the record. The guard runs with the existing
	// record (nil when absent) under the store's lock so the immutability
	// check and the write are one atomic step.
	Save(ctx context.Context, inst *Instrument, guard func(existing *Instrument) error) error

	FindByID(ctx context.Context, id domain.InstrumentID) (*Instrument, error)

	// Execute atomically runs validate then mutate against the stored record,
	// holding the store's lock (mutex or FOR UPDATE) across both.
	Execute(ctx context.Context, id domain.InstrumentID,
		validate func(*Instrument) error,
		mutate func(*Instrument)) (*Instrument, error)
}
