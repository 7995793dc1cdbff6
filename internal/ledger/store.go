package ledger

import (
	"context"

	"bondledger/pkg/domain"
)

// Store is the sole synchronization boundary for balances, the regulatory
// request log, and redemption records. Every compound mutation runs under
// the store's lock (or a database transaction) so no operation observes
// another in a partially-applied state.
//
// The settle and payout callbacks run inside the critical section, before
// any balance is mutated. If a callback fails the operation aborts with no
// state change, which is how external settlement stays atomic with the
// bookkeeping without a rollback path.
//
// Stores return sentinel errors; services translate them to coded errors.
type Store interface {
	// Balance returns the holder's unit count, zero for unknown holders.
	Balance(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error)

	// Supply returns the cumulative minted and redeemed counts.
	Supply(ctx context.Context, instrumentID domain.InstrumentID) (Supply, error)

	// Mint credits units to the recipient and grows minted supply.
	Mint(ctx context.Context, instrumentID domain.InstrumentID, to domain.Address, units uint64) error

	// Move debits from and credits to, all or nothing. When settle is
	// non-nil it runs after the sufficiency check and before any mutation;
	// a settle error aborts the move. Returns sentinel.ErrInsufficient when
	// from holds fewer than units.
	Move(ctx context.Context, instrumentID domain.InstrumentID, from, to domain.Address, units uint64, settle func() error) error

	// Retire zeroes the holder's balance, grows the cumulative redemption
	// record and redeemed supply, and returns the number of units retired.
	// payout receives that count and runs before any mutation; a payout
	// error aborts the retirement. A zero balance returns (0, nil) without
	// invoking payout.
	Retire(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address, payout func(units uint64) error) (uint64, error)

	// AppendRequest assigns the next sequence ID and persists the request.
	AppendRequest(ctx context.Context, req *RegulatoryRequest) (*RegulatoryRequest, error)

	// FindRequest returns the request by sequence ID, or sentinel.ErrNotFound.
	FindRequest(ctx context.Context, seqID uint64) (*RegulatoryRequest, error)

	// ExecuteRequest atomically moves the requested amount from the
	// investor to the request's target and marks the request executed.
	// Returns sentinel.ErrNotFound for an unknown sequence ID,
	// sentinel.ErrAlreadyUsed if the request has already executed, and
	// sentinel.ErrInsufficient if the investor's current balance is below
	// the requested amount.
	ExecuteRequest(ctx context.Context, seqID uint64) (*RegulatoryRequest, error)

	// Redeemed returns the holder's cumulative redeemed unit count.
	Redeemed(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error)
}
