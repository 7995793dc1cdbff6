// Package ledger owns per-holder unit balances and every value-moving
// operation on them: issuer minting, gated transfers, purchases settled
// against the payment asset, coupon payouts, the regulator's two-phase
// forced-transfer protocol, and maturity redemption.
package ledger

import (
	"time"

	"bondledger/pkg/domain"
)

// RegulatoryRequest is one entry in the append-only forced-transfer log.
// Sequence IDs are assigned by the store, start at 0, and are never reused.
// A request transitions to executed exactly once and is immutable afterwards.
type RegulatoryRequest struct {
	SeqID        uint64              `json:"seq_id"`
	InstrumentID domain.InstrumentID `json:"instrument_id"`
	Investor     domain.Address      `json:"investor"`
	Target       domain.Address      `json:"target"`
	Amount       uint64              `json:"amount"`
	Executed     bool                `json:"executed"`
	RequestedAt  time.Time           `json:"requested_at"`
	ExecutedAt   *time.Time          `json:"executed_at,omitempty"`
}

// Supply is the per-instrument issuance ledger. Conservation holds at all
// times: the sum of holder balances equals Minted minus Redeemed.
type Supply struct {
	Minted   uint64 `json:"minted"`
	Redeemed uint64 `json:"redeemed"`
}

// Outstanding is the number of units currently held across all holders.
func (s Supply) Outstanding() uint64 {
	return s.Minted - s.Redeemed
}
