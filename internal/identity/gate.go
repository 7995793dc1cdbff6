// Package identity is the ledger's view of the external
// identity-verification provider. The ledger consults it, never owns it: a
// participant is either cleared to hold units of an instrument or not, and
// any provider error is treated as "not cleared" by callers.
package identity

import (
	"context"

	"bondledger/pkg/domain"
)

// Tier is the verification level recorded by the provider. The ledger only
// needs cleared/not-cleared; tiers exist so issuance policies can later
// distinguish retail from qualified investors.
type Tier int

const (
	TierBasic Tier = iota
	TierQualified
	TierInstitutional
)

// Gate answers whether a participant is cleared to hold units of an
// instrument.
type Gate interface {
	IsCleared(ctx context.Context, instrumentID domain.InstrumentID, participant domain.Address) (bool, error)
}
