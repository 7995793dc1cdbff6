// Package payment is the ledger's view of the settlement asset: the
// fungible value used to pay for purchases, coupons, and redemption
// payouts. The ledger treats it as an opaque send-value capability and
// fails the enclosing operation on any transfer error.
package payment

import (
	"context"

	"bondledger/pkg/domain"
)

// Asset moves settlement value between participants.
type Asset interface {
	Transfer(ctx context.Context, from, to domain.Address, amount uint64) error
	BalanceOf(ctx context.Context, participant domain.Address) (uint64, error)
}
