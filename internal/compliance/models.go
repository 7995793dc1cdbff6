// Package compliance owns instrument records and their two-stage approval
// lifecycle: the registrar fills in terms, marks them data-complete, and the
// regulator approves. Approval freezes the terms permanently; from then on
// only the time-derived trading and maturity state changes.
package compliance

import (
	"time"

	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Instrument is one issued bond series.
//
// Invariants:
//   - Issuer and FaceValue are required before data-complete
//   - Maturity is strictly after TradingStart
//   - Approved implies DataComplete
//   - Terms are immutable once Approved
type Instrument struct {
	ID            domain.InstrumentID `json:"id"`
	Issuer        domain.Address      `json:"issuer"`
	FaceValue     uint64              `json:"face_value"`
	CouponRateBps uint64              `json:"coupon_rate_bps"`
	Class         string              `json:"class"`
	OtherTerms    string              `json:"other_terms"`
	IssuerLabel   string              `json:"issuer_label"`
	Mode          string              `json:"mode"`
	TradingStart  time.Time           `json:"trading_start"`
	Maturity      time.Time           `json:"maturity"`
	DataComplete  bool                `json:"data_complete"`
	Approved      bool                `json:"approved"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// CanAmend checks the immutability rule: once the regulator approves, terms
// are frozen.
func (i *Instrument) CanAmend() error {
	if i.Approved {
		return dErrors.New(dErrors.CodeInvalidState, "instrument is approved; terms are frozen")
	}
	return nil
}

// CanComplete checks that the required fields are set before the record can
// be marked data-complete.
func (i *Instrument) CanComplete() error {
	switch {
	case i.Issuer.IsZero():
		return dErrors.New(dErrors.CodeIncompleteData, "issuer is not set")
	case i.FaceValue == 0:
		return dErrors.New(dErrors.CodeIncompleteData, "face value is not set")
	case i.TradingStart.IsZero() || i.Maturity.IsZero():
		return dErrors.New(dErrors.CodeIncompleteData, "trading window is not set")
	}
	return nil
}

// CanApprove checks that the registrar has signed off before the regulator
// approves.
func (i *Instrument) CanApprove() error {
	if !i.DataComplete {
		return dErrors.New(dErrors.CodePreconditionFailed, "instrument data is not complete")
	}
	return nil
}

// IsTransferable reports whether ordinary transfers are allowed at the given
// time: data-complete, approved, and inside the trading window. Maturity
// itself routes to the redemption path, not ordinary transfer.
func (i *Instrument) IsTransferable(at time.Time) bool {
	return i.DataComplete &&
		i.Approved &&
		!i.TradingStart.IsZero() &&
		!at.Before(i.TradingStart) &&
		at.Before(i.Maturity)
}

// IsMatured reports whether the redemption path is open at the given time.
func (i *Instrument) IsMatured(at time.Time) bool {
	return !i.Maturity.IsZero() && !at.Before(i.Maturity)
}
