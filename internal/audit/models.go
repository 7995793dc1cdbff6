package audit

import (
	"time"

	"github.com/google/uuid"

	"bondledger/pkg/domain"
)

// Event is the append-only audit record emitted by every state-changing
// ledger and registry operation. It carries enough fields to reconstruct the
// resulting state: instrument, participants, amount, and for forced
// transfers the protocol sequence ID.
type Event struct {
	ID           uuid.UUID
	Action       Action
	Timestamp    time.Time
	InstrumentID domain.InstrumentID
	// Actor is the authenticated caller; Source and Target are the accounts
	// whose balances moved (either may be empty for non-movement events).
	Actor  domain.Address
	Source domain.Address
	Target domain.Address
	Amount uint64
	// SeqID is set only for the forced-transfer protocol events.
	SeqID *uint64
	// RequestID correlates the event with the HTTP request that caused it.
	RequestID string
}

// Action names a state change. The vocabulary is fixed; consumers key
// retention and alerting off it.
type Action string

const (
	ActionTokenMinted           Action = "TokenMinted"
	ActionTokenTransfered       Action = "TokenTransfered"
	ActionTokensPurchased       Action = "TokensPurchased"
	ActionCouponPaid            Action = "CouponPaid"
	ActionRequestForcedTransfer Action = "RequestForcedTransfer"
	ActionForcedTokenTransfered Action = "ForcedTokenTransfered"
	ActionRedeemed              Action = "Redeemed"

	ActionInstrumentRegistered Action = "InstrumentRegistered"
	ActionInstrumentDatesSet   Action = "InstrumentDatesSet"
	ActionDataCompleted        Action = "DataCompleted"
	ActionRegulatoryApproval   Action = "RegulatoryApproval"
)
