// Package domain holds the small shared types every layer speaks:
// participant addresses, instrument identifiers, and roles. Keeping them
// here avoids import cycles between the ledger, registry, and transport
// packages.
package domain

import (
	"strconv"
	"strings"

	dErrors "bondledger/pkg/domain-errors"
)

// Address identifies a participant (issuer, holder, regulator, registrar).
// Addresses are opaque case-sensitive strings assigned by the identity
// provider; the ledger never interprets them.
type Address string

// ParseAddress validates an address at trust boundaries.
func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must not be empty")
	}
	return Address(raw), nil
}

func (a Address) String() string { return string(a) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == "" }

// InstrumentID identifies one issued bond series.
type InstrumentID int64

// ParseInstrumentID validates an instrument ID from an external source
// (URL segment, request body). IDs are positive integers.
func ParseInstrumentID(raw string) (InstrumentID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "instrument id must be a positive integer")
	}
	return InstrumentID(n), nil
}

func (id InstrumentID) String() string { return strconv.FormatInt(int64(id), 10) }

// Role names an authorization level carried in access tokens.
//
// Participants without an explicit role still authenticate; they are
// addressed by the token subject and may only move their own holdings.
type Role string

const (
	RoleRegistrar   Role = "registrar"
	RoleRegulator   Role = "regulator"
	RoleParticipant Role = "participant"
)

// Valid reports whether the role is one the system understands.
func (r Role) Valid() bool {
	switch r {
	case RoleRegistrar, RoleRegulator, RoleParticipant:
		return true
	}
	return false
}
