package payment

import (
	"context"
	"fmt"
	"sync"

	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
)

// StableCoin is the reference in-memory settlement asset: a plain balance
// table denominated in minor units. Development and tests run against it;
// production wires a real payment rail behind the same interface.
type StableCoin struct {
	mu       sync.Mutex
	balances map[domain.Address]uint64
	symbol   string
}

func NewStableCoin(symbol string) *StableCoin {
	return &StableCoin{balances: make(map[domain.Address]uint64), symbol: symbol}
}

// Issue credits value out of thin air. Test and bootstrap helper.
func (s *StableCoin) Issue(participant domain.Address, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[participant] += amount
}

// Transfer implements Asset. All-or-nothing under the lock.
func (s *StableCoin) Transfer(_ context.Context, from, to domain.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[from] < amount {
		return fmt.Errorf("%s balance of %s below %d: %w", s.symbol, from, amount, sentinel.ErrInsufficient)
	}
	s.balances[from] -= amount
	s.balances[to] += amount
	return nil
}

// BalanceOf implements Asset.
func (s *StableCoin) BalanceOf(_ context.Context, participant domain.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[participant], nil
}
