package ledger

import (
	"context"
	"sync"

	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
	"bondledger/pkg/requestcontext"
)

type holdingKey struct {
	instrumentID domain.InstrumentID
	holder       domain.Address
}

// InMemoryStore keeps the full ledger state behind a single mutex.
// Compound operations (move, retire, execute) hold the lock for their whole
// duration, including the settlement callback, so callers get the same
// serialized all-or-nothing semantics as the Postgres store.
type InMemoryStore struct {
	mu       sync.Mutex
	holdings map[holdingKey]uint64
	supply   map[domain.InstrumentID]Supply
	requests []RegulatoryRequest
	redeemed map[holdingKey]uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		holdings: make(map[holdingKey]uint64),
		supply:   make(map[domain.InstrumentID]Supply),
		redeemed: make(map[holdingKey]uint64),
	}
}

func (s *InMemoryStore) Balance(_ context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdings[holdingKey{instrumentID, holder}], nil
}

func (s *InMemoryStore) Supply(_ context.Context, instrumentID domain.InstrumentID) (Supply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supply[instrumentID], nil
}

func (s *InMemoryStore) Mint(_ context.Context, instrumentID domain.InstrumentID, to domain.Address, units uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.holdings[holdingKey{instrumentID, to}] += units
	sup := s.supply[instrumentID]
	sup.Minted += units
	s.supply[instrumentID] = sup
	return nil
}

func (s *InMemoryStore) Move(_ context.Context, instrumentID domain.InstrumentID, from, to domain.Address, units uint64, settle func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromKey := holdingKey{instrumentID, from}
	if s.holdings[fromKey] < units {
		return sentinel.ErrInsufficient
	}
	if settle != nil {
		if err := settle(); err != nil {
			return err
		}
	}
	s.holdings[fromKey] -= units
	s.holdings[holdingKey{instrumentID, to}] += units
	return nil
}

func (s *InMemoryStore) Retire(_ context.Context, instrumentID domain.InstrumentID, holder domain.Address, payout func(units uint64) error) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey{instrumentID, holder}
	units := s.holdings[key]
	if units == 0 {
		return 0, nil
	}
	if payout != nil {
		if err := payout(units); err != nil {
			return 0, err
		}
	}
	s.holdings[key] = 0
	s.redeemed[key] += units
	sup := s.supply[instrumentID]
	sup.Redeemed += units
	s.supply[instrumentID] = sup
	return units, nil
}

func (s *InMemoryStore) AppendRequest(_ context.Context, req *RegulatoryRequest) (*RegulatoryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *req
	stored.SeqID = uint64(len(s.requests))
	stored.Executed = false
	stored.ExecutedAt = nil
	s.requests = append(s.requests, stored)

	out := stored
	return &out, nil
}

func (s *InMemoryStore) FindRequest(_ context.Context, seqID uint64) (*RegulatoryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seqID >= uint64(len(s.requests)) {
		return nil, sentinel.ErrNotFound
	}
	out := s.requests[seqID]
	return &out, nil
}

func (s *InMemoryStore) ExecuteRequest(ctx context.Context, seqID uint64) (*RegulatoryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seqID >= uint64(len(s.requests)) {
		return nil, sentinel.ErrNotFound
	}
	req := &s.requests[seqID]
	if req.Executed {
		return nil, sentinel.ErrAlreadyUsed
	}

	investorKey := holdingKey{req.InstrumentID, req.Investor}
	if s.holdings[investorKey] < req.Amount {
		return nil, sentinel.ErrInsufficient
	}

	s.holdings[investorKey] -= req.Amount
	s.holdings[holdingKey{req.InstrumentID, req.Target}] += req.Amount

	executedAt := requestcontext.Now(ctx)
	req.Executed = true
	req.ExecutedAt = &executedAt

	out := *req
	return &out, nil
}

func (s *InMemoryStore) Redeemed(_ context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redeemed[holdingKey{instrumentID, holder}], nil
}
