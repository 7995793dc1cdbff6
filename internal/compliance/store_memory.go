package compliance

import (
	"context"
	"sync"

	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu          sync.RWMutex
	instruments map[domain.InstrumentID]*Instrument
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{instruments: make(map[domain.InstrumentID]*Instrument)}
}

func (s *InMemoryStore) Save(_ context.Context, inst *Instrument, guard func(existing *Instrument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.instruments[inst.ID]
	if guard != nil {
		var snapshot *Instrument
		if existing != nil {
			c := *existing
			snapshot = &c
		}
		if err := guard(snapshot); err != nil {
			return err
		}
	}
	c := *inst
	s.instruments[inst.ID] = &c
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.InstrumentID) (*Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instruments[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *inst
	return &c, nil
}

func (s *InMemoryStore) Execute(_ context.Context, id domain.InstrumentID,
	validate func(*Instrument) error, mutate func(*Instrument)) (*Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instruments[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(inst); err != nil {
		return nil, err
	}
	mutate(inst)
	c := *inst
	return &c, nil
}
