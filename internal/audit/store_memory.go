package audit

import (
	"context"
	"sync"

	"bondledger/pkg/domain"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.InstrumentID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[domain.InstrumentID][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.InstrumentID] = append(s.events[event.InstrumentID], event)
	return nil
}

func (s *InMemoryStore) ListByInstrument(_ context.Context, instrumentID domain.InstrumentID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[instrumentID]...), nil
}

// ListAll returns every recorded event in append order per instrument.
// Test helper; production consumers read by instrument.
func (s *InMemoryStore) ListAll(_ context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Event
	for _, events := range s.events {
		all = append(all, events...)
	}
	return all, nil
}
