package identity

import (
	"context"
	"sync"

	"bondledger/pkg/domain"
)

// Provider is the reference in-memory verification record keeper. Clearance
// is per participant, not per instrument: completing verification clears the
// participant for every instrument until revoked.
type Provider struct {
	mu      sync.RWMutex
	cleared map[domain.Address]Tier
}

func NewProvider() *Provider {
	return &Provider{cleared: make(map[domain.Address]Tier)}
}

// SetCompleted records a finished verification at the given tier.
func (p *Provider) SetCompleted(participant domain.Address, tier Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared[participant] = tier
}

// Revoke removes a participant's clearance.
func (p *Provider) Revoke(participant domain.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cleared, participant)
}

// IsCleared implements Gate.
func (p *Provider) IsCleared(_ context.Context, _ domain.InstrumentID, participant domain.Address) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.cleared[participant]
	return ok, nil
}

// TierOf reports the recorded tier for a cleared participant.
func (p *Provider) TierOf(participant domain.Address) (Tier, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tier, ok := p.cleared[participant]
	return tier, ok
}
