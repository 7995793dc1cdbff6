package compliance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bondledger/internal/audit"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/platform/sentinel"
	"bondledger/pkg/requestcontext"
)

// AuditPublisher captures registry lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the instrument approval lifecycle. The registrar
// manages terms, the regulator grants approval, and the ledger consults the
// resulting state read-only.
type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenData carries the registrar-managed issuance terms.
type TokenData struct {
	Issuer        domain.Address
	FaceValue     uint64
	CouponRateBps uint64
	Class         string
	OtherTerms    string
	IssuerLabel   string
	Mode          string
}

// SetTokenData creates or updates an instrument record. Terms freeze
// permanently once the regulator approves.
func (s *Service) SetTokenData(ctx context.Context, id domain.InstrumentID, data TokenData) (*Instrument, error) {
	if err := requireRole(ctx, domain.RoleRegistrar); err != nil {
		return nil, err
	}
	if data.Issuer.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuer address is required")
	}

	now := requestcontext.Now(ctx)
	inst := &Instrument{
		ID:            id,
		Issuer:        data.Issuer,
		FaceValue:     data.FaceValue,
		CouponRateBps: data.CouponRateBps,
		Class:         data.Class,
		OtherTerms:    data.OtherTerms,
		IssuerLabel:   data.IssuerLabel,
		Mode:          data.Mode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.Save(ctx, inst, func(existing *Instrument) error {
		if existing == nil {
			return nil
		}
		if err := existing.CanAmend(); err != nil {
			return err
		}
		// Updates keep the lifecycle state and trading window already on file.
		inst.TradingStart = existing.TradingStart
		inst.Maturity = existing.Maturity
		inst.DataComplete = existing.DataComplete
		inst.CreatedAt = existing.CreatedAt
		return nil
	})
	if err != nil {
		return nil, wrapRegistryErr(err, "save instrument")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionInstrumentRegistered,
		InstrumentID: id,
		Actor:        requestcontext.Actor(ctx),
		Target:       data.Issuer,
	})
	return inst, nil
}

// SetDates sets the trading-start and maturity timestamps.
func (s *Service) SetDates(ctx context.Context, id domain.InstrumentID, tradingStart, maturity time.Time) (*Instrument, error) {
	if err := requireRole(ctx, domain.RoleRegistrar); err != nil {
		return nil, err
	}
	if tradingStart.IsZero() || maturity.IsZero() || !maturity.After(tradingStart) {
		return nil, dErrors.New(dErrors.CodeInvalidRange, "maturity must be after trading start")
	}

	now := requestcontext.Now(ctx)
	inst, err := s.store.Execute(ctx, id,
		func(i *Instrument) error { return i.CanAmend() },
		func(i *Instrument) {
			i.TradingStart = tradingStart
			i.Maturity = maturity
			i.UpdatedAt = now
		})
	if err != nil {
		return nil, wrapRegistryErr(err, "set instrument dates")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionInstrumentDatesSet,
		InstrumentID: id,
		Actor:        requestcontext.Actor(ctx),
	})
	return inst, nil
}

// SetDataComplete marks the record ready for regulatory approval.
func (s *Service) SetDataComplete(ctx context.Context, id domain.InstrumentID) (*Instrument, error) {
	if err := requireRole(ctx, domain.RoleRegistrar); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	inst, err := s.store.Execute(ctx, id,
		func(i *Instrument) error {
			if err := i.CanAmend(); err != nil {
				return err
			}
			return i.CanComplete()
		},
		func(i *Instrument) {
			i.DataComplete = true
			i.UpdatedAt = now
		})
	if err != nil {
		return nil, wrapRegistryErr(err, "mark instrument data complete")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionDataCompleted,
		InstrumentID: id,
		Actor:        requestcontext.Actor(ctx),
	})
	return inst, nil
}

// SetRegulatoryApproval approves the instrument and permanently freezes its
// terms. Regulator only.
func (s *Service) SetRegulatoryApproval(ctx context.Context, id domain.InstrumentID) (*Instrument, error) {
	if err := requireRole(ctx, domain.RoleRegulator); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	inst, err := s.store.Execute(ctx, id,
		func(i *Instrument) error { return i.CanApprove() },
		func(i *Instrument) {
			i.Approved = true
			i.UpdatedAt = now
		})
	if err != nil {
		return nil, wrapRegistryErr(err, "approve instrument")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionRegulatoryApproval,
		InstrumentID: id,
		Actor:        requestcontext.Actor(ctx),
	})
	return inst, nil
}

// Instrument returns the record by value.
func (s *Service) Instrument(ctx context.Context, id domain.InstrumentID) (*Instrument, error) {
	inst, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, wrapRegistryErr(err, "load instrument")
	}
	return inst, nil
}

// IsTransferable is a pure function of stored state and the given time.
func (s *Service) IsTransferable(ctx context.Context, id domain.InstrumentID, at time.Time) (bool, error) {
	inst, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, wrapRegistryErr(err, "load instrument")
	}
	return inst.IsTransferable(at), nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed",
			"action", string(event.Action),
			"instrument_id", event.InstrumentID.String(),
			"error", err,
		)
	}
}

func requireRole(ctx context.Context, role domain.Role) error {
	if requestcontext.Role(ctx) != role {
		return dErrors.Newf(dErrors.CodeUnauthorized, "%s role required", role)
	}
	return nil
}

func wrapRegistryErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "instrument not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+op)
	}
}
