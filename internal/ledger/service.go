package ledger

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bondledger/internal/audit"
	"bondledger/internal/compliance"
	"bondledger/internal/identity"
	"bondledger/internal/payment"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/platform/sentinel"
	"bondledger/pkg/requestcontext"
)

// Registry is the read-only view of the compliance registry the ledger
// consults for instrument terms and eligibility.
type Registry interface {
	Instrument(ctx context.Context, id domain.InstrumentID) (*compliance.Instrument, error)
}

// AuditPublisher captures ledger state-change events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service implements the value-moving operations on holdings. Every
// operation is serialized through the store, checks its preconditions in a
// fixed order, and emits exactly one audit event on success.
type Service struct {
	store          Store
	registry       Registry
	identity       identity.Gate
	payment        payment.Asset
	custody        domain.Address
	logger         *slog.Logger
	auditPublisher AuditPublisher
	tracer         trace.Tracer
	metrics        *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

// WithCustody overrides the forced-transfer destination. When unset, seized
// units are credited to the executing regulator.
func WithCustody(custody domain.Address) Option {
	return func(s *Service) { s.custody = custody }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, registry Registry, gate identity.Gate, asset payment.Asset, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		identity: gate,
		payment:  asset,
		logger:   slog.Default(),
		tracer:   otel.Tracer("bondledger/ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint credits newly issued units to the issuer's own balance. Issuer only.
// Identity and tradability gates apply to onward movement, not issuance.
func (s *Service) Mint(ctx context.Context, instrumentID domain.InstrumentID, units uint64) (err error) {
	ctx, end := s.begin(ctx, "Mint", instrumentID)
	defer func() { end(err) }()

	inst, err := s.instrument(ctx, instrumentID)
	if err != nil {
		return err
	}
	actor := requestcontext.Actor(ctx)
	if actor != inst.Issuer {
		return dErrors.New(dErrors.CodeUnauthorized, "only the issuer may mint")
	}
	if units == 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "mint amount must be positive")
	}

	if err := s.store.Mint(ctx, instrumentID, inst.Issuer, units); err != nil {
		return s.ledgerErr(err, "mint units")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionTokenMinted,
		InstrumentID: instrumentID,
		Actor:        actor,
		Target:       inst.Issuer,
		Amount:       units,
	})
	return nil
}

// Transfer moves units between holders. Preconditions are checked in order
// and the first failure wins: positive amount, caller authorization,
// instrument tradability, identity clearance, sufficient balance.
func (s *Service) Transfer(ctx context.Context, instrumentID domain.InstrumentID, from, to domain.Address, units uint64) (err error) {
	ctx, end := s.begin(ctx, "Transfer", instrumentID)
	defer func() { end(err) }()

	if units == 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "transfer amount must be positive")
	}
	inst, err := s.instrument(ctx, instrumentID)
	if err != nil {
		return err
	}
	actor := requestcontext.Actor(ctx)
	// The issuer is the standing delegate for distributing its own pool.
	if actor != from && !(actor == inst.Issuer && from == inst.Issuer) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller may only move its own holdings")
	}
	if err := s.checkTradable(ctx, inst); err != nil {
		return err
	}
	if err := s.checkCleared(ctx, inst, from, to); err != nil {
		return err
	}

	if err := s.store.Move(ctx, instrumentID, from, to, units, nil); err != nil {
		return s.ledgerErr(err, "move units")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionTokenTransfered,
		InstrumentID: instrumentID,
		Actor:        actor,
		Source:       from,
		Target:       to,
		Amount:       units,
	})
	return nil
}

// BuyTokens sells units from the issuer's pool to the caller, settled
// against the payment asset. The tendered value must equal units times the
// instrument's face value exactly; there is no change-making.
func (s *Service) BuyTokens(ctx context.Context, instrumentID domain.InstrumentID, units, tendered uint64) (err error) {
	ctx, end := s.begin(ctx, "BuyTokens", instrumentID)
	defer func() { end(err) }()

	if units == 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "purchase amount must be positive")
	}
	inst, err := s.instrument(ctx, instrumentID)
	if err != nil {
		return err
	}
	if err := s.checkTradable(ctx, inst); err != nil {
		return err
	}
	buyer := requestcontext.Actor(ctx)
	if err := s.checkCleared(ctx, inst, inst.Issuer, buyer); err != nil {
		return err
	}
	required := units * inst.FaceValue
	if tendered != required {
		return dErrors.Newf(dErrors.CodePaymentMismatch,
			"tendered %d, required %d", tendered, required)
	}

	err = s.store.Move(ctx, instrumentID, inst.Issuer, buyer, units, func() error {
		return s.payment.Transfer(ctx, buyer, inst.Issuer, required)
	})
	if err != nil {
		return s.ledgerErr(err, "settle purchase")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionTokensPurchased,
		InstrumentID: instrumentID,
		Actor:        buyer,
		Source:       inst.Issuer,
		Target:       buyer,
		Amount:       units,
	})
	return nil
}

// PayCoupon moves coupon value from the issuer to a holder through the
// payment asset. Unit balances do not change. The amount is trusted as
// supplied: coupon entitlement is computed by the issuer off-ledger.
func (s *Service) PayCoupon(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address, amount uint64) (err error) {
	ctx, end := s.begin(ctx, "PayCoupon", instrumentID)
	defer func() { end(err) }()

	inst, err := s.instrument(ctx, instrumentID)
	if err != nil {
		return err
	}
	actor := requestcontext.Actor(ctx)
	if actor != inst.Issuer {
		return dErrors.New(dErrors.CodeUnauthorized, "only the issuer may pay coupons")
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "coupon amount must be positive")
	}

	if err := s.payment.Transfer(ctx, inst.Issuer, holder, amount); err != nil {
		return s.ledgerErr(err, "pay coupon")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionCouponPaid,
		InstrumentID: instrumentID,
		Actor:        actor,
		Source:       inst.Issuer,
		Target:       holder,
		Amount:       amount,
	})
	return nil
}

// RequestForcedTransfer opens a regulatory request against an investor's
// holding. Regulator only. Sufficiency is deliberately not checked here;
// the balance may change before execution and is re-checked then.
func (s *Service) RequestForcedTransfer(ctx context.Context, instrumentID domain.InstrumentID, investor domain.Address, units uint64) (req *RegulatoryRequest, err error) {
	ctx, end := s.begin(ctx, "RequestForcedTransfer", instrumentID)
	defer func() { end(err) }()

	if err := requireRole(ctx, domain.RoleRegulator); err != nil {
		return nil, err
	}
	if units == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "forced transfer amount must be positive")
	}
	if _, err := s.instrument(ctx, instrumentID); err != nil {
		return nil, err
	}

	target := s.custody
	if target.IsZero() {
		target = requestcontext.Actor(ctx)
	}
	req, err = s.store.AppendRequest(ctx, &RegulatoryRequest{
		InstrumentID: instrumentID,
		Investor:     investor,
		Target:       target,
		Amount:       units,
		RequestedAt:  requestcontext.Now(ctx),
	})
	if err != nil {
		return nil, s.ledgerErr(err, "append forced transfer request")
	}

	seqID := req.SeqID
	s.emit(ctx, audit.Event{
		Action:       audit.ActionRequestForcedTransfer,
		InstrumentID: instrumentID,
		Actor:        requestcontext.Actor(ctx),
		Source:       investor,
		Target:       target,
		Amount:       units,
		SeqID:        &seqID,
	})
	return req, nil
}

// ForcedTransfer executes a pending regulatory request at most once,
// moving the units to the request's custody target. Regulator only. The
// identity gate is bypassed: seizure must not be blockable by an
// un-cleared recipient.
func (s *Service) ForcedTransfer(ctx context.Context, seqID uint64) (req *RegulatoryRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ForcedTransfer",
		trace.WithAttributes(attribute.Int64("ledger.seq_id", int64(seqID))))
	defer func() {
		s.observe("ForcedTransfer", err)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if err := requireRole(ctx, domain.RoleRegulator); err != nil {
		return nil, err
	}

	req, err = s.store.ExecuteRequest(ctx, seqID)
	if err != nil {
		return nil, s.ledgerErr(err, "execute forced transfer")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionForcedTokenTransfered,
		InstrumentID: req.InstrumentID,
		Actor:        requestcontext.Actor(ctx),
		Source:       req.Investor,
		Target:       req.Target,
		Amount:       req.Amount,
		SeqID:        &seqID,
	})
	return req, nil
}

// RedemptionBuyBack retires the holder's full balance at or after maturity
// and pays out units times face value through the payment asset. A holder
// with nothing left fails explicitly rather than succeeding as a no-op.
func (s *Service) RedemptionBuyBack(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (redeemed uint64, err error) {
	ctx, end := s.begin(ctx, "RedemptionBuyBack", instrumentID)
	defer func() { end(err) }()

	inst, err := s.instrument(ctx, instrumentID)
	if err != nil {
		return 0, err
	}
	if !inst.IsMatured(requestcontext.Now(ctx)) {
		return 0, dErrors.New(dErrors.CodeNotMatured, "instrument has not matured")
	}

	redeemed, err = s.store.Retire(ctx, instrumentID, holder, func(units uint64) error {
		return s.payment.Transfer(ctx, inst.Issuer, holder, units*inst.FaceValue)
	})
	if err != nil {
		return 0, s.ledgerErr(err, "retire units")
	}
	if redeemed == 0 {
		return 0, dErrors.New(dErrors.CodeNothingToRedeem, "holder has no units to redeem")
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionRedeemed,
		InstrumentID: instrumentID,
		Actor:        requestcontext.Actor(ctx),
		Source:       holder,
		Target:       inst.Issuer,
		Amount:       redeemed,
	})
	return redeemed, nil
}

// BalanceOf returns the holder's current unit count.
func (s *Service) BalanceOf(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error) {
	units, err := s.store.Balance(ctx, instrumentID, holder)
	if err != nil {
		return 0, s.ledgerErr(err, "query balance")
	}
	return units, nil
}

// SupplyOf returns the cumulative minted and redeemed counts.
func (s *Service) SupplyOf(ctx context.Context, instrumentID domain.InstrumentID) (Supply, error) {
	sup, err := s.store.Supply(ctx, instrumentID)
	if err != nil {
		return Supply{}, s.ledgerErr(err, "query supply")
	}
	return sup, nil
}

// Request returns a regulatory request by sequence ID.
func (s *Service) Request(ctx context.Context, seqID uint64) (*RegulatoryRequest, error) {
	req, err := s.store.FindRequest(ctx, seqID)
	if err != nil {
		return nil, s.ledgerErr(err, "find request")
	}
	return req, nil
}

// RedeemedOf returns the holder's cumulative redeemed unit count.
func (s *Service) RedeemedOf(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error) {
	units, err := s.store.Redeemed(ctx, instrumentID, holder)
	if err != nil {
		return 0, s.ledgerErr(err, "query redeemed")
	}
	return units, nil
}

func (s *Service) instrument(ctx context.Context, id domain.InstrumentID) (*compliance.Instrument, error) {
	inst, err := s.registry.Instrument(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "instrument not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load instrument")
	}
	return inst, nil
}

func (s *Service) checkTradable(ctx context.Context, inst *compliance.Instrument) error {
	if !inst.IsTransferable(requestcontext.Now(ctx)) {
		return dErrors.New(dErrors.CodeNotTradable, "instrument is not tradable")
	}
	return nil
}

// checkCleared verifies identity clearance of both parties. A gate error is
// treated the same as a negative answer. The issuer's own distribution pool
// is exempt on the sending side.
func (s *Service) checkCleared(ctx context.Context, inst *compliance.Instrument, from, to domain.Address) error {
	if from != inst.Issuer {
		if cleared, err := s.identity.IsCleared(ctx, inst.ID, from); err != nil || !cleared {
			return dErrors.Newf(dErrors.CodeIdentityNotVerified, "sender %s is not cleared", from)
		}
	}
	if cleared, err := s.identity.IsCleared(ctx, inst.ID, to); err != nil || !cleared {
		return dErrors.Newf(dErrors.CodeIdentityNotVerified, "recipient %s is not cleared", to)
	}
	return nil
}

func (s *Service) ledgerErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "request not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeAlreadyExecuted, "request already executed")
	case errors.Is(err, sentinel.ErrInsufficient):
		return dErrors.New(dErrors.CodeInsufficientBalance, "insufficient balance")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+op)
	}
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

// begin opens a span and returns a closer that records the outcome in the
// span and the operation metrics.
func (s *Service) begin(ctx context.Context, op string, instrumentID domain.InstrumentID) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "ledger."+op,
		trace.WithAttributes(attribute.Int64("ledger.instrument_id", int64(instrumentID))))
	return ctx, func(err error) {
		s.observe(op, err)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(dErrors.CodeOf(err))
	}
	s.metrics.Operations.WithLabelValues(op, status).Inc()
}

func requireRole(ctx context.Context, role domain.Role) error {
	if requestcontext.Role(ctx) != role {
		return dErrors.Newf(dErrors.CodeUnauthorized, "%s role required", role)
	}
	return nil
}
