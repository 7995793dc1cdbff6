package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bondledger/internal/audit"
	"bondledger/internal/compliance"
	"bondledger/internal/identity"
	"bondledger/internal/payment"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/requestcontext"
)

const (
	issuer    = domain.Address("issuer-1")
	buyer     = domain.Address("buyer-1")
	investor  = domain.Address("investor-1")
	regulator = domain.Address("regulator-1")
	registrar = domain.Address("registrar-1")

	instrumentID = domain.InstrumentID(1)
	faceValue    = uint64(100)
)

type LedgerSuite struct {
	suite.Suite
	registry *compliance.Service
	gate     *identity.Provider
	coin     *payment.StableCoin
	store    *InMemoryStore
	events   *audit.InMemoryStore
	service  *Service
	now      time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.events = audit.NewInMemoryStore()
	publisher := audit.NewPublisher(s.events, logger)

	s.registry = compliance.NewService(compliance.NewInMemoryStore(), compliance.WithLogger(logger))
	s.gate = identity.NewProvider()
	s.coin = payment.NewStableCoin("EURS")
	s.store = NewInMemoryStore()
	s.service = NewService(s.store, s.registry, s.gate, s.coin,
		WithLogger(logger),
		WithAuditPublisher(publisher),
	)
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	s.approveInstrument()
	s.gate.SetCompleted(buyer, identity.TierQualified)
	s.gate.SetCompleted(investor, identity.TierQualified)
}

// approveInstrument walks instrument 1 through the registry lifecycle with
// a trading window open at s.now and maturity 30 days out.
func (s *LedgerSuite) approveInstrument() {
	_, err := s.registry.SetTokenData(s.ctxAs(registrar, domain.RoleRegistrar), instrumentID, compliance.TokenData{
		Issuer:      issuer,
		FaceValue:   faceValue,
		Class:       "senior",
		IssuerLabel: "TestIssuer",
		Mode:        "NewEntry",
	})
	s.Require().NoError(err)
	_, err = s.registry.SetDates(s.ctxAs(registrar, domain.RoleRegistrar), instrumentID,
		s.now.Add(-time.Hour), s.now.Add(30*24*time.Hour))
	s.Require().NoError(err)
	_, err = s.registry.SetDataComplete(s.ctxAs(registrar, domain.RoleRegistrar), instrumentID)
	s.Require().NoError(err)
	_, err = s.registry.SetRegulatoryApproval(s.ctxAs(regulator, domain.RoleRegulator), instrumentID)
	s.Require().NoError(err)
}

func (s *LedgerSuite) ctxAs(addr domain.Address, role domain.Role) context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	return requestcontext.WithActor(ctx, addr, role)
}

func (s *LedgerSuite) ctxAsAt(addr domain.Address, role domain.Role, at time.Time) context.Context {
	ctx := requestcontext.WithTime(context.Background(), at)
	return requestcontext.WithActor(ctx, addr, role)
}

func (s *LedgerSuite) issuerCtx() context.Context {
	return s.ctxAs(issuer, domain.RoleParticipant)
}

func (s *LedgerSuite) balance(holder domain.Address) uint64 {
	units, err := s.service.BalanceOf(context.Background(), instrumentID, holder)
	s.Require().NoError(err)
	return units
}

// assertConservation checks that the given holders account for the full
// outstanding supply.
func (s *LedgerSuite) assertConservation(holders ...domain.Address) {
	sup, err := s.service.SupplyOf(context.Background(), instrumentID)
	s.Require().NoError(err)
	var total uint64
	for _, h := range holders {
		total += s.balance(h)
	}
	s.Equal(sup.Outstanding(), total, "sum of balances must equal minted minus redeemed")
}

func (s *LedgerSuite) mint(units uint64) {
	s.Require().NoError(s.service.Mint(s.issuerCtx(), instrumentID, units))
}

func (s *LedgerSuite) TestMintRequiresIssuer() {
	err := s.service.Mint(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, 100)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Zero(s.balance(issuer))
}

func (s *LedgerSuite) TestMintRejectsZero() {
	err := s.service.Mint(s.issuerCtx(), instrumentID, 0)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidAmount))
}

func (s *LedgerSuite) TestMintCreditsIssuer() {
	s.mint(1000)

	s.Equal(uint64(1000), s.balance(issuer))
	sup, err := s.service.SupplyOf(context.Background(), instrumentID)
	s.Require().NoError(err)
	s.Equal(uint64(1000), sup.Minted)

	events, err := s.events.ListByInstrument(context.Background(), instrumentID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.ActionTokenMinted, events[0].Action)
	s.Equal(uint64(1000), events[0].Amount)
}

func (s *LedgerSuite) TestPurchaseScenario() {
	s.mint(1000)
	s.coin.Issue(buyer, 10*faceValue)

	err := s.service.BuyTokens(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, 10, 10*faceValue)
	s.Require().NoError(err)

	s.Equal(uint64(10), s.balance(buyer))
	s.Equal(uint64(990), s.balance(issuer))
	s.assertConservation(issuer, buyer)

	coinBalance, err := s.coin.BalanceOf(context.Background(), issuer)
	s.Require().NoError(err)
	s.Equal(10*faceValue, coinBalance)
}

func (s *LedgerSuite) TestPurchasePaymentMismatch() {
	s.mint(1000)
	s.coin.Issue(buyer, 10*faceValue)

	err := s.service.BuyTokens(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, 10, 10*faceValue-1)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePaymentMismatch))

	s.Zero(s.balance(buyer))
	s.Equal(uint64(1000), s.balance(issuer))
	coinBalance, err := s.coin.BalanceOf(context.Background(), buyer)
	s.Require().NoError(err)
	s.Equal(10*faceValue, coinBalance, "no value moves on a rejected purchase")
}

func (s *LedgerSuite) TestPurchaseFailedSettlementLeavesUnitsUntouched() {
	s.mint(1000)
	// Buyer has no funds; the settlement inside the move fails.

	err := s.service.BuyTokens(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, 10, 10*faceValue)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))

	s.Zero(s.balance(buyer))
	s.Equal(uint64(1000), s.balance(issuer))
}

func (s *LedgerSuite) TestPurchaseRequiresClearedBuyer() {
	s.mint(1000)
	stranger := domain.Address("stranger-1")
	s.coin.Issue(stranger, 10*faceValue)

	err := s.service.BuyTokens(s.ctxAs(stranger, domain.RoleParticipant), instrumentID, 10, 10*faceValue)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIdentityNotVerified))
	s.Zero(s.balance(stranger))
}

func (s *LedgerSuite) TestTransferPreconditionOrder() {
	s.mint(1000)

	// Amount is checked first, before authorization.
	err := s.service.Transfer(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, issuer, buyer, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidAmount))

	// A caller may only move its own holdings.
	err = s.service.Transfer(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, investor, buyer, 5)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// Tradability precedes the identity gate: before the trading window
	// opens even cleared parties are rejected with NotTradable.
	early := s.ctxAsAt(issuer, domain.RoleParticipant, s.now.Add(-2*time.Hour))
	err = s.service.Transfer(early, instrumentID, issuer, buyer, 5)
	s.True(dErrors.HasCode(err, dErrors.CodeNotTradable))
}

func (s *LedgerSuite) TestTransferGateEnforcement() {
	s.mint(1000)
	stranger := domain.Address("stranger-1")

	err := s.service.Transfer(s.issuerCtx(), instrumentID, issuer, stranger, 5)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIdentityNotVerified))
	s.Zero(s.balance(stranger))
	s.Equal(uint64(1000), s.balance(issuer))
}

func (s *LedgerSuite) TestTransferUnclearedSenderBlocked() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, investor, 10))

	s.gate.Revoke(investor)
	err := s.service.Transfer(s.ctxAs(investor, domain.RoleParticipant), instrumentID, investor, buyer, 5)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIdentityNotVerified))
	s.Equal(uint64(10), s.balance(investor))
}

func (s *LedgerSuite) TestTransferInsufficientBalance() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, buyer, 10))

	err := s.service.Transfer(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, buyer, investor, 11)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	s.Equal(uint64(10), s.balance(buyer))
	s.assertConservation(issuer, buyer, investor)
}

func (s *LedgerSuite) TestForcedTransferScenario() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, investor, 10))

	regCtx := s.ctxAs(regulator, domain.RoleRegulator)
	req, err := s.service.RequestForcedTransfer(regCtx, instrumentID, investor, 5)
	s.Require().NoError(err)
	s.Equal(uint64(0), req.SeqID, "sequence IDs start at 0")
	s.False(req.Executed)
	s.Equal(regulator, req.Target, "default custody is the requesting regulator")

	executed, err := s.service.ForcedTransfer(regCtx, req.SeqID)
	s.Require().NoError(err)
	s.True(executed.Executed)
	s.Require().NotNil(executed.ExecutedAt)
	s.Equal(uint64(5), s.balance(investor))
	s.Equal(uint64(5), s.balance(regulator))

	_, err = s.service.ForcedTransfer(regCtx, req.SeqID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExecuted))
	s.Equal(uint64(5), s.balance(investor), "a second execution must not move units")
	s.assertConservation(issuer, investor, regulator)
}

func (s *LedgerSuite) TestForcedTransferSufficiencyCheckedAtExecution() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, investor, 10))

	regCtx := s.ctxAs(regulator, domain.RoleRegulator)
	// The request is accepted even though it exceeds the current balance.
	req, err := s.service.RequestForcedTransfer(regCtx, instrumentID, investor, 50)
	s.Require().NoError(err)

	_, err = s.service.ForcedTransfer(regCtx, req.SeqID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))

	// The request stays pending and executes once the balance suffices.
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, investor, 40))
	_, err = s.service.ForcedTransfer(regCtx, req.SeqID)
	s.Require().NoError(err)
	s.Zero(s.balance(investor))
}

func (s *LedgerSuite) TestForcedTransferBypassesIdentityGate() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, investor, 10))

	custody := domain.Address("custody-1")
	service := NewService(s.store, s.registry, s.gate, s.coin,
		WithCustody(custody),
		WithAuditPublisher(audit.NewPublisher(s.events, slog.New(slog.NewTextHandler(io.Discard, nil)))),
	)

	regCtx := s.ctxAs(regulator, domain.RoleRegulator)
	req, err := service.RequestForcedTransfer(regCtx, instrumentID, investor, 5)
	s.Require().NoError(err)
	s.Equal(custody, req.Target)

	// The custody address holds no clearance; seizure succeeds anyway.
	_, err = service.ForcedTransfer(regCtx, req.SeqID)
	s.Require().NoError(err)
	s.Equal(uint64(5), s.balance(custody))
}

func (s *LedgerSuite) TestForcedTransferRequiresRegulator() {
	_, err := s.service.RequestForcedTransfer(s.issuerCtx(), instrumentID, investor, 5)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.service.ForcedTransfer(s.issuerCtx(), 0)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *LedgerSuite) TestForcedTransferUnknownSeqID() {
	_, err := s.service.ForcedTransfer(s.ctxAs(regulator, domain.RoleRegulator), 42)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LedgerSuite) TestRequestSeqIDsIncrease() {
	s.mint(1000)
	regCtx := s.ctxAs(regulator, domain.RoleRegulator)

	first, err := s.service.RequestForcedTransfer(regCtx, instrumentID, investor, 1)
	s.Require().NoError(err)
	second, err := s.service.RequestForcedTransfer(regCtx, instrumentID, investor, 2)
	s.Require().NoError(err)

	s.Equal(uint64(0), first.SeqID)
	s.Equal(uint64(1), second.SeqID)

	found, err := s.service.Request(context.Background(), second.SeqID)
	s.Require().NoError(err)
	s.Equal(uint64(2), found.Amount)
}

func (s *LedgerSuite) TestRedemptionMaturityGate() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, buyer, 10))

	_, err := s.service.RedemptionBuyBack(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, buyer)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotMatured))
	s.Equal(uint64(10), s.balance(buyer))
}

func (s *LedgerSuite) TestRedemptionAtMaturity() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, buyer, 10))
	s.coin.Issue(issuer, 10*faceValue)

	inst, err := s.registry.Instrument(context.Background(), instrumentID)
	s.Require().NoError(err)
	matured := s.ctxAsAt(buyer, domain.RoleParticipant, inst.Maturity)

	redeemed, err := s.service.RedemptionBuyBack(matured, instrumentID, buyer)
	s.Require().NoError(err)
	s.Equal(uint64(10), redeemed)
	s.Zero(s.balance(buyer))

	record, err := s.service.RedeemedOf(context.Background(), instrumentID, buyer)
	s.Require().NoError(err)
	s.Equal(uint64(10), record)

	payout, err := s.coin.BalanceOf(context.Background(), buyer)
	s.Require().NoError(err)
	s.Equal(10*faceValue, payout)

	s.assertConservation(issuer, buyer)
}

func (s *LedgerSuite) TestRedemptionNothingToRedeem() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, buyer, 10))
	s.coin.Issue(issuer, 10*faceValue)

	inst, err := s.registry.Instrument(context.Background(), instrumentID)
	s.Require().NoError(err)
	matured := s.ctxAsAt(buyer, domain.RoleParticipant, inst.Maturity)

	_, err = s.service.RedemptionBuyBack(matured, instrumentID, buyer)
	s.Require().NoError(err)

	_, err = s.service.RedemptionBuyBack(matured, instrumentID, buyer)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNothingToRedeem))

	record, err := s.service.RedeemedOf(context.Background(), instrumentID, buyer)
	s.Require().NoError(err)
	s.Equal(uint64(10), record, "the cumulative record does not change on a failed redemption")
}

func (s *LedgerSuite) TestRedemptionFailedPayoutKeepsBalance() {
	s.mint(1000)
	s.Require().NoError(s.service.Transfer(s.issuerCtx(), instrumentID, issuer, buyer, 10))
	// Issuer has no funds to pay the redemption.

	inst, err := s.registry.Instrument(context.Background(), instrumentID)
	s.Require().NoError(err)
	matured := s.ctxAsAt(buyer, domain.RoleParticipant, inst.Maturity)

	_, err = s.service.RedemptionBuyBack(matured, instrumentID, buyer)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	s.Equal(uint64(10), s.balance(buyer))
}

func (s *LedgerSuite) TestCouponPayment() {
	s.mint(1000)
	s.coin.Issue(issuer, 500)

	err := s.service.PayCoupon(s.issuerCtx(), instrumentID, buyer, 250)
	s.Require().NoError(err)

	received, err := s.coin.BalanceOf(context.Background(), buyer)
	s.Require().NoError(err)
	s.Equal(uint64(250), received)
	s.Equal(uint64(1000), s.balance(issuer), "coupons never move unit balances")

	// The amount is trusted as supplied; a holder with zero units is paid.
	err = s.service.PayCoupon(s.issuerCtx(), instrumentID, domain.Address("late-joiner"), 100)
	s.Require().NoError(err)
}

func (s *LedgerSuite) TestCouponRequiresIssuer() {
	err := s.service.PayCoupon(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, buyer, 100)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *LedgerSuite) TestUnknownInstrument() {
	err := s.service.Mint(s.issuerCtx(), 404, 10)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LedgerSuite) TestAuditTrailCoversLifecycle() {
	s.mint(1000)
	s.coin.Issue(buyer, 10*faceValue)
	s.Require().NoError(s.service.BuyTokens(s.ctxAs(buyer, domain.RoleParticipant), instrumentID, 10, 10*faceValue))

	regCtx := s.ctxAs(regulator, domain.RoleRegulator)
	req, err := s.service.RequestForcedTransfer(regCtx, instrumentID, buyer, 5)
	s.Require().NoError(err)
	_, err = s.service.ForcedTransfer(regCtx, req.SeqID)
	s.Require().NoError(err)

	events, err := s.events.ListByInstrument(context.Background(), instrumentID)
	s.Require().NoError(err)
	s.Require().Len(events, 4)
	s.Equal(audit.ActionTokenMinted, events[0].Action)
	s.Equal(audit.ActionTokensPurchased, events[1].Action)
	s.Equal(audit.ActionRequestForcedTransfer, events[2].Action)
	s.Equal(audit.ActionForcedTokenTransfered, events[3].Action)
	s.Require().NotNil(events[3].SeqID)
	s.Equal(req.SeqID, *events[3].SeqID)
}
