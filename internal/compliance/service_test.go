package compliance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bondledger/internal/audit"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	service *Service
	events  *audit.InMemoryStore
	now     time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.events = audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = NewService(NewInMemoryStore(),
		WithLogger(logger),
		WithAuditPublisher(audit.NewPublisher(s.events, logger)),
	)
	s.now = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) ctxAs(addr domain.Address, role domain.Role) context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	return requestcontext.WithActor(ctx, addr, role)
}

func (s *ServiceSuite) registrarCtx() context.Context {
	return s.ctxAs("registrar-1", domain.RoleRegistrar)
}

func (s *ServiceSuite) regulatorCtx() context.Context {
	return s.ctxAs("regulator-1", domain.RoleRegulator)
}

func (s *ServiceSuite) seedData() TokenData {
	return TokenData{
		Issuer:        "issuer-1",
		FaceValue:     1000,
		CouponRateBps: 250,
		Class:         "senior",
		IssuerLabel:   "TestIssuer",
		Mode:          "NewEntry",
	}
}

// approve walks instrument 1 through the full lifecycle.
func (s *ServiceSuite) approve() {
	_, err := s.service.SetTokenData(s.registrarCtx(), 1, s.seedData())
	s.Require().NoError(err)
	_, err = s.service.SetDates(s.registrarCtx(), 1, s.now.Add(24*time.Hour), s.now.Add(365*24*time.Hour))
	s.Require().NoError(err)
	_, err = s.service.SetDataComplete(s.registrarCtx(), 1)
	s.Require().NoError(err)
	_, err = s.service.SetRegulatoryApproval(s.regulatorCtx(), 1)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestSetTokenDataRequiresRegistrar() {
	_, err := s.service.SetTokenData(s.ctxAs("someone", domain.RoleParticipant), 1, s.seedData())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.service.SetTokenData(s.regulatorCtx(), 1, s.seedData())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestTermsFreezeAfterApproval() {
	s.approve()

	_, err := s.service.SetTokenData(s.registrarCtx(), 1, s.seedData())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.service.SetDates(s.registrarCtx(), 1, s.now, s.now.Add(time.Hour))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestSetDatesRejectsInvertedRange() {
	_, err := s.service.SetTokenData(s.registrarCtx(), 1, s.seedData())
	s.Require().NoError(err)

	start := s.now.Add(48 * time.Hour)
	_, err = s.service.SetDates(s.registrarCtx(), 1, start, start)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidRange))

	_, err = s.service.SetDates(s.registrarCtx(), 1, start, start.Add(-time.Hour))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidRange))
}

func (s *ServiceSuite) TestSetDataCompleteRequiresFields() {
	_, err := s.service.SetTokenData(s.registrarCtx(), 1, s.seedData())
	s.Require().NoError(err)

	// Dates not set yet.
	_, err = s.service.SetDataComplete(s.registrarCtx(), 1)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIncompleteData))
}

func (s *ServiceSuite) TestApprovalRequiresDataComplete() {
	_, err := s.service.SetTokenData(s.registrarCtx(), 1, s.seedData())
	s.Require().NoError(err)
	_, err = s.service.SetDates(s.registrarCtx(), 1, s.now.Add(time.Hour), s.now.Add(48*time.Hour))
	s.Require().NoError(err)

	_, err = s.service.SetRegulatoryApproval(s.regulatorCtx(), 1)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
}

func (s *ServiceSuite) TestApprovalRequiresRegulator() {
	_, err := s.service.SetRegulatoryApproval(s.registrarCtx(), 1)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestIsTransferableWindow() {
	s.approve()
	ctx := context.Background()

	inst, err := s.service.Instrument(ctx, 1)
	s.Require().NoError(err)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before trading start", inst.TradingStart.Add(-time.Second), false},
		{"at trading start", inst.TradingStart, true},
		{"inside window", inst.TradingStart.Add(30 * 24 * time.Hour), true},
		{"at maturity", inst.Maturity, false},
		{"after maturity", inst.Maturity.Add(time.Hour), false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			got, err := s.service.IsTransferable(ctx, 1, tc.at)
			s.Require().NoError(err)
			s.Equal(tc.want, got)
		})
	}
}

func (s *ServiceSuite) TestIsTransferableUnknownInstrument() {
	_, err := s.service.IsTransferable(context.Background(), 404, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestLifecycleEmitsEvents() {
	s.approve()

	events, err := s.events.ListByInstrument(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().Len(events, 4)
	s.Equal(audit.ActionInstrumentRegistered, events[0].Action)
	s.Equal(audit.ActionInstrumentDatesSet, events[1].Action)
	s.Equal(audit.ActionDataCompleted, events[2].Action)
	s.Equal(audit.ActionRegulatoryApproval, events[3].Action)
	s.Equal(domain.Address("regulator-1"), events[3].Actor)
}

func (s *ServiceSuite) TestUpdateKeepsLifecycleState() {
	_, err := s.service.SetTokenData(s.registrarCtx(), 1, s.seedData())
	s.Require().NoError(err)
	_, err = s.service.SetDates(s.registrarCtx(), 1, s.now.Add(time.Hour), s.now.Add(48*time.Hour))
	s.Require().NoError(err)

	updated := s.seedData()
	updated.CouponRateBps = 300
	inst, err := s.service.SetTokenData(s.registrarCtx(), 1, updated)
	s.Require().NoError(err)

	s.Equal(uint64(300), inst.CouponRateBps)
	s.False(inst.TradingStart.IsZero(), "dates survive a terms update")
}
