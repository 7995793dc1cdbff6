package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"bondledger/internal/audit"
	"bondledger/internal/compliance"
	"bondledger/internal/identity"
	"bondledger/internal/ledger"
	"bondledger/internal/payment"
	"bondledger/internal/platform/middleware"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/requestcontext"
)

// stubValidator resolves bearer tokens from a fixed table.
type stubValidator struct {
	tokens map[string]*middleware.TokenClaims
}

func (v *stubValidator) ValidateToken(token string) (*middleware.TokenClaims, error) {
	claims, ok := v.tokens[token]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}

type HandlerSuite struct {
	suite.Suite
	router http.Handler
	coin   *payment.StableCoin
	store  *ledger.InMemoryStore
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := audit.NewInMemoryStore()

	registry := compliance.NewService(compliance.NewInMemoryStore(), compliance.WithLogger(logger))
	gate := identity.NewProvider()
	s.coin = payment.NewStableCoin("EURS")
	s.store = ledger.NewInMemoryStore()
	service := ledger.NewService(s.store, registry, gate, s.coin,
		ledger.WithLogger(logger),
		ledger.WithAuditPublisher(audit.NewPublisher(events, logger)),
	)

	validator := &stubValidator{tokens: map[string]*middleware.TokenClaims{
		"issuer-token":    {Address: "issuer-1", Role: domain.RoleParticipant},
		"buyer-token":     {Address: "buyer-1", Role: domain.RoleParticipant},
		"regulator-token": {Address: "regulator-1", Role: domain.RoleRegulator},
	}}

	r := chi.NewRouter()
	r.Use(middleware.RequestTime)
	New(service, validator, logger).Register(r)
	s.router = r

	// Registry lifecycle, done directly against the service.
	now := time.Now().UTC()
	registrarCtx := requestcontext.WithActor(s.T().Context(), "registrar-1", domain.RoleRegistrar)
	_, err := registry.SetTokenData(registrarCtx, 1, compliance.TokenData{
		Issuer: "issuer-1", FaceValue: 100, Class: "senior",
	})
	s.Require().NoError(err)
	_, err = registry.SetDates(registrarCtx, 1, now.Add(-time.Hour), now.Add(24*time.Hour))
	s.Require().NoError(err)
	_, err = registry.SetDataComplete(registrarCtx, 1)
	s.Require().NoError(err)
	regulatorCtx := requestcontext.WithActor(s.T().Context(), "regulator-1", domain.RoleRegulator)
	_, err = registry.SetRegulatoryApproval(regulatorCtx, 1)
	s.Require().NoError(err)

	gate.SetCompleted("buyer-1", identity.TierQualified)
}

func (s *HandlerSuite) request(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) mint(units uint64) {
	rec := s.request(http.MethodPost, "/instruments/1/mint", "issuer-token", map[string]uint64{"amount": units})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
}

func (s *HandlerSuite) TestMissingTokenRejected() {
	rec := s.request(http.MethodPost, "/instruments/1/mint", "", map[string]uint64{"amount": 10})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestMintAndBalance() {
	s.mint(1000)

	rec := s.request(http.MethodGet, "/instruments/1/holders/issuer-1/balance", "issuer-token", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp map[string]uint64
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(uint64(1000), resp["balance"])
}

func (s *HandlerSuite) TestMintByNonIssuerForbidden() {
	rec := s.request(http.MethodPost, "/instruments/1/mint", "buyer-token", map[string]uint64{"amount": 10})
	s.Equal(http.StatusForbidden, rec.Code)

	var resp map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(string(dErrors.CodeUnauthorized), resp["error"])
}

func (s *HandlerSuite) TestBuyFlow() {
	s.mint(1000)
	s.coin.Issue("buyer-1", 1000)

	rec := s.request(http.MethodPost, "/instruments/1/buy", "buyer-token",
		map[string]uint64{"amount": 10, "tendered": 1000})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.request(http.MethodGet, "/instruments/1/holders/buyer-1/balance", "buyer-token", nil)
	var resp map[string]uint64
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(uint64(10), resp["balance"])
}

func (s *HandlerSuite) TestBuyPaymentMismatchUnprocessable() {
	s.mint(1000)
	s.coin.Issue("buyer-1", 1000)

	rec := s.request(http.MethodPost, "/instruments/1/buy", "buyer-token",
		map[string]uint64{"amount": 10, "tendered": 999})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
}

func (s *HandlerSuite) TestForcedTransferRoleGuard() {
	rec := s.request(http.MethodPost, "/instruments/1/forced-transfer", "buyer-token",
		map[string]any{"investor": "buyer-1", "amount": 5})
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *HandlerSuite) TestForcedTransferLifecycle() {
	s.mint(1000)
	s.coin.Issue("buyer-1", 1000)
	rec := s.request(http.MethodPost, "/instruments/1/buy", "buyer-token",
		map[string]uint64{"amount": 10, "tendered": 1000})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.request(http.MethodPost, "/instruments/1/forced-transfer", "regulator-token",
		map[string]any{"investor": "buyer-1", "amount": 5})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var created ledger.RegulatoryRequest
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	s.False(created.Executed)

	path := fmt.Sprintf("/forced-transfers/%d/execute", created.SeqID)
	rec = s.request(http.MethodPost, path, "regulator-token", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.request(http.MethodPost, path, "regulator-token", nil)
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.request(http.MethodGet, fmt.Sprintf("/forced-transfers/%d", created.SeqID), "buyer-token", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var fetched ledger.RegulatoryRequest
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &fetched))
	s.True(fetched.Executed)
}

func (s *HandlerSuite) TestUnknownRequestNotFound() {
	rec := s.request(http.MethodPost, "/forced-transfers/99/execute", "regulator-token", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestInvalidInstrumentID() {
	rec := s.request(http.MethodGet, "/instruments/abc/supply", "buyer-token", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestMalformedBodyRejected() {
	req := httptest.NewRequest(http.MethodPost, "/instruments/1/mint", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer issuer-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}
