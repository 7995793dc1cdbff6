// Package handler exposes the ledger operations over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bondledger/internal/ledger"
	"bondledger/internal/platform/middleware"
	"bondledger/internal/transport/http/shared"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Service defines the ledger operations the handler delegates to.
type Service interface {
	Mint(ctx context.Context, instrumentID domain.InstrumentID, units uint64) error
	Transfer(ctx context.Context, instrumentID domain.InstrumentID, from, to domain.Address, units uint64) error
	BuyTokens(ctx context.Context, instrumentID domain.InstrumentID, units, tendered uint64) error
	PayCoupon(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address, amount uint64) error
	RequestForcedTransfer(ctx context.Context, instrumentID domain.InstrumentID, investor domain.Address, units uint64) (*ledger.RegulatoryRequest, error)
	ForcedTransfer(ctx context.Context, seqID uint64) (*ledger.RegulatoryRequest, error)
	RedemptionBuyBack(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error)
	BalanceOf(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error)
	SupplyOf(ctx context.Context, instrumentID domain.InstrumentID) (ledger.Supply, error)
	Request(ctx context.Context, seqID uint64) (*ledger.RegulatoryRequest, error)
	RedeemedOf(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error)
}

type Handler struct {
	logger    *slog.Logger
	ledger    Service
	validator middleware.TokenValidator
}

func New(ledgerService Service, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, ledger: ledgerService, validator: validator}
}

// Register mounts the ledger routes. Regulator-only routes carry an extra
// role guard at the transport layer; the service re-checks regardless.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))

		r.Post("/instruments/{instrumentID}/mint", h.handleMint)
		r.Post("/instruments/{instrumentID}/transfer", h.handleTransfer)
		r.Post("/instruments/{instrumentID}/buy", h.handleBuy)
		r.Post("/instruments/{instrumentID}/coupon", h.handleCoupon)
		r.Post("/instruments/{instrumentID}/redeem", h.handleRedeem)
		r.Get("/instruments/{instrumentID}/supply", h.handleSupply)
		r.Get("/instruments/{instrumentID}/holders/{holder}/balance", h.handleBalance)
		r.Get("/instruments/{instrumentID}/holders/{holder}/redeemed", h.handleRedeemed)
		r.Get("/forced-transfers/{seqID}", h.handleGetRequest)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleRegulator, h.logger))
			r.Post("/instruments/{instrumentID}/forced-transfer", h.handleRequestForcedTransfer)
			r.Post("/forced-transfers/{seqID}/execute", h.handleForcedTransfer)
		})
	})
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type buyRequest struct {
	Amount   uint64 `json:"amount"`
	Tendered uint64 `json:"tendered"`
}

type couponRequest struct {
	Holder string `json:"holder"`
	Amount uint64 `json:"amount"`
}

type forcedTransferRequest struct {
	Investor string `json:"investor"`
	Amount   uint64 `json:"amount"`
}

type redeemRequest struct {
	Holder string `json:"holder"`
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.ledger.Mint(r.Context(), id, req.Amount); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]uint64{"minted": req.Amount})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	from, err := domain.ParseAddress(req.From)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid from address"))
		return
	}
	to, err := domain.ParseAddress(req.To)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid to address"))
		return
	}
	if err := h.ledger.Transfer(r.Context(), id, from, to, req.Amount); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]uint64{"transferred": req.Amount})
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.ledger.BuyTokens(r.Context(), id, req.Amount, req.Tendered); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]uint64{"purchased": req.Amount})
}

func (h *Handler) handleCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	var req couponRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	holder, err := domain.ParseAddress(req.Holder)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid holder address"))
		return
	}
	if err := h.ledger.PayCoupon(r.Context(), id, holder, req.Amount); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]uint64{"paid": req.Amount})
}

func (h *Handler) handleRequestForcedTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	var req forcedTransferRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	investor, err := domain.ParseAddress(req.Investor)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid investor address"))
		return
	}
	created, err := h.ledger.RequestForcedTransfer(r.Context(), id, investor, req.Amount)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleForcedTransfer(w http.ResponseWriter, r *http.Request) {
	seqID, ok := h.seqID(w, r)
	if !ok {
		return
	}
	executed, err := h.ledger.ForcedTransfer(r.Context(), seqID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, executed)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	seqID, ok := h.seqID(w, r)
	if !ok {
		return
	}
	req, err := h.ledger.Request(r.Context(), seqID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, req)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	holder, err := domain.ParseAddress(req.Holder)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid holder address"))
		return
	}
	redeemed, err := h.ledger.RedemptionBuyBack(r.Context(), id, holder)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]uint64{"redeemed": redeemed})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	holder, ok := h.holder(w, r)
	if !ok {
		return
	}
	units, err := h.ledger.BalanceOf(r.Context(), id, holder)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]uint64{"balance": units})
}

func (h *Handler) handleRedeemed(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	holder, ok := h.holder(w, r)
	if !ok {
		return
	}
	units, err := h.ledger.RedeemedOf(r.Context(), id, holder)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]uint64{"redeemed": units})
}

func (h *Handler) handleSupply(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	sup, err := h.ledger.SupplyOf(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, sup)
}

func (h *Handler) instrumentID(w http.ResponseWriter, r *http.Request) (domain.InstrumentID, bool) {
	id, err := domain.ParseInstrumentID(chi.URLParam(r, "instrumentID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid instrument id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) holder(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	holder, err := domain.ParseAddress(chi.URLParam(r, "holder"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid holder address"))
		return "", false
	}
	return holder, true
}

func (h *Handler) seqID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	seqID, err := strconv.ParseUint(chi.URLParam(r, "seqID"), 10, 64)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid sequence id"))
		return 0, false
	}
	return seqID, true
}
