// Package handler exposes the compliance registry over HTTP. Routes are
// thin: parse, delegate to the service, translate errors.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bondledger/internal/compliance"
	"bondledger/internal/platform/middleware"
	"bondledger/internal/transport/http/shared"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/requestcontext"
)

// Service defines the registry operations the handler delegates to.
type Service interface {
	SetTokenData(ctx context.Context, id domain.InstrumentID, data compliance.TokenData) (*compliance.Instrument, error)
	SetDates(ctx context.Context, id domain.InstrumentID, tradingStart, maturity time.Time) (*compliance.Instrument, error)
	SetDataComplete(ctx context.Context, id domain.InstrumentID) (*compliance.Instrument, error)
	SetRegulatoryApproval(ctx context.Context, id domain.InstrumentID) (*compliance.Instrument, error)
	Instrument(ctx context.Context, id domain.InstrumentID) (*compliance.Instrument, error)
}

type Handler struct {
	logger    *slog.Logger
	registry  Service
	validator middleware.TokenValidator
}

func New(registry Service, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, registry: registry, validator: validator}
}

// Register mounts the registry routes. Reads are open to any authenticated
// caller; writes are role-checked inside the service so the failure order
// matches the ledger's.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Post("/instruments", h.handleSetTokenData)
		r.Get("/instruments/{instrumentID}", h.handleGetInstrument)
		r.Put("/instruments/{instrumentID}/dates", h.handleSetDates)
		r.Post("/instruments/{instrumentID}/complete", h.handleSetDataComplete)
		r.Post("/instruments/{instrumentID}/approve", h.handleSetApproval)
	})
}

type setTokenDataRequest struct {
	InstrumentID  int64  `json:"instrument_id"`
	Issuer        string `json:"issuer"`
	FaceValue     uint64 `json:"face_value"`
	CouponRateBps uint64 `json:"coupon_rate_bps"`
	Class         string `json:"class"`
	OtherTerms    string `json:"other_terms"`
	IssuerLabel   string `json:"issuer_label"`
	Mode          string `json:"mode"`
}

type setDatesRequest struct {
	TradingStart time.Time `json:"trading_start"`
	Maturity     time.Time `json:"maturity"`
}

func (h *Handler) handleSetTokenData(w http.ResponseWriter, r *http.Request) {
	var req setTokenDataRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if req.InstrumentID <= 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid instrument id"))
		return
	}
	id := domain.InstrumentID(req.InstrumentID)
	issuer, err := domain.ParseAddress(req.Issuer)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid issuer address"))
		return
	}

	inst, err := h.registry.SetTokenData(r.Context(), id, compliance.TokenData{
		Issuer:        issuer,
		FaceValue:     req.FaceValue,
		CouponRateBps: req.CouponRateBps,
		Class:         req.Class,
		OtherTerms:    req.OtherTerms,
		IssuerLabel:   req.IssuerLabel,
		Mode:          req.Mode,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, inst)
}

func (h *Handler) handleSetDates(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	var req setDatesRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	inst, err := h.registry.SetDates(r.Context(), id, req.TradingStart, req.Maturity)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, inst)
}

func (h *Handler) handleSetDataComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	inst, err := h.registry.SetDataComplete(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, inst)
}

func (h *Handler) handleSetApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	inst, err := h.registry.SetRegulatoryApproval(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, inst)
}

type instrumentResponse struct {
	*compliance.Instrument
	Transferable bool `json:"transferable"`
}

func (h *Handler) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.instrumentID(w, r)
	if !ok {
		return
	}
	inst, err := h.registry.Instrument(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, instrumentResponse{
		Instrument:   inst,
		Transferable: inst.IsTransferable(requestcontext.Now(r.Context())),
	})
}

func (h *Handler) instrumentID(w http.ResponseWriter, r *http.Request) (domain.InstrumentID, bool) {
	id, err := domain.ParseInstrumentID(chi.URLParam(r, "instrumentID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid instrument id"))
		return 0, false
	}
	return id, true
}
