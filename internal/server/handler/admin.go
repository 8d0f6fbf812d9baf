package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/market"
	"github.com/clearstrike/clearstrike/internal/sequencer"
)

// AdminHandler serves the administrative surface. Requests name the caller
// explicitly; the engine rejects callers that are not the current admin, so
// the HTTP API-key gate is a first fence, not the authorization itself.
type AdminHandler struct {
	market *market.Market
	seq    *sequencer.Sequencer
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler executing through the given
// sequencer.
func NewAdminHandler(m *market.Market, seq *sequencer.Sequencer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{market: m, seq: seq, logger: logger}
}

// exec runs one admin mutation inside a sequencer transaction.
func (h *AdminHandler) exec(ctx context.Context, fn func() error) error {
	return h.seq.Execute(ctx, func(context.Context) error {
		return fn()
	})
}

func (h *AdminHandler) callerAuth(callerHex string) (domain.AuthContext, error) {
	caller, err := parseAddress(callerHex)
	if err != nil {
		return domain.AuthContext{}, err
	}
	return domain.As(caller), nil
}

type feedConfigRequest struct {
	Caller               string `json:"caller"`
	MinimumDeposit       string `json:"minimum_deposit"`
	PayoutMultiplier     uint64 `json:"payout_multiplier"`
	MinimumDuration      uint64 `json:"minimum_duration"`
	MaximumDuration      uint64 `json:"maximum_duration"`
	PriceExpiryThreshold uint64 `json:"price_expiry_threshold"`
	FeeFraction          uint64 `json:"fee_fraction"`
	Enabled              bool   `json:"enabled"`
}

// SetFeedConfig installs the full trading configuration of one feed.
// PUT /api/admin/feeds/{id}/config
func (h *AdminHandler) SetFeedConfig(w http.ResponseWriter, r *http.Request) {
	feed, err := parseAddress(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req feedConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, err := h.callerAuth(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	minDeposit, err := parseBig(req.MinimumDeposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "minimum_deposit: "+err.Error())
		return
	}

	cfg := domain.FeedConfig{
		MinimumDeposit:       minDeposit,
		PayoutMultiplier:     req.PayoutMultiplier,
		MinimumDuration:      req.MinimumDuration,
		MaximumDuration:      req.MaximumDuration,
		PriceExpiryThreshold: req.PriceExpiryThreshold,
		FeeFraction:          req.FeeFraction,
		Enabled:              req.Enabled,
	}

	if err := h.exec(r.Context(), func() error {
		return h.market.SetFeedConfig(auth, feed, cfg)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type enableRequest struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

// SetEnabled toggles a feed, installing the default configuration when a
// feed is enabled for the first time.
// PUT /api/admin/feeds/{id}/enabled
func (h *AdminHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	feed, err := parseAddress(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req enableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, err := h.callerAuth(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.exec(r.Context(), func() error {
		return h.market.SetEnabledAggregator(auth, feed, req.Enabled)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type addressRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

// SetSigner rotates the trusted oracle signer.
// PUT /api/admin/signer
func (h *AdminHandler) SetSigner(w http.ResponseWriter, r *http.Request) {
	h.setAddress(w, r, func(auth domain.AuthContext, addr common.Address) error {
		return h.market.SetSigner(auth, addr)
	})
}

// SetFeeReceiver changes the settlement-fee recipient.
// PUT /api/admin/fee-receiver
func (h *AdminHandler) SetFeeReceiver(w http.ResponseWriter, r *http.Request) {
	h.setAddress(w, r, func(auth domain.AuthContext, addr common.Address) error {
		return h.market.SetFeeReceiver(auth, addr)
	})
}

// TransferAdmin hands engine administration to a new address.
// PUT /api/admin/owner
func (h *AdminHandler) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	h.setAddress(w, r, func(auth domain.AuthContext, addr common.Address) error {
		return h.market.TransferAdmin(auth, addr)
	})
}

func (h *AdminHandler) setAddress(w http.ResponseWriter, r *http.Request, apply func(domain.AuthContext, common.Address) error) {
	var req addressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, err := h.callerAuth(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "address: "+err.Error())
		return
	}

	if err := h.exec(r.Context(), func() error {
		return apply(auth, addr)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type fractionRequest struct {
	Caller   string `json:"caller"`
	Fraction uint64 `json:"fraction"`
}

// SetReserveFraction caps the share of pool assets that may be promised to
// open positions.
// PUT /api/admin/reserve-fraction
func (h *AdminHandler) SetReserveFraction(w http.ResponseWriter, r *http.Request) {
	var req fractionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, err := h.callerAuth(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.exec(r.Context(), func() error {
		return h.market.SetReserveFraction(auth, req.Fraction)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type durationMultiplierRequest struct {
	Caller     string `json:"caller"`
	Duration   uint64 `json:"duration"`
	Multiplier uint64 `json:"multiplier"`
}

// SetDurationMultiplier installs a payout-multiplier override for one exact
// duration.
// PUT /api/admin/duration-multiplier
func (h *AdminHandler) SetDurationMultiplier(w http.ResponseWriter, r *http.Request) {
	var req durationMultiplierRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, err := h.callerAuth(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.exec(r.Context(), func() error {
		return h.market.SetDurationMultiplier(auth, req.Duration, req.Multiplier)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

// Pause suspends opens and settlements.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.market.Pause)
}

// Unpause resumes opens and settlements.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.market.Unpause)
}

func (h *AdminHandler) toggle(w http.ResponseWriter, r *http.Request, apply func(domain.AuthContext) error) {
	var req callerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, err := h.callerAuth(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.exec(r.Context(), func() error {
		return apply(auth)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": h.market.Paused()})
}
