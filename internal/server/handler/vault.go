package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/clearstrike/clearstrike/internal/reserve"
	"github.com/clearstrike/clearstrike/internal/sequencer"
)

// VaultHandler serves the liquidity-provider share vault on top of the
// reserve ledger.
type VaultHandler struct {
	reserve *reserve.Ledger
	seq     *sequencer.Sequencer
	logger  *slog.Logger
}

// NewVaultHandler creates a VaultHandler executing through the given
// sequencer.
func NewVaultHandler(l *reserve.Ledger, seq *sequencer.Sequencer, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{reserve: l, seq: seq, logger: logger}
}

type vaultDepositRequest struct {
	Caller   string `json:"caller"`
	Assets   string `json:"assets"`
	Receiver string `json:"receiver,omitempty"`
}

// Deposit pulls collateral from the caller and mints pool shares pro rata.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req vaultDepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	assets, err := parseBig(req.Assets)
	if err != nil {
		writeError(w, http.StatusBadRequest, "assets: "+err.Error())
		return
	}
	receiver := caller
	if req.Receiver != "" {
		receiver, err = parseAddress(req.Receiver)
		if err != nil {
			writeError(w, http.StatusBadRequest, "receiver: "+err.Error())
			return
		}
	}

	var shares *big.Int
	err = h.seq.Execute(r.Context(), func(ctx context.Context) error {
		var depErr error
		shares, depErr = h.reserve.Deposit(ctx, caller, assets, receiver)
		return depErr
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"shares": shares.String()})
}

type vaultWithdrawRequest struct {
	Caller   string `json:"caller"`
	Shares   string `json:"shares"`
	Receiver string `json:"receiver,omitempty"`
}

// Withdraw burns pool shares and pays out the pro-rata slice of pool assets.
// POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req vaultWithdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	shares, err := parseBig(req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, "shares: "+err.Error())
		return
	}
	receiver := caller
	if req.Receiver != "" {
		receiver, err = parseAddress(req.Receiver)
		if err != nil {
			writeError(w, http.StatusBadRequest, "receiver: "+err.Error())
			return
		}
	}

	var assets *big.Int
	err = h.seq.Execute(r.Context(), func(ctx context.Context) error {
		var wErr error
		assets, wErr = h.reserve.Withdraw(ctx, caller, shares, receiver)
		return wErr
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"assets": assets.String()})
}

// Status reports pool totals and one owner's share balance.
// GET /api/vault?owner=0x...
func (h *VaultHandler) Status(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"outstanding":          h.reserve.Outstanding().String(),
		"max_reserve_fraction": h.reserve.MaximumReserveFraction(),
	}

	assets, err := h.reserve.TotalAssets(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out["total_assets"] = assets.String()

	if ownerHex := r.URL.Query().Get("owner"); ownerHex != "" {
		owner, err := parseAddress(ownerHex)
		if err != nil {
			writeError(w, http.StatusBadRequest, "owner: "+err.Error())
			return
		}
		out["shares"] = h.reserve.Shares(owner).String()
	}

	writeJSON(w, http.StatusOK, out)
}
