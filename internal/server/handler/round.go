package handler

import (
	"log/slog"
	"net/http"

	"github.com/clearstrike/clearstrike/internal/service"
)

// RoundHandler accepts signed round submissions from relayers.
type RoundHandler struct {
	svc    *service.SettlementService
	logger *slog.Logger
}

// NewRoundHandler creates a RoundHandler.
func NewRoundHandler(svc *service.SettlementService, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{svc: svc, logger: logger}
}

type pushRoundsRequest struct {
	Relayer string            `json:"relayer"`
	Rounds  []roundUpdateJSON `json:"rounds"`
}

// PushRounds applies a batch of signed round updates.
// POST /api/rounds
func (h *RoundHandler) PushRounds(w http.ResponseWriter, r *http.Request) {
	var req pushRoundsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Rounds) == 0 {
		writeError(w, http.StatusBadRequest, "rounds must not be empty")
		return
	}

	relayer, err := parseAddress(req.Relayer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "relayer: "+err.Error())
		return
	}
	rounds, err := parseRoundUpdates(req.Rounds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.PushRounds(r.Context(), relayer, rounds); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(rounds)})
}
