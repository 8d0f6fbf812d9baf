package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/service"
)

// PositionHandler serves position opening, settlement, and queries. The
// bundled open/close variants that push rounds in the same transaction live
// here too.
type PositionHandler struct {
	svc    *service.SettlementService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(svc *service.SettlementService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{svc: svc, logger: logger}
}

type openRequest struct {
	Caller      string            `json:"caller"`
	Feed        string            `json:"feed"`
	Duration    uint64            `json:"duration"`
	IsCall      bool              `json:"is_call"`
	Deposit     string            `json:"deposit"`
	Beneficiary string            `json:"beneficiary,omitempty"`
	Rounds      []roundUpdateJSON `json:"rounds,omitempty"`
}

func (req openRequest) toDomain() (caller common.Address, open domain.OpenRequest, rounds []domain.RoundUpdate, err error) {
	caller, err = parseAddress(req.Caller)
	if err != nil {
		return caller, open, nil, err
	}
	open.Feed, err = parseAddress(req.Feed)
	if err != nil {
		return caller, open, nil, err
	}
	open.Duration = req.Duration
	open.IsCall = req.IsCall
	open.Deposit, err = parseBig(req.Deposit)
	if err != nil {
		return caller, open, nil, err
	}
	if req.Beneficiary != "" {
		open.Beneficiary, err = parseAddress(req.Beneficiary)
		if err != nil {
			return caller, open, nil, err
		}
	}
	rounds, err = parseRoundUpdates(req.Rounds)
	return caller, open, rounds, err
}

type closeRequest struct {
	Rounds      []roundUpdateJSON `json:"rounds,omitempty"`
	PositionIDs []uint64          `json:"position_ids,omitempty"`
}

// Open opens a position, optionally bundling round updates.
// POST /api/positions/open and POST /api/bundles/open
func (h *PositionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, open, rounds, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.svc.OpenPosition(r.Context(), caller, rounds, open)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPositionJSON(pos))
}

// Close settles one position by id, optionally bundling round updates.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	var req closeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rounds, err := parseRoundUpdates(req.Rounds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	settled, err := h.svc.ClosePositions(r.Context(), common.Address{}, rounds, []uint64{id})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPositionJSON(settled[0]))
}

// CloseBatch settles several positions in one transaction.
// POST /api/bundles/close
func (h *PositionHandler) CloseBatch(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.PositionIDs) == 0 {
		writeError(w, http.StatusBadRequest, "position_ids must not be empty")
		return
	}
	rounds, err := parseRoundUpdates(req.Rounds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	settled, err := h.svc.ClosePositions(r.Context(), common.Address{}, rounds, req.PositionIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPositionListJSON(settled))
}

// Get returns one position by id.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := h.svc.Position(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionJSON(pos))
}

// List returns positions for an owner. With status=open only open positions
// are returned; otherwise the full history from the store mirror.
// GET /api/positions?owner=0x...&status=open
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner: "+err.Error())
		return
	}

	var positions []domain.Position
	if r.URL.Query().Get("status") == "open" {
		positions, err = h.svc.ListOpen(r.Context(), owner)
	} else {
		positions, err = h.svc.ListHistory(r.Context(), owner, parseListOpts(r))
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionListJSON(positions))
}
