package handler

import (
	"log/slog"
	"net/http"

	"github.com/clearstrike/clearstrike/internal/market"
	"github.com/clearstrike/clearstrike/internal/oracle"
	"github.com/clearstrike/clearstrike/internal/service"
)

// FeedHandler serves feed metadata and price rounds.
type FeedHandler struct {
	oracle *oracle.Oracle
	market *market.Market
	svc    *service.SettlementService
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(o *oracle.Oracle, m *market.Market, svc *service.SettlementService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{oracle: o, market: m, svc: svc, logger: logger}
}

type feedJSON struct {
	Address     string `json:"address"`
	Decimals    uint8  `json:"decimals"`
	Description string `json:"description"`
	Version     uint64 `json:"version"`

	Enabled              bool   `json:"enabled"`
	MinimumDeposit       string `json:"minimum_deposit,omitempty"`
	PayoutMultiplier     uint64 `json:"payout_multiplier,omitempty"`
	MinimumDuration      uint64 `json:"minimum_duration,omitempty"`
	MaximumDuration      uint64 `json:"maximum_duration,omitempty"`
	PriceExpiryThreshold uint64 `json:"price_expiry_threshold,omitempty"`
	FeeFraction          uint64 `json:"fee_fraction,omitempty"`
}

// ListFeeds returns every registered feed with its trading configuration.
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds := h.oracle.Feeds()

	out := make([]feedJSON, 0, len(feeds))
	for _, feed := range feeds {
		fj := feedJSON{
			Address:     feed.ID.Hex(),
			Decimals:    feed.Decimals,
			Description: feed.Description,
			Version:     feed.Version,
		}
		if cfg, ok := h.market.Config(feed.ID); ok {
			fj.Enabled = cfg.Enabled
			if cfg.MinimumDeposit != nil {
				fj.MinimumDeposit = cfg.MinimumDeposit.String()
			}
			fj.PayoutMultiplier = cfg.PayoutMultiplier
			fj.MinimumDuration = cfg.MinimumDuration
			fj.MaximumDuration = cfg.MaximumDuration
			fj.PriceExpiryThreshold = cfg.PriceExpiryThreshold
			fj.FeeFraction = cfg.FeeFraction
		}
		out = append(out, fj)
	}

	writeJSON(w, http.StatusOK, out)
}

// GetLatestRound returns the latest accepted round for a feed.
// GET /api/feeds/{id}/round
func (h *FeedHandler) GetLatestRound(w http.ResponseWriter, r *http.Request) {
	feed, err := parseAddress(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	round, err := h.svc.LatestRound(feed)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"feed":      feed.Hex(),
		"timestamp": round.Timestamp,
		"answer":    round.Answer.String(),
	})
}

// ListRounds returns the accepted-round history for a feed from the store
// mirror, newest first.
// GET /api/feeds/{id}/rounds
func (h *FeedHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	feed, err := parseAddress(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rounds, err := h.svc.ListRounds(r.Context(), feed, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(rounds))
	for _, round := range rounds {
		out = append(out, map[string]any{
			"timestamp": round.Timestamp,
			"answer":    round.Answer.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
