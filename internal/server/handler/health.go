package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/clearstrike/clearstrike/internal/market"
)

// HealthHandler reports liveness and whether trading is paused.
type HealthHandler struct {
	market  *market.Market
	logger  *slog.Logger
	started time.Time
}

func NewHealthHandler(m *market.Market, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{market: m, logger: logger, started: time.Now().UTC()}
}

// HealthCheck handles GET /api/health.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"paused":    h.market.Paused(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
