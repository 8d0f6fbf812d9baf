// Package handler contains the HTTP handlers of the settlement API.
package handler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrPositionNotFound),
		errors.Is(err, domain.ErrNoRound),
		errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrInvalidAggregator),
		errors.Is(err, domain.ErrFutureTimestamp),
		errors.Is(err, domain.ErrStaleRound),
		errors.Is(err, domain.ErrInvalidPayoutMultiplier),
		errors.Is(err, domain.ErrMinDurationOverMax),
		errors.Is(err, domain.ErrInvalidFeeFraction),
		errors.Is(err, domain.ErrDecimalsMismatch),
		errors.Is(err, domain.ErrInvalidReserveFraction),
		errors.Is(err, domain.ErrDurationOutOfBounds),
		errors.Is(err, domain.ErrDepositTooSmall),
		errors.Is(err, domain.ErrAlreadyRegistered),
		errors.Is(err, domain.ErrAlreadyPaused),
		errors.Is(err, domain.ErrNotPaused):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrAggregatorNotEnabled),
		errors.Is(err, domain.ErrPaused),
		errors.Is(err, domain.ErrPositionNotOpen),
		errors.Is(err, domain.ErrOptionNotExpired),
		errors.Is(err, domain.ErrPriceTooOld),
		errors.Is(err, domain.ErrPriceUnacceptable),
		errors.Is(err, domain.ErrReserveFractionTooGreat),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrInsufficientShares):
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a JSON request body into dst, capping the body size.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// parseAddress parses a 0x-prefixed hex address, rejecting malformed input.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseBig parses a base-10 big integer string.
func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// positionJSON is the wire representation of a position. Big integers are
// decimal strings.
type positionJSON struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	Feed        string `json:"feed"`
	Strike      string `json:"strike"`
	Deposit     string `json:"deposit"`
	IsCall      bool   `json:"is_call"`
	OpenedAt    uint64 `json:"opened_at"`
	Duration    uint64 `json:"duration"`
	Multiplier  uint64 `json:"multiplier"`
	Status      string `json:"status"`
	ClosedAt    uint64 `json:"closed_at,omitempty"`
	SettlePrice string `json:"settle_price,omitempty"`
	Payout      string `json:"payout,omitempty"`
	Fee         string `json:"fee,omitempty"`
}

func toPositionJSON(p domain.Position) positionJSON {
	out := positionJSON{
		ID:         p.ID,
		Owner:      p.Owner.Hex(),
		Feed:       p.Feed.Hex(),
		Strike:     p.Strike.String(),
		Deposit:    p.Deposit.String(),
		IsCall:     p.IsCall,
		OpenedAt:   p.OpenedAt,
		Duration:   p.Duration,
		Multiplier: p.Multiplier,
		Status:     string(p.Status),
		ClosedAt:   p.ClosedAt,
	}
	if p.SettlePrice != nil {
		out.SettlePrice = p.SettlePrice.String()
	}
	if p.Payout != nil {
		out.Payout = p.Payout.String()
	}
	if p.Fee != nil {
		out.Fee = p.Fee.String()
	}
	return out
}

func toPositionListJSON(positions []domain.Position) []positionJSON {
	out := make([]positionJSON, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionJSON(p))
	}
	return out
}

// roundUpdateJSON is the wire representation of one signed round update.
type roundUpdateJSON struct {
	Feed       string `json:"feed"`
	Timestamp  uint64 `json:"timestamp"`
	Answer     string `json:"answer"`
	Signature  string `json:"signature"` // 0x-prefixed hex
	Acceptable string `json:"acceptable,omitempty"`
	IsCall     bool   `json:"is_call,omitempty"`
}

func (u roundUpdateJSON) toDomain() (domain.RoundUpdate, error) {
	feed, err := parseAddress(u.Feed)
	if err != nil {
		return domain.RoundUpdate{}, err
	}
	answer, err := parseBig(u.Answer)
	if err != nil {
		return domain.RoundUpdate{}, fmt.Errorf("answer: %w", err)
	}
	sig, err := hexBytes(u.Signature)
	if err != nil {
		return domain.RoundUpdate{}, fmt.Errorf("signature: %w", err)
	}

	out := domain.RoundUpdate{
		Feed:      feed,
		Timestamp: u.Timestamp,
		Answer:    answer,
		Signature: sig,
		IsCall:    u.IsCall,
	}
	if u.Acceptable != "" {
		acceptable, err := parseBig(u.Acceptable)
		if err != nil {
			return domain.RoundUpdate{}, fmt.Errorf("acceptable: %w", err)
		}
		out.Acceptable = acceptable
	}
	return out, nil
}

func parseRoundUpdates(in []roundUpdateJSON) ([]domain.RoundUpdate, error) {
	out := make([]domain.RoundUpdate, 0, len(in))
	for i, u := range in {
		parsed, err := u.toDomain()
		if err != nil {
			return nil, fmt.Errorf("rounds[%d]: %w", i, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func hexBytes(s string) ([]byte, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
