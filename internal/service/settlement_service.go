// Package service layers write-behind persistence and eventing on top of the
// in-memory settlement engine. The engine commits first; mirrors that fail
// afterwards are logged and never unwind the trade.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/market"
	"github.com/clearstrike/clearstrike/internal/oracle"
	"github.com/clearstrike/clearstrike/internal/router"
)

// Event channels published on the signal bus.
const (
	ChannelRounds    = "rounds"
	ChannelPositions = "positions"
)

// Sinks bundles the optional write-behind backends. Any nil field is simply
// skipped, so the engine runs standalone without postgres or redis.
type Sinks struct {
	Positions  domain.PositionStore
	Rounds     domain.RoundStore
	Audit      domain.AuditStore
	RoundCache domain.RoundCache
	Bus        domain.SignalBus
}

// SettlementService is the application-facing surface of the engine: it
// routes operations through the sequencer, then mirrors committed state to
// the sinks.
type SettlementService struct {
	router *router.Router
	market *market.Market
	oracle *oracle.Oracle
	sinks  Sinks
	logger *slog.Logger
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(rt *router.Router, m *market.Market, o *oracle.Oracle, sinks Sinks, logger *slog.Logger) *SettlementService {
	return &SettlementService{router: rt, market: m, oracle: o, sinks: sinks, logger: logger}
}

// PushRounds applies a batch of signed round updates with no position action.
func (s *SettlementService) PushRounds(ctx context.Context, relayer common.Address, rounds []domain.RoundUpdate) error {
	if err := s.router.Update(ctx, rounds); err != nil {
		return fmt.Errorf("settlement: push rounds: %w", err)
	}
	s.mirrorRounds(ctx, relayer, rounds)
	return nil
}

// OpenPosition bundles round pushes with one position open and mirrors the
// committed position.
func (s *SettlementService) OpenPosition(ctx context.Context, caller common.Address, rounds []domain.RoundUpdate, req domain.OpenRequest) (domain.Position, error) {
	id, err := s.router.UpdateAndOpen(ctx, caller, rounds, req)
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement: open: %w", err)
	}

	pos, err := s.market.Position(id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement: read back position %d: %w", id, err)
	}

	s.mirrorRounds(ctx, caller, rounds)

	if s.sinks.Positions != nil {
		if err := s.sinks.Positions.Insert(ctx, pos); err != nil {
			s.logger.WarnContext(ctx, "settlement: mirror open failed",
				slog.Uint64("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, ChannelPositions, map[string]any{
		"event":       "position_opened",
		"position_id": pos.ID,
		"owner":       pos.Owner.Hex(),
		"feed":        pos.Feed.Hex(),
		"strike":      pos.Strike.String(),
		"deposit":     pos.Deposit.String(),
		"is_call":     pos.IsCall,
		"duration":    pos.Duration,
	})
	s.auditLog(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner.Hex(),
		"feed":        pos.Feed.Hex(),
		"deposit":     pos.Deposit.String(),
		"multiplier":  pos.Multiplier,
	})

	s.logger.InfoContext(ctx, "settlement: position opened",
		slog.Uint64("position_id", pos.ID),
		slog.String("owner", pos.Owner.Hex()),
		slog.String("feed", pos.Feed.Hex()),
	)
	return pos, nil
}

// ClosePositions bundles round pushes with settlement of the listed
// positions and mirrors each outcome.
func (s *SettlementService) ClosePositions(ctx context.Context, caller common.Address, rounds []domain.RoundUpdate, ids []uint64) ([]domain.Position, error) {
	settled, err := s.router.UpdateAndClose(ctx, rounds, ids)
	if err != nil {
		return nil, fmt.Errorf("settlement: close: %w", err)
	}

	s.mirrorRounds(ctx, caller, rounds)

	for _, pos := range settled {
		if s.sinks.Positions != nil {
			if err := s.sinks.Positions.MarkClosed(ctx, pos); err != nil {
				s.logger.WarnContext(ctx, "settlement: mirror close failed",
					slog.Uint64("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
		}

		s.publish(ctx, ChannelPositions, map[string]any{
			"event":        "position_settled",
			"position_id":  pos.ID,
			"owner":        pos.Owner.Hex(),
			"feed":         pos.Feed.Hex(),
			"settle_price": pos.SettlePrice.String(),
			"payout":       pos.Payout.String(),
			"fee":          pos.Fee.String(),
		})
		s.auditLog(ctx, "position_settled", map[string]any{
			"position_id":  pos.ID,
			"settle_price": pos.SettlePrice.String(),
			"payout":       pos.Payout.String(),
			"fee":          pos.Fee.String(),
		})

		s.logger.InfoContext(ctx, "settlement: position settled",
			slog.Uint64("position_id", pos.ID),
			slog.String("payout", pos.Payout.String()),
		)
	}
	return settled, nil
}

// Position returns one position from the live engine.
func (s *SettlementService) Position(id uint64) (domain.Position, error) {
	return s.market.Position(id)
}

// LatestRound returns the live latest round for a feed.
func (s *SettlementService) LatestRound(feed common.Address) (domain.Round, error) {
	return s.oracle.LatestRound(feed)
}

// ListOpen returns an owner's open positions from the store mirror.
func (s *SettlementService) ListOpen(ctx context.Context, owner common.Address) ([]domain.Position, error) {
	if s.sinks.Positions == nil {
		return s.listOpenFromEngine(owner), nil
	}
	return s.sinks.Positions.ListOpen(ctx, owner)
}

// ListHistory returns an owner's position history from the store mirror.
func (s *SettlementService) ListHistory(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	if s.sinks.Positions == nil {
		return nil, domain.ErrNotFound
	}
	return s.sinks.Positions.ListHistory(ctx, owner, opts)
}

// ListRounds returns the accepted-round trail for a feed from the store
// mirror.
func (s *SettlementService) ListRounds(ctx context.Context, feed common.Address, opts domain.ListOpts) ([]domain.Round, error) {
	if s.sinks.Rounds == nil {
		return nil, domain.ErrNotFound
	}
	return s.sinks.Rounds.ListByFeed(ctx, feed, opts)
}

func (s *SettlementService) listOpenFromEngine(owner common.Address) []domain.Position {
	var open []domain.Position
	for _, pos := range s.market.Positions() {
		if pos.Owner == owner && pos.Status == domain.PositionStatusOpen {
			open = append(open, pos)
		}
	}
	return open
}

// mirrorRounds records each update that the engine accepted. Only updates
// that are now the stored round for their feed are mirrored; a bundle can
// legitimately contain an update that an overwrite in the same batch
// superseded.
func (s *SettlementService) mirrorRounds(ctx context.Context, relayer common.Address, rounds []domain.RoundUpdate) {
	for _, u := range rounds {
		round := domain.Round{Timestamp: u.Timestamp, Answer: u.Answer}

		if s.sinks.Rounds != nil {
			if err := s.sinks.Rounds.Insert(ctx, u.Feed, round, relayer); err != nil {
				s.logger.WarnContext(ctx, "settlement: mirror round failed",
					slog.String("feed", u.Feed.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.sinks.RoundCache != nil {
			if err := s.sinks.RoundCache.SetLatest(ctx, u.Feed, round); err != nil {
				s.logger.WarnContext(ctx, "settlement: cache round failed",
					slog.String("feed", u.Feed.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}

		s.publish(ctx, ChannelRounds, map[string]any{
			"event":  "round_accepted",
			"feed":   u.Feed.Hex(),
			"ts":     u.Timestamp,
			"answer": u.Answer.String(),
		})
	}
}

func (s *SettlementService) publish(ctx context.Context, channel string, event map[string]any) {
	if s.sinks.Bus == nil {
		return
	}
	payload, _ := json.Marshal(event)
	if err := s.sinks.Bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.sinks.Audit == nil {
		return
	}
	if err := s.sinks.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "settlement: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
