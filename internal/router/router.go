// Package router is the atomic front door: it bundles one or more signed
// round pushes with exactly one position action so price freshness and
// trade execution commit or fail as a single unit.
//
// Without bundling, a trader could open against a stale favorable price and
// settle before a fresher round lands, and a legitimate price update could
// be front-run between two separate submissions.
package router

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/market"
	"github.com/clearstrike/clearstrike/internal/oracle"
	"github.com/clearstrike/clearstrike/internal/sequencer"
)

// Router coordinates the oracle and market inside sequencer transactions.
// It owns no persistent state of its own.
type Router struct {
	seq    *sequencer.Sequencer
	oracle *oracle.Oracle
	market *market.Market
	logger *slog.Logger
}

// New creates a Router executing through the given sequencer.
func New(seq *sequencer.Sequencer, o *oracle.Oracle, m *market.Market, logger *slog.Logger) *Router {
	return &Router{seq: seq, oracle: o, market: m, logger: logger}
}

// Sequencer exposes the underlying transaction boundary so single
// operations (plain open, close, admin actions) run under the same
// serialization.
func (r *Router) Sequencer() *sequencer.Sequencer { return r.seq }

// Update pushes a batch of rounds with no position action attached. Relayers
// use this to keep feeds fresh between trades.
func (r *Router) Update(ctx context.Context, rounds []domain.RoundUpdate) error {
	return r.seq.Execute(ctx, func(ctx context.Context) error {
		return r.applyRounds(rounds)
	})
}

// UpdateAndOpen pushes every round in the batch along with one open. If any
// push, bound check, or the open itself fails, nothing persists.
func (r *Router) UpdateAndOpen(ctx context.Context, caller common.Address, rounds []domain.RoundUpdate, req domain.OpenRequest) (uint64, error) {
	var id uint64
	err := r.seq.Execute(ctx, func(ctx context.Context) error {
		if err := r.applyRounds(rounds); err != nil {
			return err
		}
		var openErr error
		id, openErr = r.market.Open(ctx, caller, req)
		return openErr
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateAndClose pushes every round in the batch, then settles each listed
// position. A single failing close aborts the entire call, pushes included.
func (r *Router) UpdateAndClose(ctx context.Context, rounds []domain.RoundUpdate, positionIDs []uint64) ([]domain.Position, error) {
	settled := make([]domain.Position, 0, len(positionIDs))
	err := r.seq.Execute(ctx, func(ctx context.Context) error {
		if err := r.applyRounds(rounds); err != nil {
			return err
		}
		for _, id := range positionIDs {
			pos, closeErr := r.market.Close(ctx, id)
			if closeErr != nil {
				return closeErr
			}
			settled = append(settled, pos)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// applyRounds pushes each update and enforces its acceptable bound against
// the resulting stored round: for a call the price must not have moved
// above the bound, for a put not below it.
func (r *Router) applyRounds(rounds []domain.RoundUpdate) error {
	for _, u := range rounds {
		if err := r.oracle.PushRound(u.Feed, u.Timestamp, u.Answer, u.Signature); err != nil {
			return err
		}
		if u.Acceptable == nil {
			continue
		}
		round, err := r.oracle.LatestRound(u.Feed)
		if err != nil {
			return err
		}
		if u.IsCall && round.Answer.Cmp(u.Acceptable) > 0 {
			return domain.ErrPriceUnacceptable
		}
		if !u.IsCall && round.Answer.Cmp(u.Acceptable) < 0 {
			return domain.ErrPriceUnacceptable
		}
	}
	return nil
}
