// Package market owns per-feed risk configuration, the append-only position
// registry, and the open/close settlement state machine.
package market

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/oracle"
	"github.com/clearstrike/clearstrike/internal/reserve"
)

// Market validates trades against feed configuration and oracle freshness,
// funds them through the reserve ledger, and settles them after expiry.
//
// Market is not safe for concurrent use on its own; every entry point is
// serialized through the sequencer.
type Market struct {
	oracle  *oracle.Oracle
	reserve *reserve.Ledger

	admin       common.Address
	feeReceiver common.Address

	configs             map[common.Address]domain.FeedConfig
	durationMultipliers map[uint64]uint64 // duration seconds -> Precision-base multiplier

	// positions is an arena: ids are 1-based indexes, assigned
	// monotonically and never reused; closing flips status in place.
	positions []domain.Position

	// priceExpiryThreshold is the global staleness bound, used when a feed
	// config leaves its own threshold at zero.
	priceExpiryThreshold uint64

	paused bool

	now    func() time.Time
	logger *slog.Logger
}

// New creates a Market administered by admin. Fees accrue to the admin
// until SetFeeReceiver is called.
func New(o *oracle.Oracle, r *reserve.Ledger, admin common.Address, logger *slog.Logger) *Market {
	return &Market{
		oracle:              o,
		reserve:             r,
		admin:               admin,
		feeReceiver:         admin,
		configs:             make(map[common.Address]domain.FeedConfig),
		durationMultipliers: make(map[uint64]uint64),
		now:                 time.Now,
		logger:              logger,
	}
}

// SetClock overrides the time source, for tests.
func (m *Market) SetClock(now func() time.Time) { m.now = now }

// Open validates and opens a position. The deposit is pulled from caller;
// the position is owned by req.Beneficiary, or by caller when the
// beneficiary is the zero address. Returns the assigned position id.
func (m *Market) Open(ctx context.Context, caller common.Address, req domain.OpenRequest) (uint64, error) {
	if m.paused {
		return 0, domain.ErrPaused
	}

	cfg, ok := m.configs[req.Feed]
	if !ok || !cfg.Enabled {
		return 0, domain.ErrAggregatorNotEnabled
	}

	if req.Duration < cfg.MinimumDuration || req.Duration > cfg.MaximumDuration {
		return 0, domain.ErrDurationOutOfBounds
	}

	if req.Deposit == nil || req.Deposit.Cmp(cfg.MinimumDeposit) < 0 {
		return 0, domain.ErrDepositTooSmall
	}

	round, err := m.oracle.LatestRound(req.Feed)
	if err != nil {
		return 0, err
	}
	if err := m.checkFreshness(cfg, round); err != nil {
		return 0, err
	}

	owner := req.Beneficiary
	if owner == (common.Address{}) {
		owner = caller
	}

	pos := domain.Position{
		ID:         uint64(len(m.positions)) + 1,
		Owner:      owner,
		Feed:       req.Feed,
		Strike:     new(big.Int).Set(round.Answer),
		Deposit:    new(big.Int).Set(req.Deposit),
		IsCall:     req.IsCall,
		OpenedAt:   uint64(m.now().Unix()),
		Duration:   req.Duration,
		Multiplier: m.effectiveMultiplier(cfg, req.Duration),
		Status:     domain.PositionStatusOpen,
	}

	// The exposure check reads the pool balance before the deposit lands,
	// so an incoming deposit can never finance its own admission.
	if err := m.reserve.AdmitExposure(ctx, pos.Exposure()); err != nil {
		return 0, err
	}

	m.positions = append(m.positions, pos)

	// External value transfer happens last, after all bookkeeping.
	if err := m.reserve.PullCollateral(ctx, caller, pos.Deposit); err != nil {
		return 0, err
	}

	m.logger.InfoContext(ctx, "market: position opened",
		slog.Uint64("position_id", pos.ID),
		slog.String("feed", pos.Feed.Hex()),
		slog.String("owner", pos.Owner.Hex()),
		slog.Bool("is_call", pos.IsCall),
		slog.String("strike", pos.Strike.String()),
		slog.String("deposit", pos.Deposit.String()),
		slog.Uint64("duration", pos.Duration),
	)
	return pos.ID, nil
}

// Close settles an expired position against the latest round. Any caller
// may settle any position; the payout always goes to the position owner.
func (m *Market) Close(ctx context.Context, id uint64) (domain.Position, error) {
	if m.paused {
		return domain.Position{}, domain.ErrPaused
	}

	if id == 0 || id > uint64(len(m.positions)) {
		return domain.Position{}, domain.ErrPositionNotFound
	}
	pos := &m.positions[id-1]

	if pos.Status != domain.PositionStatusOpen {
		return domain.Position{}, domain.ErrPositionNotOpen
	}

	now := uint64(m.now().Unix())
	if now < pos.OpenedAt+pos.Duration {
		return domain.Position{}, domain.ErrOptionNotExpired
	}

	cfg := m.configs[pos.Feed]
	round, err := m.oracle.LatestRound(pos.Feed)
	if err != nil {
		return domain.Position{}, err
	}
	if err := m.checkFreshness(cfg, round); err != nil {
		return domain.Position{}, err
	}

	payout := new(big.Int)
	fee := new(big.Int)
	if pos.InTheMoney(round.Answer) {
		// payout = deposit * multiplier / Precision; the fee is carved out
		// of the profit portion only.
		payout.Mul(pos.Deposit, new(big.Int).SetUint64(pos.Multiplier))
		payout.Quo(payout, domain.PrecisionBig())

		profit := new(big.Int).Sub(payout, pos.Deposit)
		fee.Mul(profit, new(big.Int).SetUint64(cfg.FeeFraction))
		fee.Quo(fee, domain.PrecisionBig())
		payout.Sub(payout, fee)
	}

	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = now
	pos.SettlePrice = new(big.Int).Set(round.Answer)
	pos.Payout = payout
	pos.Fee = fee

	m.reserve.ReleaseExposure(pos.Exposure())

	// External value transfers happen last, after all bookkeeping.
	if fee.Sign() > 0 {
		if err := m.reserve.PayOut(ctx, m.feeReceiver, fee); err != nil {
			return domain.Position{}, err
		}
	}
	if payout.Sign() > 0 {
		if err := m.reserve.PayOut(ctx, pos.Owner, payout); err != nil {
			return domain.Position{}, err
		}
	}

	m.logger.InfoContext(ctx, "market: position settled",
		slog.Uint64("position_id", pos.ID),
		slog.String("feed", pos.Feed.Hex()),
		slog.String("settle_price", pos.SettlePrice.String()),
		slog.String("payout", payout.String()),
		slog.String("fee", fee.String()),
	)
	return clonePosition(*pos), nil
}

// Position returns a copy of the registry entry for id.
func (m *Market) Position(id uint64) (domain.Position, error) {
	if id == 0 || id > uint64(len(m.positions)) {
		return domain.Position{}, domain.ErrPositionNotFound
	}
	return clonePosition(m.positions[id-1]), nil
}

// Positions returns a copy of the full registry, open and settled.
func (m *Market) Positions() []domain.Position {
	out := make([]domain.Position, len(m.positions))
	for i, pos := range m.positions {
		out[i] = clonePosition(pos)
	}
	return out
}

// Config returns the stored configuration for feed.
func (m *Market) Config(feed common.Address) (domain.FeedConfig, bool) {
	cfg, ok := m.configs[feed]
	return cfg, ok
}

// effectiveMultiplier resolves the payout multiplier for a duration: an
// exact ladder entry overrides the feed's static multiplier.
func (m *Market) effectiveMultiplier(cfg domain.FeedConfig, duration uint64) uint64 {
	if mult, ok := m.durationMultipliers[duration]; ok {
		return mult
	}
	return cfg.PayoutMultiplier
}

// checkFreshness enforces the staleness bound: the feed's own threshold, or
// the market-wide one when the feed leaves it at zero.
func (m *Market) checkFreshness(cfg domain.FeedConfig, round domain.Round) error {
	threshold := cfg.PriceExpiryThreshold
	if threshold == 0 {
		threshold = m.priceExpiryThreshold
	}

	now := uint64(m.now().Unix())
	if now > round.Timestamp && now-round.Timestamp > threshold {
		return domain.ErrPriceTooOld
	}
	return nil
}

func clonePosition(p domain.Position) domain.Position {
	p.Strike = new(big.Int).Set(p.Strike)
	p.Deposit = new(big.Int).Set(p.Deposit)
	if p.SettlePrice != nil {
		p.SettlePrice = new(big.Int).Set(p.SettlePrice)
	}
	if p.Payout != nil {
		p.Payout = new(big.Int).Set(p.Payout)
	}
	if p.Fee != nil {
		p.Fee = new(big.Int).Set(p.Fee)
	}
	return p
}

// snapshot captures every mutable field for transactional rollback.
type snapshot struct {
	admin                common.Address
	feeReceiver          common.Address
	configs              map[common.Address]domain.FeedConfig
	durationMultipliers  map[uint64]uint64
	positions            []domain.Position
	priceExpiryThreshold uint64
	paused               bool
}

// Snapshot implements the sequencer's rollback hook.
func (m *Market) Snapshot() any {
	snap := snapshot{
		admin:                m.admin,
		feeReceiver:          m.feeReceiver,
		configs:              make(map[common.Address]domain.FeedConfig, len(m.configs)),
		durationMultipliers:  make(map[uint64]uint64, len(m.durationMultipliers)),
		positions:            make([]domain.Position, len(m.positions)),
		priceExpiryThreshold: m.priceExpiryThreshold,
		paused:               m.paused,
	}
	for feed, cfg := range m.configs {
		if cfg.MinimumDeposit != nil {
			cfg.MinimumDeposit = new(big.Int).Set(cfg.MinimumDeposit)
		}
		snap.configs[feed] = cfg
	}
	for d, mult := range m.durationMultipliers {
		snap.durationMultipliers[d] = mult
	}
	for i, pos := range m.positions {
		snap.positions[i] = clonePosition(pos)
	}
	return snap
}

// Restore reverts to a state captured by Snapshot.
func (m *Market) Restore(state any) {
	snap := state.(snapshot)
	m.admin = snap.admin
	m.feeReceiver = snap.feeReceiver
	m.configs = snap.configs
	m.durationMultipliers = snap.durationMultipliers
	m.positions = snap.positions
	m.priceExpiryThreshold = snap.priceExpiryThreshold
	m.paused = snap.paused
}
