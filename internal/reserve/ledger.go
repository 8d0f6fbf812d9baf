// Package reserve implements the liquidity reserve: collateral custody,
// LP share accounting, and the aggregate exposure limit that bounds how
// much payout the pool may owe at once.
package reserve

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/token"
)

// Ledger is the single counterparty to every position. totalAssets is the
// pool account's token balance, so retained losing deposits and any direct
// transfers into the pool all count as LP capital.
//
// Ledger is not safe for concurrent use on its own; every entry point is
// serialized through the sequencer.
type Ledger struct {
	token token.Token
	pool  common.Address

	maxReserveFraction uint64 // Precision base
	outstanding        *big.Int

	shares      map[common.Address]*big.Int
	totalShares *big.Int

	logger *slog.Logger
}

// New creates a Ledger custodying collateral in the pool account.
func New(tok token.Token, pool common.Address, logger *slog.Logger) *Ledger {
	return &Ledger{
		token:              tok,
		pool:               pool,
		maxReserveFraction: domain.Precision, // fully committable until configured
		outstanding:        new(big.Int),
		shares:             make(map[common.Address]*big.Int),
		totalShares:        new(big.Int),
		logger:             logger,
	}
}

// Pool returns the custody account address.
func (l *Ledger) Pool() common.Address { return l.pool }

// MaximumReserveFraction returns the configured limit (Precision base).
func (l *Ledger) MaximumReserveFraction() uint64 { return l.maxReserveFraction }

// SetMaximumReserveFraction updates the exposure limit. Authorization is
// enforced by the market's admin path.
func (l *Ledger) SetMaximumReserveFraction(fraction uint64) error {
	if fraction > domain.Precision {
		return domain.ErrInvalidReserveFraction
	}
	l.maxReserveFraction = fraction
	return nil
}

// TotalAssets returns the pool's current token balance.
func (l *Ledger) TotalAssets(ctx context.Context) (*big.Int, error) {
	assets, err := l.token.BalanceOf(ctx, l.pool)
	if err != nil {
		return nil, fmt.Errorf("reserve: total assets: %w", err)
	}
	return assets, nil
}

// Outstanding returns the exposure currently committed to open positions.
func (l *Ledger) Outstanding() *big.Int {
	return new(big.Int).Set(l.outstanding)
}

// AdmitExposure commits amount of potential payout against the pool. The
// check runs once, against the pool balance at this instant; later balance
// changes never retroactively invalidate already-open positions.
func (l *Ledger) AdmitExposure(ctx context.Context, amount *big.Int) error {
	assets, err := l.TotalAssets(ctx)
	if err != nil {
		return err
	}

	limit := new(big.Int).Mul(assets, new(big.Int).SetUint64(l.maxReserveFraction))
	limit.Quo(limit, domain.PrecisionBig())

	next := new(big.Int).Add(l.outstanding, amount)
	if next.Cmp(limit) > 0 {
		return domain.ErrReserveFractionTooGreat
	}
	l.outstanding = next
	return nil
}

// ReleaseExposure returns amount of committed exposure to the pool. It
// never fails and floors at zero, so a redundant release cannot underflow.
func (l *Ledger) ReleaseExposure(amount *big.Int) {
	l.outstanding.Sub(l.outstanding, amount)
	if l.outstanding.Sign() < 0 {
		l.outstanding.SetInt64(0)
	}
}

// PullCollateral moves a position deposit from the trader into the pool.
// The trader must have approved the pool account beforehand.
func (l *Ledger) PullCollateral(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := l.token.TransferFrom(ctx, l.pool, from, l.pool, amount); err != nil {
		return fmt.Errorf("reserve: pull collateral from %s: %w", from, err)
	}
	return nil
}

// PayOut transfers amount from the pool to a settlement recipient.
func (l *Ledger) PayOut(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.token.Transfer(ctx, l.pool, to, amount); err != nil {
		return fmt.Errorf("reserve: pay out to %s: %w", to, err)
	}
	return nil
}

// Deposit adds LP capital: assets are pulled from the caller and shares are
// minted to the receiver pro rata against the pool balance before the
// transfer.
func (l *Ledger) Deposit(ctx context.Context, from common.Address, assets *big.Int, receiver common.Address) (*big.Int, error) {
	if assets.Sign() <= 0 {
		return nil, fmt.Errorf("reserve: deposit: %w", domain.ErrInsufficientBalance)
	}

	totalAssets, err := l.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}

	minted := new(big.Int).Set(assets)
	if l.totalShares.Sign() > 0 && totalAssets.Sign() > 0 {
		minted.Mul(assets, l.totalShares)
		minted.Quo(minted, totalAssets)
	}

	if err := l.PullCollateral(ctx, from, assets); err != nil {
		return nil, err
	}

	l.shares[receiver] = new(big.Int).Add(l.shareBalance(receiver), minted)
	l.totalShares.Add(l.totalShares, minted)

	l.logger.Info("reserve: deposit",
		slog.String("from", from.Hex()),
		slog.String("receiver", receiver.Hex()),
		slog.String("assets", assets.String()),
		slog.String("shares", minted.String()),
	)
	return minted, nil
}

// Withdraw burns shares and transfers the corresponding assets to receiver.
func (l *Ledger) Withdraw(ctx context.Context, owner common.Address, burn *big.Int, receiver common.Address) (*big.Int, error) {
	held := l.shareBalance(owner)
	if burn.Sign() <= 0 || held.Cmp(burn) < 0 {
		return nil, fmt.Errorf("reserve: withdraw: %w", domain.ErrInsufficientShares)
	}

	totalAssets, err := l.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}

	assets := new(big.Int).Mul(burn, totalAssets)
	assets.Quo(assets, l.totalShares)

	l.shares[owner] = new(big.Int).Sub(held, burn)
	l.totalShares.Sub(l.totalShares, burn)

	if err := l.PayOut(ctx, receiver, assets); err != nil {
		return nil, err
	}

	l.logger.Info("reserve: withdraw",
		slog.String("owner", owner.Hex()),
		slog.String("receiver", receiver.Hex()),
		slog.String("shares", burn.String()),
		slog.String("assets", assets.String()),
	)
	return assets, nil
}

// Shares returns the LP share balance of owner.
func (l *Ledger) Shares(owner common.Address) *big.Int {
	return new(big.Int).Set(l.shareBalance(owner))
}

func (l *Ledger) shareBalance(owner common.Address) *big.Int {
	if s, ok := l.shares[owner]; ok {
		return s
	}
	return new(big.Int)
}

// snapshot captures the ledger's own bookkeeping. Token balances are
// snapshotted by the token implementation itself when it participates in
// the same transaction.
type snapshot struct {
	maxReserveFraction uint64
	outstanding        *big.Int
	shares             map[common.Address]*big.Int
	totalShares        *big.Int
}

// Snapshot implements the sequencer's rollback hook.
func (l *Ledger) Snapshot() any {
	snap := snapshot{
		maxReserveFraction: l.maxReserveFraction,
		outstanding:        new(big.Int).Set(l.outstanding),
		shares:             make(map[common.Address]*big.Int, len(l.shares)),
		totalShares:        new(big.Int).Set(l.totalShares),
	}
	for owner, s := range l.shares {
		snap.shares[owner] = new(big.Int).Set(s)
	}
	return snap
}

// Restore reverts to a state captured by Snapshot.
func (l *Ledger) Restore(state any) {
	snap := state.(snapshot)
	l.maxReserveFraction = snap.maxReserveFraction
	l.outstanding = snap.outstanding
	l.shares = snap.shares
	l.totalShares = snap.totalShares
}
