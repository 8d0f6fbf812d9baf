package reserve

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/token"
)

var (
	poolAddr = common.HexToAddress("0x0000000000000000000000000000000000900001")
	lp       = common.HexToAddress("0x0000000000000000000000000000000000000171")
	trader   = common.HexToAddress("0x0000000000000000000000000000000000000172")
)

// units scales n whole tokens to 18 decimals.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newLedger(t *testing.T) (*Ledger, *token.Memory) {
	t.Helper()
	tok := token.NewMemory()
	return New(tok, poolAddr, slog.Default()), tok
}

func TestAdmitExposureBoundary(t *testing.T) {
	// 1000-unit pool, fraction 0.1, multiplier 1.9x: a 52.631 deposit's full
	// payout (99.9989) fits under the 100-unit limit, a 52.633 deposit's
	// (100.0027) does not.
	ctx := context.Background()
	l, tok := newLedger(t)
	tok.Mint(poolAddr, units(1000))
	require.NoError(t, l.SetMaximumReserveFraction(1000)) // 0.1

	milli := func(n int64) *big.Int { // n/1000 tokens
		return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
	}
	exposure := func(deposit *big.Int) *big.Int {
		e := new(big.Int).Mul(deposit, big.NewInt(19_000))
		return e.Quo(e, domain.PrecisionBig())
	}

	assert.ErrorIs(t, l.AdmitExposure(ctx, exposure(milli(52_633))), domain.ErrReserveFractionTooGreat)
	require.NoError(t, l.AdmitExposure(ctx, exposure(milli(52_631))))
}

func TestAdmitExposureAccumulates(t *testing.T) {
	ctx := context.Background()
	l, tok := newLedger(t)
	tok.Mint(poolAddr, units(100))
	require.NoError(t, l.SetMaximumReserveFraction(5000)) // 0.5

	require.NoError(t, l.AdmitExposure(ctx, units(30)))
	require.NoError(t, l.AdmitExposure(ctx, units(20)))
	assert.ErrorIs(t, l.AdmitExposure(ctx, units(1)), domain.ErrReserveFractionTooGreat)
}

func TestAdmitExposureNotRetroactive(t *testing.T) {
	// Pool balance changes after admission never invalidate the admitted
	// exposure; only new admissions see the new balance.
	ctx := context.Background()
	l, tok := newLedger(t)
	tok.Mint(poolAddr, units(100))
	require.NoError(t, l.SetMaximumReserveFraction(5000))

	require.NoError(t, l.AdmitExposure(ctx, units(50)))

	// Someone transfers into the pool directly: limit grows for new opens.
	tok.Mint(poolAddr, units(100))
	require.NoError(t, l.AdmitExposure(ctx, units(50)))
	assert.Equal(t, 0, l.Outstanding().Cmp(units(100)))
}

func TestReleaseExposureFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	l, tok := newLedger(t)
	tok.Mint(poolAddr, units(100))

	require.NoError(t, l.AdmitExposure(ctx, units(10)))
	l.ReleaseExposure(units(10))
	l.ReleaseExposure(units(10)) // redundant release must not underflow
	assert.Equal(t, 0, l.Outstanding().Sign())
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, tok := newLedger(t)

	tok.Mint(lp, units(1000))
	require.NoError(t, tok.Approve(ctx, lp, poolAddr, units(1000)))

	minted, err := l.Deposit(ctx, lp, units(1000), lp)
	require.NoError(t, err)
	assert.Equal(t, 0, minted.Cmp(units(1000)))

	assets, err := l.TotalAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, assets.Cmp(units(1000)))

	got, err := l.Withdraw(ctx, lp, units(400), lp)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(units(400)))

	lpBal, _ := tok.BalanceOf(ctx, lp)
	assert.Equal(t, 0, lpBal.Cmp(units(400)))
	assert.Equal(t, 0, l.Shares(lp).Cmp(units(600)))
}

func TestDepositProRataAfterPoolProfit(t *testing.T) {
	ctx := context.Background()
	l, tok := newLedger(t)

	tok.Mint(lp, units(100))
	require.NoError(t, tok.Approve(ctx, lp, poolAddr, units(100)))
	_, err := l.Deposit(ctx, lp, units(100), lp)
	require.NoError(t, err)

	// Pool doubles from retained losing deposits.
	tok.Mint(poolAddr, units(100))

	tok.Mint(trader, units(100))
	require.NoError(t, tok.Approve(ctx, trader, poolAddr, units(100)))
	minted, err := l.Deposit(ctx, trader, units(100), trader)
	require.NoError(t, err)

	// 100 assets against a 200-asset pool with 100 shares mints 50 shares.
	assert.Equal(t, 0, minted.Cmp(units(50)))
}

func TestWithdrawMoreThanHeld(t *testing.T) {
	ctx := context.Background()
	l, tok := newLedger(t)
	tok.Mint(lp, units(10))
	require.NoError(t, tok.Approve(ctx, lp, poolAddr, units(10)))
	_, err := l.Deposit(ctx, lp, units(10), lp)
	require.NoError(t, err)

	_, err = l.Withdraw(ctx, lp, units(11), lp)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestSetMaximumReserveFractionBounds(t *testing.T) {
	l, _ := newLedger(t)
	assert.ErrorIs(t, l.SetMaximumReserveFraction(domain.Precision+1), domain.ErrInvalidReserveFraction)
	assert.NoError(t, l.SetMaximumReserveFraction(domain.Precision))
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	l, tok := newLedger(t)
	tok.Mint(poolAddr, units(100))

	require.NoError(t, l.AdmitExposure(ctx, units(10)))
	snap := l.Snapshot()

	require.NoError(t, l.AdmitExposure(ctx, units(20)))
	require.NoError(t, l.SetMaximumReserveFraction(1))
	l.Restore(snap)

	assert.Equal(t, 0, l.Outstanding().Cmp(units(10)))
	assert.Equal(t, domain.Precision, l.MaximumReserveFraction())
}
