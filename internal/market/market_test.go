package market

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstrike/clearstrike/internal/crypto"
	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/oracle"
	"github.com/clearstrike/clearstrike/internal/reserve"
	"github.com/clearstrike/clearstrike/internal/token"
)

const signerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	adminAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	feeAddr    = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000900001")
	traderAddr = common.HexToAddress("0x0000000000000000000000000000000000000071")
	ethFeed    = common.HexToAddress("0x00000000000000000000000000000000000000e1")

	asAdmin    = domain.As(adminAddr)
	asStranger = domain.As(traderAddr)
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func price(usd int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usd), big.NewInt(1e8))
}

type fixture struct {
	market  *Market
	oracle  *oracle.Oracle
	reserve *reserve.Ledger
	token   *token.Memory
	signer  *crypto.RoundSigner
	now     time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// pushPrice signs and pushes a round stamped at the fixture's current time.
func (f *fixture) pushPrice(t *testing.T, answer *big.Int) {
	t.Helper()
	ts := uint64(f.now.Unix())
	sig, err := f.signer.SignRound(ethFeed, ts, answer)
	require.NoError(t, err)
	require.NoError(t, f.oracle.PushRound(ethFeed, ts, answer, sig))
}

func defaultConfig() domain.FeedConfig {
	return domain.FeedConfig{
		MinimumDeposit:       units(1),
		PayoutMultiplier:     19_000, // 1.9x
		MinimumDuration:      60,
		MaximumDuration:      3600,
		PriceExpiryThreshold: 60,
		FeeFraction:          0,
		Enabled:              true,
	}
}

// newFixture deploys the engine with a 1000-unit pool, a funded trader with
// an approval in place, and the ETH feed configured at 1.9x.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()

	signer, err := crypto.NewRoundSigner(signerKeyHex)
	require.NoError(t, err)

	tok := token.NewMemory()
	o := oracle.New(signer.Address(), logger)
	r := reserve.New(tok, poolAddr, logger)
	m := New(o, r, adminAddr, logger)

	f := &fixture{market: m, oracle: o, reserve: r, token: tok, signer: signer, now: time.Unix(1_700_000_000, 0)}
	o.SetClock(func() time.Time { return f.now })
	m.SetClock(func() time.Time { return f.now })

	require.NoError(t, o.RegisterFeed(domain.Feed{ID: ethFeed, Decimals: 8, Description: "ETH/USD", Version: 1}))
	require.NoError(t, m.SetFeeReceiver(asAdmin, feeAddr))
	require.NoError(t, m.SetFeedConfig(asAdmin, ethFeed, defaultConfig()))

	tok.Mint(poolAddr, units(1000))
	tok.Mint(traderAddr, units(1000))
	require.NoError(t, tok.Approve(context.Background(), traderAddr, poolAddr, units(1000)))
	return f
}

func openReq(deposit *big.Int, isCall bool) domain.OpenRequest {
	return domain.OpenRequest{Feed: ethFeed, Duration: 300, IsCall: isCall, Deposit: deposit}
}

// --- configuration ---

func TestSetFeedConfigValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		mutate func(*domain.FeedConfig)
		want   error
	}{
		{"multiplier at break-even", func(c *domain.FeedConfig) { c.PayoutMultiplier = domain.Precision }, domain.ErrInvalidPayoutMultiplier},
		{"multiplier zero", func(c *domain.FeedConfig) { c.PayoutMultiplier = 0 }, domain.ErrInvalidPayoutMultiplier},
		{"multiplier above 2x", func(c *domain.FeedConfig) { c.PayoutMultiplier = 2*domain.Precision + 1 }, domain.ErrInvalidPayoutMultiplier},
		{"min duration over max", func(c *domain.FeedConfig) { c.MinimumDuration = 2; c.MaximumDuration = 1 }, domain.ErrMinDurationOverMax},
		{"fee fraction over one", func(c *domain.FeedConfig) { c.FeeFraction = domain.Precision + 1 }, domain.ErrInvalidFeeFraction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			assert.ErrorIs(t, f.market.SetFeedConfig(asAdmin, ethFeed, cfg), tc.want)
		})
	}

	// 2x exactly is the inclusive cap.
	cfg := defaultConfig()
	cfg.PayoutMultiplier = 2 * domain.Precision
	assert.NoError(t, f.market.SetFeedConfig(asAdmin, ethFeed, cfg))
}

func TestSetFeedConfigDecimals(t *testing.T) {
	f := newFixture(t)
	nineDec := common.HexToAddress("0x00000000000000000000000000000000000000d9")
	require.NoError(t, f.oracle.RegisterFeed(domain.Feed{ID: nineDec, Decimals: 9, Description: "BAD/USD", Version: 1}))

	cfg := defaultConfig()
	assert.ErrorIs(t, f.market.SetFeedConfig(asAdmin, nineDec, cfg), domain.ErrDecimalsMismatch)

	// Disabling may proceed regardless of decimals.
	cfg.Enabled = false
	assert.NoError(t, f.market.SetFeedConfig(asAdmin, nineDec, cfg))
}

func TestAdminOnlyMethods(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.market.SetFeedConfig(asStranger, ethFeed, defaultConfig()), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.SetFeeReceiver(asStranger, feeAddr), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.SetSigner(asStranger, traderAddr), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.SetPriceExpiryThreshold(asStranger, 60), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.SetReserveFraction(asStranger, 1000), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.SetEnabledAggregator(asStranger, ethFeed, false), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.SetDurationMultiplier(asStranger, 300, 19_000), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.TransferAdmin(asStranger, traderAddr), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.Pause(asStranger), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.market.Unpause(asStranger), domain.ErrUnauthorized)
}

func TestTransferAdmin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.market.TransferAdmin(asAdmin, traderAddr))

	assert.ErrorIs(t, f.market.Pause(asAdmin), domain.ErrUnauthorized)
	assert.NoError(t, f.market.Pause(domain.As(traderAddr)))
}

// --- open ---

func TestOpenNotEnabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.market.SetEnabledAggregator(asAdmin, ethFeed, false))

	_, err := f.market.Open(context.Background(), traderAddr, openReq(units(10), true))
	assert.ErrorIs(t, err, domain.ErrAggregatorNotEnabled)
}

func TestOpenUnknownFeed(t *testing.T) {
	f := newFixture(t)
	req := openReq(units(10), true)
	req.Feed = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	_, err := f.market.Open(context.Background(), traderAddr, req)
	assert.ErrorIs(t, err, domain.ErrAggregatorNotEnabled)
}

func TestOpenDurationOutOfBounds(t *testing.T) {
	f := newFixture(t)
	f.pushPrice(t, price(2000))

	for _, duration := range []uint64{0, 59, 3601} {
		req := openReq(units(10), true)
		req.Duration = duration
		_, err := f.market.Open(context.Background(), traderAddr, req)
		assert.ErrorIs(t, err, domain.ErrDurationOutOfBounds, "duration %d", duration)
	}
}

func TestOpenDepositTooSmall(t *testing.T) {
	f := newFixture(t)
	f.pushPrice(t, price(2000))

	half := new(big.Int).Quo(units(1), big.NewInt(2))
	_, err := f.market.Open(context.Background(), traderAddr, openReq(half, true))
	assert.ErrorIs(t, err, domain.ErrDepositTooSmall)
}

func TestOpenNoRound(t *testing.T) {
	f := newFixture(t)
	_, err := f.market.Open(context.Background(), traderAddr, openReq(units(10), true))
	assert.ErrorIs(t, err, domain.ErrNoRound)
}

func TestOpenPriceTooOld(t *testing.T) {
	f := newFixture(t)
	f.pushPrice(t, price(2000))
	f.advance(61 * time.Second)

	_, err := f.market.Open(context.Background(), traderAddr, openReq(units(10), true))
	assert.ErrorIs(t, err, domain.ErrPriceTooOld)
}

func TestOpenReserveBoundary(t *testing.T) {
	// 1000-unit pool, 0.1 fraction, 1.9x: deposit 52.631 accepted, 52.633
	// rejected.
	f := newFixture(t)
	require.NoError(t, f.market.SetReserveFraction(asAdmin, 1000))
	f.pushPrice(t, price(2000))

	milli := func(n int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
	}

	_, err := f.market.Open(context.Background(), traderAddr, openReq(milli(52_633), true))
	assert.ErrorIs(t, err, domain.ErrReserveFractionTooGreat)

	_, err = f.market.Open(context.Background(), traderAddr, openReq(milli(52_631), true))
	require.NoError(t, err)
}

func TestOpenAssignsMonotonicIDs(t *testing.T) {
	f := newFixture(t)
	f.pushPrice(t, price(2000))

	id1, err := f.market.Open(context.Background(), traderAddr, openReq(units(10), true))
	require.NoError(t, err)
	id2, err := f.market.Open(context.Background(), traderAddr, openReq(units(10), false))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
}

func TestOpenPullsDepositIntoPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pushPrice(t, price(2000))

	_, err := f.market.Open(ctx, traderAddr, openReq(units(10), true))
	require.NoError(t, err)

	traderBal, _ := f.token.BalanceOf(ctx, traderAddr)
	poolBal, _ := f.token.BalanceOf(ctx, poolAddr)
	assert.Equal(t, 0, traderBal.Cmp(units(990)))
	assert.Equal(t, 0, poolBal.Cmp(units(1010)))
}

func TestOpenBeneficiary(t *testing.T) {
	f := newFixture(t)
	f.pushPrice(t, price(2000))

	other := common.HexToAddress("0x0000000000000000000000000000000000000072")
	req := openReq(units(10), true)
	req.Beneficiary = other

	id, err := f.market.Open(context.Background(), traderAddr, req)
	require.NoError(t, err)

	pos, err := f.market.Position(id)
	require.NoError(t, err)
	assert.Equal(t, other, pos.Owner)
}

// --- close ---

// openAt opens a call at the given strike and returns the position id.
func (f *fixture) openAt(t *testing.T, strike *big.Int, isCall bool) uint64 {
	t.Helper()
	f.pushPrice(t, strike)
	id, err := f.market.Open(context.Background(), traderAddr, openReq(units(10), isCall))
	require.NoError(t, err)
	return id
}

func TestCloseBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.openAt(t, price(2000), true)

	f.advance(299 * time.Second)
	f.pushPrice(t, price(2100))
	_, err := f.market.Close(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrOptionNotExpired)
}

func TestCloseCallWin(t *testing.T) {
	// Strike 2000, settle 2100: trader nets 19 units at 1.9x, zero fee.
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAt(t, price(2000), true)

	f.advance(300 * time.Second)
	f.pushPrice(t, price(2100))

	pos, err := f.market.Close(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, 0, pos.Payout.Cmp(units(19)))
	assert.Equal(t, 0, pos.Fee.Sign())

	traderBal, _ := f.token.BalanceOf(ctx, traderAddr)
	assert.Equal(t, 0, traderBal.Cmp(units(1009))) // -10 deposit +19 payout
	assert.Equal(t, 0, f.reserve.Outstanding().Sign())
}

func TestCloseCallLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAt(t, price(2000), true)

	f.advance(300 * time.Second)
	f.pushPrice(t, price(1900))

	pos, err := f.market.Close(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Payout.Sign())

	traderBal, _ := f.token.BalanceOf(ctx, traderAddr)
	poolBal, _ := f.token.BalanceOf(ctx, poolAddr)
	assert.Equal(t, 0, traderBal.Cmp(units(990))) // deposit forfeited
	assert.Equal(t, 0, poolBal.Cmp(units(1010)))
	assert.Equal(t, 0, f.reserve.Outstanding().Sign())
}

func TestClosePutDirections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	idWin := f.openAt(t, price(2000), false)
	idLose := f.openAt(t, price(2000), false)

	f.advance(300 * time.Second)
	f.pushPrice(t, price(1900))
	pos, err := f.market.Close(ctx, idWin)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Payout.Cmp(units(19)))

	f.pushPrice(t, price(2100))
	pos, err = f.market.Close(ctx, idLose)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Payout.Sign())
}

func TestCloseEqualityUnfavorable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	idCall := f.openAt(t, price(2000), true)
	idPut := f.openAt(t, price(2000), false)

	f.advance(300 * time.Second)
	f.pushPrice(t, price(2000))

	for _, id := range []uint64{idCall, idPut} {
		pos, err := f.market.Close(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, pos.Payout.Sign())
	}
}

func TestCloseFeeCarvedFromProfit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg := defaultConfig()
	cfg.FeeFraction = 5000 // half the profit
	require.NoError(t, f.market.SetFeedConfig(asAdmin, ethFeed, cfg))

	id := f.openAt(t, price(2000), true)
	f.advance(300 * time.Second)
	f.pushPrice(t, price(2100))

	pos, err := f.market.Close(ctx, id)
	require.NoError(t, err)

	// Gross payout 19, profit 9, fee 4.5, net 14.5.
	half := new(big.Int).Quo(units(9), big.NewInt(2))
	assert.Equal(t, 0, pos.Fee.Cmp(half))
	assert.Equal(t, 0, pos.Payout.Cmp(new(big.Int).Sub(units(19), half)))

	feeBal, _ := f.token.BalanceOf(ctx, feeAddr)
	assert.Equal(t, 0, feeBal.Cmp(half))
}

func TestCloseTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAt(t, price(2000), true)

	f.advance(300 * time.Second)
	f.pushPrice(t, price(2100))

	_, err := f.market.Close(ctx, id)
	require.NoError(t, err)
	_, err = f.market.Close(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
}

func TestCloseUnknownPosition(t *testing.T) {
	f := newFixture(t)
	_, err := f.market.Close(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestCloseStalePrice(t *testing.T) {
	f := newFixture(t)
	id := f.openAt(t, price(2000), true)

	// Expired, but nobody refreshed the round since open.
	f.advance(301 * time.Second)
	_, err := f.market.Close(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrPriceTooOld)
}

func TestCloseLockedMultiplierSurvivesConfigChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAt(t, price(2000), true)

	// Multiplier raised after open must not change the settled payout.
	cfg := defaultConfig()
	cfg.PayoutMultiplier = 2 * domain.Precision
	require.NoError(t, f.market.SetFeedConfig(asAdmin, ethFeed, cfg))

	f.advance(300 * time.Second)
	f.pushPrice(t, price(2100))

	pos, err := f.market.Close(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Payout.Cmp(units(19)))
}

// --- duration ladder ---

func TestDurationMultiplierOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Static config says 1.9x, ladder says 2x for exactly 300s.
	require.NoError(t, f.market.SetDurationMultiplier(asAdmin, 300, 2*domain.Precision))

	id := f.openAt(t, price(2000), true)
	f.advance(300 * time.Second)
	f.pushPrice(t, price(2100))

	pos, err := f.market.Close(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Payout.Cmp(units(20)))
}

func TestDurationMultiplierBounds(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.market.SetDurationMultiplier(asAdmin, 300, domain.Precision), domain.ErrInvalidPayoutMultiplier)
	assert.ErrorIs(t, f.market.SetDurationMultiplier(asAdmin, 300, 2*domain.Precision+1), domain.ErrInvalidPayoutMultiplier)
}

// --- pause ---

func TestPauseBlocksOpenAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.openAt(t, price(2000), true)

	require.NoError(t, f.market.Pause(asAdmin))

	_, err := f.market.Open(ctx, traderAddr, openReq(units(10), true))
	assert.ErrorIs(t, err, domain.ErrPaused)
	_, err = f.market.Close(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPaused)

	require.NoError(t, f.market.Unpause(asAdmin))

	f.advance(300 * time.Second)
	f.pushPrice(t, price(2100))
	_, err = f.market.Close(ctx, id)
	assert.NoError(t, err)
}

func TestPauseToggleRedundant(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.market.Unpause(asAdmin), domain.ErrNotPaused)
	require.NoError(t, f.market.Pause(asAdmin))
	assert.ErrorIs(t, f.market.Pause(asAdmin), domain.ErrAlreadyPaused)
	require.NoError(t, f.market.Unpause(asAdmin))
	assert.ErrorIs(t, f.market.Unpause(asAdmin), domain.ErrNotPaused)
}

// --- default config via enable ---

func TestSetEnabledAggregatorInstallsDefaults(t *testing.T) {
	f := newFixture(t)
	fresh := common.HexToAddress("0x00000000000000000000000000000000000000e2")
	require.NoError(t, f.oracle.RegisterFeed(domain.Feed{ID: fresh, Decimals: 8, Description: "BTC/USD", Version: 1}))

	require.NoError(t, f.market.SetEnabledAggregator(asAdmin, fresh, true))
	cfg, ok := f.market.Config(fresh)
	require.True(t, ok)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 2*domain.Precision, cfg.PayoutMultiplier)
}

func TestSetEnabledAggregatorDecimalsGuard(t *testing.T) {
	f := newFixture(t)
	nineDec := common.HexToAddress("0x00000000000000000000000000000000000000d9")
	require.NoError(t, f.oracle.RegisterFeed(domain.Feed{ID: nineDec, Decimals: 9, Description: "BAD/USD", Version: 1}))

	assert.ErrorIs(t, f.market.SetEnabledAggregator(asAdmin, nineDec, true), domain.ErrDecimalsMismatch)
}
