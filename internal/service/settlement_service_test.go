package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstrike/clearstrike/internal/crypto"
	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/market"
	"github.com/clearstrike/clearstrike/internal/oracle"
	"github.com/clearstrike/clearstrike/internal/reserve"
	"github.com/clearstrike/clearstrike/internal/router"
	"github.com/clearstrike/clearstrike/internal/sequencer"
	"github.com/clearstrike/clearstrike/internal/token"
)

const signerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	adminAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000900001")
	traderAddr = common.HexToAddress("0x0000000000000000000000000000000000000071")
	ethFeed    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fakePositionStore struct {
	inserted []domain.Position
	closed   []domain.Position
	fail     bool
}

func (f *fakePositionStore) Insert(_ context.Context, p domain.Position) error {
	if f.fail {
		return errors.New("store down")
	}
	f.inserted = append(f.inserted, p)
	return nil
}

func (f *fakePositionStore) MarkClosed(_ context.Context, p domain.Position) error {
	if f.fail {
		return errors.New("store down")
	}
	f.closed = append(f.closed, p)
	return nil
}

func (f *fakePositionStore) GetByID(context.Context, uint64) (domain.Position, error) {
	return domain.Position{}, domain.ErrPositionNotFound
}

func (f *fakePositionStore) ListOpen(context.Context, common.Address) ([]domain.Position, error) {
	return f.inserted, nil
}

func (f *fakePositionStore) ListHistory(context.Context, common.Address, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type fakeBus struct {
	published map[string]int
}

func (f *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	if f.published == nil {
		f.published = map[string]int{}
	}
	f.published[channel]++
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

type fixture struct {
	svc    *SettlementService
	store  *fakePositionStore
	bus    *fakeBus
	signer *crypto.RoundSigner
	now    time.Time
}

func (f *fixture) update(t *testing.T, usd int64) domain.RoundUpdate {
	t.Helper()
	answer := new(big.Int).Mul(big.NewInt(usd), big.NewInt(1e8))
	ts := uint64(f.now.Unix())
	sig, err := f.signer.SignRound(ethFeed, ts, answer)
	require.NoError(t, err)
	return domain.RoundUpdate{Feed: ethFeed, Timestamp: ts, Answer: answer, Signature: sig}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()

	signer, err := crypto.NewRoundSigner(signerKeyHex)
	require.NoError(t, err)

	tok := token.NewMemory()
	o := oracle.New(signer.Address(), logger)
	r := reserve.New(tok, poolAddr, logger)
	m := market.New(o, r, adminAddr, logger)
	rt := router.New(sequencer.New(o, r, m, tok), o, m, logger)

	f := &fixture{store: &fakePositionStore{}, bus: &fakeBus{}, signer: signer, now: time.Unix(1_700_000_000, 0)}
	o.SetClock(func() time.Time { return f.now })
	m.SetClock(func() time.Time { return f.now })

	f.svc = NewSettlementService(rt, m, o, Sinks{Positions: f.store, Bus: f.bus}, logger)

	asAdmin := domain.As(adminAddr)
	require.NoError(t, o.RegisterFeed(domain.Feed{ID: ethFeed, Decimals: 8, Description: "ETH/USD", Version: 1}))
	require.NoError(t, m.SetFeedConfig(asAdmin, ethFeed, domain.FeedConfig{
		MinimumDeposit:       units(1),
		PayoutMultiplier:     19_000,
		MinimumDuration:      60,
		MaximumDuration:      3600,
		PriceExpiryThreshold: 60,
		Enabled:              true,
	}))

	tok.Mint(poolAddr, units(1000))
	tok.Mint(traderAddr, units(10))
	require.NoError(t, tok.Approve(context.Background(), traderAddr, poolAddr, units(10)))
	return f
}

func TestOpenMirrorsPositionAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pos, err := f.svc.OpenPosition(ctx, traderAddr, []domain.RoundUpdate{f.update(t, 2000)},
		domain.OpenRequest{Feed: ethFeed, Duration: 300, IsCall: true, Deposit: units(10)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos.ID)

	require.Len(t, f.store.inserted, 1)
	assert.Equal(t, pos.ID, f.store.inserted[0].ID)
	assert.Equal(t, 1, f.bus.published[ChannelPositions])
	assert.Equal(t, 1, f.bus.published[ChannelRounds])
}

func TestCloseMirrorsSettlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pos, err := f.svc.OpenPosition(ctx, traderAddr, []domain.RoundUpdate{f.update(t, 2000)},
		domain.OpenRequest{Feed: ethFeed, Duration: 300, IsCall: true, Deposit: units(10)})
	require.NoError(t, err)

	f.now = f.now.Add(300 * time.Second)
	settled, err := f.svc.ClosePositions(ctx, traderAddr, []domain.RoundUpdate{f.update(t, 2100)}, []uint64{pos.ID})
	require.NoError(t, err)
	require.Len(t, settled, 1)

	require.Len(t, f.store.closed, 1)
	assert.Equal(t, domain.PositionStatusClosed, f.store.closed[0].Status)
	assert.Equal(t, 0, f.store.closed[0].Payout.Cmp(units(19)))
}

func TestSinkFailureDoesNotUnwindTrade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.fail = true

	pos, err := f.svc.OpenPosition(ctx, traderAddr, []domain.RoundUpdate{f.update(t, 2000)},
		domain.OpenRequest{Feed: ethFeed, Duration: 300, IsCall: true, Deposit: units(10)})
	require.NoError(t, err)

	// The engine committed even though the mirror was down.
	live, err := f.svc.Position(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, live.Status)
	assert.Empty(t, f.store.inserted)
}

func TestEngineFailureMirrorsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	update := f.update(t, 2000)
	update.Signature[5] ^= 0xff

	_, err := f.svc.OpenPosition(ctx, traderAddr, []domain.RoundUpdate{update},
		domain.OpenRequest{Feed: ethFeed, Duration: 300, IsCall: true, Deposit: units(10)})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Empty(t, f.store.inserted)
	assert.Zero(t, f.bus.published[ChannelRounds])
}

func TestPushRoundsStandalone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.PushRounds(ctx, traderAddr, []domain.RoundUpdate{f.update(t, 2000)}))

	round, err := f.svc.LatestRound(ethFeed)
	require.NoError(t, err)
	assert.Equal(t, uint64(f.now.Unix()), round.Timestamp)
	assert.Equal(t, 1, f.bus.published[ChannelRounds])
}
