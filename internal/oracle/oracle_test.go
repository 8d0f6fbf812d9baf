package oracle

import (
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstrike/clearstrike/internal/crypto"
	"github.com/clearstrike/clearstrike/internal/domain"
)

const signerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	ethFeed = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	btcFeed = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type fixture struct {
	oracle *Oracle
	signer *crypto.RoundSigner
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	signer, err := crypto.NewRoundSigner(signerKeyHex)
	require.NoError(t, err)

	o := New(signer.Address(), slog.Default())
	f := &fixture{oracle: o, signer: signer, now: time.Unix(1_700_000_000, 0)}
	o.SetClock(func() time.Time { return f.now })

	require.NoError(t, o.RegisterFeed(domain.Feed{
		ID: ethFeed, Decimals: 8, Description: "ETH/USD", Version: 1,
	}))
	return f
}

func (f *fixture) signedPush(t *testing.T, feed common.Address, ts uint64, answer *big.Int) error {
	t.Helper()
	sig, err := f.signer.SignRound(feed, ts, answer)
	require.NoError(t, err)
	return f.oracle.PushRound(feed, ts, answer, sig)
}

func price(usd int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usd), big.NewInt(1e8))
}

func TestPushRoundAndLatest(t *testing.T) {
	f := newFixture(t)
	ts := uint64(f.now.Unix())

	require.NoError(t, f.signedPush(t, ethFeed, ts, price(2000)))

	round, err := f.oracle.LatestRound(ethFeed)
	require.NoError(t, err)
	assert.Equal(t, ts, round.Timestamp)
	assert.Zero(t, round.Answer.Cmp(price(2000)))
}

func TestLatestRoundNeverPushed(t *testing.T) {
	f := newFixture(t)
	_, err := f.oracle.LatestRound(ethFeed)
	assert.ErrorIs(t, err, domain.ErrNoRound)
}

func TestPushRoundUnregisteredFeed(t *testing.T) {
	f := newFixture(t)
	err := f.signedPush(t, btcFeed, uint64(f.now.Unix()), price(40000))
	assert.ErrorIs(t, err, domain.ErrInvalidAggregator)
}

func TestPushRoundFutureTimestamp(t *testing.T) {
	// A future timestamp is rejected even with a perfectly valid signature.
	f := newFixture(t)
	err := f.signedPush(t, ethFeed, uint64(f.now.Unix())+100, price(2000))
	assert.ErrorIs(t, err, domain.ErrFutureTimestamp)
}

func TestPushRoundCrossFeedReplay(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.oracle.RegisterFeed(domain.Feed{
		ID: btcFeed, Decimals: 8, Description: "BTC/USD", Version: 1,
	}))

	ts := uint64(f.now.Unix())
	sig, err := f.signer.SignRound(ethFeed, ts, price(2000))
	require.NoError(t, err)

	err = f.oracle.PushRound(btcFeed, ts, price(2000), sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestPushRoundWrongSigner(t *testing.T) {
	f := newFixture(t)

	other, err := crypto.NewRoundSigner("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)

	ts := uint64(f.now.Unix())
	sig, err := other.SignRound(ethFeed, ts, price(2000))
	require.NoError(t, err)

	err = f.oracle.PushRound(ethFeed, ts, price(2000), sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestPushRoundGarbageSignature(t *testing.T) {
	f := newFixture(t)
	err := f.oracle.PushRound(ethFeed, uint64(f.now.Unix()), price(2000), []byte{0x00})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestPushRoundTimestampRegression(t *testing.T) {
	f := newFixture(t)
	ts := uint64(f.now.Unix())

	require.NoError(t, f.signedPush(t, ethFeed, ts, price(2000)))

	// Older round rejected.
	err := f.signedPush(t, ethFeed, ts-10, price(1990))
	assert.ErrorIs(t, err, domain.ErrStaleRound)

	// Equal timestamp overwrites.
	require.NoError(t, f.signedPush(t, ethFeed, ts, price(2010)))
	round, err := f.oracle.LatestRound(ethFeed)
	require.NoError(t, err)
	assert.Zero(t, round.Answer.Cmp(price(2010)))
}

func TestSetSignerRotates(t *testing.T) {
	f := newFixture(t)

	next, err := crypto.NewRoundSigner("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)
	f.oracle.SetSigner(next.Address())

	ts := uint64(f.now.Unix())

	// Old signer no longer accepted.
	oldSig, err := f.signer.SignRound(ethFeed, ts, price(2000))
	require.NoError(t, err)
	assert.ErrorIs(t, f.oracle.PushRound(ethFeed, ts, price(2000), oldSig), domain.ErrInvalidSignature)

	newSig, err := next.SignRound(ethFeed, ts, price(2000))
	require.NoError(t, err)
	require.NoError(t, f.oracle.PushRound(ethFeed, ts, price(2000), newSig))
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	ts := uint64(f.now.Unix())
	require.NoError(t, f.signedPush(t, ethFeed, ts, price(2000)))

	snap := f.oracle.Snapshot()
	require.NoError(t, f.signedPush(t, ethFeed, ts+5, price(2500)))
	f.oracle.Restore(snap)

	round, err := f.oracle.LatestRound(ethFeed)
	require.NoError(t, err)
	assert.Equal(t, ts, round.Timestamp)
	assert.Zero(t, round.Answer.Cmp(price(2000)))
}

func TestRegisterFeedTwice(t *testing.T) {
	f := newFixture(t)
	err := f.oracle.RegisterFeed(domain.Feed{ID: ethFeed, Decimals: 8})
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}
