package relayer

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	roundsig "github.com/clearstrike/clearstrike/internal/crypto"
	"github.com/clearstrike/clearstrike/internal/domain"
)

// Well-known hardhat development key.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	feedBTC = common.HexToAddress("0x0000000000000000000000000000000000000101")
	feedETH = common.HexToAddress("0x0000000000000000000000000000000000000102")
)

type fakeSubmitter struct {
	relayer common.Address
	bundles [][]domain.RoundUpdate
	err     error
}

func (s *fakeSubmitter) PushRounds(_ context.Context, relayer common.Address, rounds []domain.RoundUpdate) error {
	if s.err != nil {
		return s.err
	}
	s.relayer = relayer
	s.bundles = append(s.bundles, rounds)
	return nil
}

func newTestRelayer(t *testing.T, sub Submitter) (*Relayer, *roundsig.RoundSigner) {
	t.Helper()
	signer, err := roundsig.NewRoundSigner(testKeyHex)
	require.NoError(t, err)

	r := New(Config{
		WSURL: "wss://example.invalid/ws",
		Bindings: []Binding{
			{Symbol: "BTCUSDT", Feed: feedBTC},
			{Symbol: "ETHUSDT", Feed: feedETH},
		},
		PushInterval: time.Second,
	}, signer, sub, nil, slog.Default())
	return r, signer
}

func TestPushLatestSignsObservedTicks(t *testing.T) {
	sub := &fakeSubmitter{}
	r, signer := newTestRelayer(t, sub)

	at := time.Unix(1_700_000_000, 0)
	r.Observe(Tick{Symbol: "BTCUSDT", Price: big.NewInt(60_000_0000_0000), At: at})
	r.Observe(Tick{Symbol: "ETHUSDT", Price: big.NewInt(3_000_0000_0000), At: at})

	require.NoError(t, r.PushLatest(context.Background()))
	require.Equal(t, signer.Address(), sub.relayer)
	require.Len(t, sub.bundles, 1)

	rounds := sub.bundles[0]
	require.Len(t, rounds, 2)
	require.Equal(t, feedBTC, rounds[0].Feed)
	require.Equal(t, uint64(1_700_000_000), rounds[0].Timestamp)
	require.Equal(t, big.NewInt(60_000_0000_0000), rounds[0].Answer)
	require.Nil(t, rounds[0].Acceptable)

	// Signatures must recover to the relayer's signing address.
	for _, ru := range rounds {
		recovered, err := roundsig.RecoverRoundSigner(ru.Feed, ru.Timestamp, ru.Answer, ru.Signature)
		require.NoError(t, err)
		require.Equal(t, signer.Address(), recovered)
	}
}

func TestPushLatestSkipsUnseenSymbols(t *testing.T) {
	sub := &fakeSubmitter{}
	r, _ := newTestRelayer(t, sub)

	r.Observe(Tick{Symbol: "BTCUSDT", Price: big.NewInt(60_000_0000_0000), At: time.Unix(1_700_000_000, 0)})

	require.NoError(t, r.PushLatest(context.Background()))
	require.Len(t, sub.bundles, 1)
	require.Len(t, sub.bundles[0], 1)
	require.Equal(t, feedBTC, sub.bundles[0][0].Feed)
}

func TestPushLatestNoTicksIsNoOp(t *testing.T) {
	sub := &fakeSubmitter{}
	r, _ := newTestRelayer(t, sub)

	require.NoError(t, r.PushLatest(context.Background()))
	require.Empty(t, sub.bundles)
}

func TestObserveKeepsNewestTick(t *testing.T) {
	sub := &fakeSubmitter{}
	r, _ := newTestRelayer(t, sub)

	r.Observe(Tick{Symbol: "BTCUSDT", Price: big.NewInt(61_000_0000_0000), At: time.Unix(1_700_000_100, 0)})
	// An older tick arriving out of order must not win.
	r.Observe(Tick{Symbol: "BTCUSDT", Price: big.NewInt(60_000_0000_0000), At: time.Unix(1_700_000_050, 0)})

	require.NoError(t, r.PushLatest(context.Background()))
	require.Len(t, sub.bundles, 1)
	require.Equal(t, big.NewInt(61_000_0000_0000), sub.bundles[0][0].Answer)
	require.Equal(t, uint64(1_700_000_100), sub.bundles[0][0].Timestamp)
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"60123.45", "6012345000000"},
		{"60123", "6012300000000"},
		{"0.00001234", "1234"},
		{"60123.456789012", "6012345678901"}, // extra digits truncated
	}
	for _, tc := range cases {
		got, err := parsePrice(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got.String(), tc.in)
	}

	_, err := parsePrice("")
	require.Error(t, err)
	_, err = parsePrice("abc")
	require.Error(t, err)
}
