package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known hardhat development key, safe to embed in tests.
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testKeyAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func newTestSigner(t *testing.T) *RoundSigner {
	t.Helper()
	s, err := NewRoundSigner(testKeyHex)
	require.NoError(t, err)
	return s
}

func TestRoundSignerAddress(t *testing.T) {
	s := newTestSigner(t)
	assert.Equal(t, common.HexToAddress(testKeyAddr), s.Address())
}

func TestNewRoundSignerAcceptsPrefix(t *testing.T) {
	s, err := NewRoundSigner("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testKeyAddr), s.Address())
}

func TestSignAndRecoverRound(t *testing.T) {
	s := newTestSigner(t)
	feed := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	answer := new(big.Int).Mul(big.NewInt(2000), big.NewInt(1e8))

	sig, err := s.SignRound(feed, 1_700_000_000, answer)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.GreaterOrEqual(t, sig[64], byte(27))

	recovered, err := RecoverRoundSigner(feed, 1_700_000_000, answer, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)
}

func TestRecoverRoundAcceptsRawRecoveryByte(t *testing.T) {
	s := newTestSigner(t)
	feed := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	answer := big.NewInt(42)

	sig, err := s.SignRound(feed, 100, answer)
	require.NoError(t, err)

	raw := make([]byte, len(sig))
	copy(raw, sig)
	raw[64] -= 27

	recovered, err := RecoverRoundSigner(feed, 100, answer, raw)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)
}

func TestRecoverRoundCrossFeedMismatch(t *testing.T) {
	// A signature issued for feed A must not recover to the signer when
	// replayed against feed B.
	s := newTestSigner(t)
	feedA := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	feedB := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	answer := big.NewInt(1_000_000)

	sig, err := s.SignRound(feedA, 500, answer)
	require.NoError(t, err)

	recovered, err := RecoverRoundSigner(feedB, 500, answer, sig)
	if err == nil {
		assert.NotEqual(t, s.Address(), recovered)
	}
}

func TestRecoverRoundTamperedFields(t *testing.T) {
	s := newTestSigner(t)
	feed := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	answer := big.NewInt(1_000_000)

	sig, err := s.SignRound(feed, 500, answer)
	require.NoError(t, err)

	for name, tamper := range map[string]func() (uint64, *big.Int){
		"timestamp": func() (uint64, *big.Int) { return 501, answer },
		"answer":    func() (uint64, *big.Int) { return 500, big.NewInt(1_000_001) },
	} {
		ts, ans := tamper()
		recovered, err := RecoverRoundSigner(feed, ts, ans, sig)
		if err == nil {
			assert.NotEqual(t, s.Address(), recovered, "tampered %s must not verify", name)
		}
	}
}

func TestRoundDigestNegativeAnswer(t *testing.T) {
	// Negative answers are encoded as two's-complement int256, so the digest
	// of a negative price must differ from its absolute value and from zero,
	// and signing must round-trip.
	feed := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	neg := RoundDigest(feed, 1, big.NewInt(-5))
	pos := RoundDigest(feed, 1, big.NewInt(5))
	zero := RoundDigest(feed, 1, big.NewInt(0))
	assert.NotEqual(t, neg, pos)
	assert.NotEqual(t, neg, zero)

	s := newTestSigner(t)
	sig, err := s.SignRound(feed, 1, big.NewInt(-5))
	require.NoError(t, err)
	recovered, err := RecoverRoundSigner(feed, 1, big.NewInt(-5), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)
}

func TestRoundDigestDoesNotMutateAnswer(t *testing.T) {
	feed := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	answer := big.NewInt(-123)
	RoundDigest(feed, 1, answer)
	assert.Equal(t, int64(-123), answer.Int64())
}

func TestRecoverRoundRejectsBadLength(t *testing.T) {
	feed := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	_, err := RecoverRoundSigner(feed, 1, big.NewInt(1), []byte{0x01, 0x02})
	require.Error(t, err)
}
