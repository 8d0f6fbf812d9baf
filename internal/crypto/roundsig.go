// Package crypto implements the oracle round signature scheme and key
// management for the settlement engine's trusted signer.
package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// personalPrefix is the Ethereum signed-message prefix for a 32-byte digest.
var personalPrefix = []byte("\x19Ethereum Signed Message:\n32")

// RoundDigest hashes the canonical byte layout of a signed round:
//
//	keccak256(feed address ‖ uint256(timestamp) ‖ int256(answer))
//
// The concatenation order and widths are a compatibility-sensitive wire
// format: changing either invalidates every previously issued signature.
func RoundDigest(feed common.Address, timestamp uint64, answer *big.Int) []byte {
	buf := make([]byte, 0, common.AddressLength+64)
	buf = append(buf, feed.Bytes()...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(timestamp).Bytes(), 32)...)
	// U256Bytes gives the two's-complement encoding for negative answers.
	buf = append(buf, math.U256Bytes(new(big.Int).Set(answer))...)
	return ethcrypto.Keccak256(buf)
}

// signDigest applies the personal-message prefix to a 32-byte round digest.
func signedRoundDigest(digest []byte) []byte {
	return ethcrypto.Keccak256(personalPrefix, digest)
}

// RecoverRoundSigner verifies a 65-byte signature over the canonical round
// encoding and returns the signer address. It is a pure function of its
// inputs, independent of any stored state.
func RecoverRoundSigner(feed common.Address, timestamp uint64, answer *big.Int, signature []byte) (common.Address, error) {
	if len(signature) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto: signature must be %d bytes, got %d", ethcrypto.SignatureLength, len(signature))
	}

	// Accept both v in {0,1} and the Ethereum convention {27,28}.
	sig := make([]byte, ethcrypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := signedRoundDigest(RoundDigest(feed, timestamp, answer))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover round signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RoundSigner produces oracle round signatures with a local secp256k1 key.
// It is the relayer-side counterpart of RecoverRoundSigner.
type RoundSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewRoundSigner creates a RoundSigner from a hex-encoded secp256k1 private
// key, with or without 0x prefix.
func NewRoundSigner(privateKeyHex string) (*RoundSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &RoundSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the signer address derived from the private key.
func (s *RoundSigner) Address() common.Address {
	return s.address
}

// SignRound signs the canonical round encoding and returns a 65-byte
// signature with the recovery byte in the {27,28} convention.
func (s *RoundSigner) SignRound(feed common.Address, timestamp uint64, answer *big.Int) ([]byte, error) {
	digest := signedRoundDigest(RoundDigest(feed, timestamp, answer))
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign round: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
