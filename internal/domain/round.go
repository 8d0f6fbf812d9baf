package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Round is a single authenticated price observation for a feed. The oracle
// keeps exactly one per feed, overwritten in place by newer pushes.
type Round struct {
	Timestamp uint64   // unix seconds, signer-attested
	Answer    *big.Int // signed fixed-point price at the feed's decimals
}

// Clone returns a deep copy so snapshots never alias a stored answer.
func (r Round) Clone() Round {
	return Round{Timestamp: r.Timestamp, Answer: new(big.Int).Set(r.Answer)}
}

// RoundUpdate is one entry of a bundled price refresh: the signed round
// fields plus the caller's slippage guard. For a call the pushed answer must
// not exceed Acceptable; for a put it must not fall below it.
type RoundUpdate struct {
	Feed       common.Address
	Timestamp  uint64
	Answer     *big.Int
	Signature  []byte
	Acceptable *big.Int
	IsCall     bool
}
