// Package domain defines the core types, error taxonomy, and storage
// interfaces shared by the settlement engine components.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Precision is the fixed-point scale for multiplier and fraction
// parameters: 10000 == 1.0000x.
const Precision uint64 = 10_000

// PrecisionBig returns Precision as a big.Int for fixed-point math.
func PrecisionBig() *big.Int { return big.NewInt(int64(Precision)) }

// RequiredFeedDecimals is the only price-decimals value a feed may carry
// while enabled. Strikes and settlement answers are compared raw, so every
// enabled feed must quote on the same scale.
const RequiredFeedDecimals uint8 = 8

// Feed is a registered price source. Its identity is the 20-byte address
// every signed round must name; decimals are fixed at registration.
type Feed struct {
	ID          common.Address
	Decimals    uint8
	Description string
	Version     uint64
}

// FeedConfig holds the per-feed risk parameters, created and updated only
// through the admin path and read on every open and close.
type FeedConfig struct {
	MinimumDeposit       *big.Int
	PayoutMultiplier     uint64 // Precision base; Precision < m <= 2*Precision
	MinimumDuration      uint64 // seconds
	MaximumDuration      uint64 // seconds
	PriceExpiryThreshold uint64 // seconds
	FeeFraction          uint64 // Precision base
	Enabled              bool
}

// Validate checks the invariants the admin path enforces before a config
// may be stored. Decimals are checked separately against the feed registry
// because disabling a feed is allowed regardless of decimals.
func (c FeedConfig) Validate() error {
	if c.PayoutMultiplier <= Precision || c.PayoutMultiplier > 2*Precision {
		return ErrInvalidPayoutMultiplier
	}
	if c.MinimumDuration > c.MaximumDuration {
		return ErrMinDurationOverMax
	}
	if c.FeeFraction > Precision {
		return ErrInvalidFeeFraction
	}
	return nil
}
