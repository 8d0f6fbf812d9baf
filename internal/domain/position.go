package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus tracks whether a position is open or settled.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is one binary-option position. The registry is append-only:
// ids are assigned monotonically, never reused, and closing flips Status in
// place so the entry survives as settlement history.
type Position struct {
	ID       uint64
	Owner    common.Address
	Feed     common.Address
	Strike   *big.Int // round answer copied at open
	Deposit  *big.Int
	IsCall   bool
	OpenedAt uint64 // unix seconds
	Duration uint64 // seconds
	// Multiplier is the effective payout multiplier locked at open
	// (Precision base). It is captured so settlement and exposure release
	// are immune to later config changes.
	Multiplier uint64
	Status     PositionStatus

	// Settlement fields, populated on close.
	ClosedAt    uint64
	SettlePrice *big.Int
	Payout      *big.Int // net amount paid to the owner; zero when out of the money
	Fee         *big.Int
}

// Exposure returns the full payout the pool must be able to cover for this
// position: deposit * multiplier / Precision.
func (p Position) Exposure() *big.Int {
	e := new(big.Int).Mul(p.Deposit, new(big.Int).SetUint64(p.Multiplier))
	return e.Quo(e, PrecisionBig())
}

// InTheMoney reports whether settling at answer pays out. Equality is
// unfavorable in both directions.
func (p Position) InTheMoney(answer *big.Int) bool {
	cmp := answer.Cmp(p.Strike)
	if p.IsCall {
		return cmp > 0
	}
	return cmp < 0
}

// OpenRequest carries the caller-supplied parameters of Market.Open. When
// Beneficiary is the zero address the position is owned by the caller.
type OpenRequest struct {
	Feed        common.Address
	Duration    uint64
	IsCall      bool
	Deposit     *big.Int
	Beneficiary common.Address
}
