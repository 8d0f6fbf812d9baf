// Package token abstracts the ERC-20-style collateral token behind the
// standard transfer/approve/balance surface the reserve ledger consumes.
package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the collateral interface. The engine never depends on anything
// beyond these four operations.
type Token interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)

	// Transfer moves amount from the holder's own balance to another
	// account. In the on-chain adapter the holder is the pool key.
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount from an account that previously approved
	// the spender.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error

	// Approve grants spender the right to pull up to amount from owner.
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
}
