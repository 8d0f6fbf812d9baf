package token

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
)

// Memory is an in-process token ledger with ERC-20 semantics, used in local
// mode and in tests. It participates in sequencer rollback via
// Snapshot/Restore so a failed settlement leaves no half-applied transfer.
type Memory struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewMemory creates an empty in-memory token ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits amount to account out of thin air.
func (m *Memory) Mint(account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = new(big.Int).Add(m.balance(account), amount)
}

func (m *Memory) balance(account common.Address) *big.Int {
	if b, ok := m.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func (m *Memory) allowance(owner, spender common.Address) *big.Int {
	if byOwner, ok := m.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}

// BalanceOf returns the current balance of account.
func (m *Memory) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balance(account)), nil
}

// Transfer moves amount from from's own balance to to.
func (m *Memory) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, amount)
}

// TransferFrom moves amount from from to to, consuming spender's allowance.
func (m *Memory) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if spender != from {
		allowed := m.allowance(from, spender)
		if allowed.Cmp(amount) < 0 {
			return domain.ErrInsufficientAllowance
		}
		m.allowances[from][spender] = new(big.Int).Sub(allowed, amount)
	}
	return m.move(from, to, amount)
}

// Approve grants spender an allowance of amount over owner's balance.
func (m *Memory) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[common.Address]*big.Int)
	}
	m.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

func (m *Memory) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return domain.ErrInsufficientBalance
	}
	bal := m.balance(from)
	if bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	m.balances[from] = new(big.Int).Sub(bal, amount)
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

// memorySnapshot is a deep copy of the ledger state.
type memorySnapshot struct {
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// Snapshot captures the full ledger state for transactional rollback.
func (m *Memory) Snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := memorySnapshot{
		balances:   make(map[common.Address]*big.Int, len(m.balances)),
		allowances: make(map[common.Address]map[common.Address]*big.Int, len(m.allowances)),
	}
	for acct, bal := range m.balances {
		snap.balances[acct] = new(big.Int).Set(bal)
	}
	for owner, byOwner := range m.allowances {
		inner := make(map[common.Address]*big.Int, len(byOwner))
		for spender, a := range byOwner {
			inner[spender] = new(big.Int).Set(a)
		}
		snap.allowances[owner] = inner
	}
	return snap
}

// Restore reverts the ledger to a state captured by Snapshot.
func (m *Memory) Restore(state any) {
	snap := state.(memorySnapshot)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = snap.balances
	m.allowances = snap.allowances
}
