// Package token implements an in-process ERC-20-style ledger for the fan
// token used as staking currency. It enforces the standard balance and
// allowance semantics the settlement ledger relies on: a bettor must approve
// the market address before the market can pull a stake.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
)

// Ledger holds balances and allowances for one fungible token.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewLedger creates an empty ledger for the token with the given symbol.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Symbol returns the token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Mint credits amount to the owner. Used to seed balances from deposits.
func (l *Ledger) Mint(owner common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(owner, amount)
}

// BalanceOf returns the owner's balance.
func (l *Ledger) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// Allowance returns how much spender may still pull from owner.
func (l *Ledger) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[owner][spender]; ok {
		return new(big.Int).Set(a), nil
	}
	return big.NewInt(0), nil
}

// Approve sets the spender's allowance over the owner's funds.
func (l *Ledger) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount from `from` to `to` on behalf of spender,
// consuming spender's allowance. Insufficient allowance or balance rejects
// without any state change.
func (l *Ledger) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed, ok := l.allowances[from][spender]
	if !ok || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("token: %s spending for %s: %w", spender.Hex(), from.Hex(), domain.ErrInsufficientAllowance)
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

// move debits from and credits to. Caller holds the lock.
func (l *Ledger) move(from, to common.Address, amount *big.Int) error {
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("token: %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

// credit adds amount to the owner's balance. Caller holds the lock.
func (l *Ledger) credit(owner common.Address, amount *big.Int) {
	if b, ok := l.balances[owner]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[owner] = new(big.Int).Set(amount)
}

// Compile-time interface check.
var _ domain.TokenLedger = (*Ledger)(nil)
