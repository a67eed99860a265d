package memory

import (
	"context"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-zap-go/chains"
	"github.com/ethereum/go-ethereum/common"
)

// BalanceOf implements chains.TokenReader.
func (l *Ledger) BalanceOf(_ context.Context, token, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, account)), nil
}

// Allowance implements chains.TokenReader.
func (l *Ledger) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(token, owner, spender)), nil
}

// Decimals implements chains.TokenReader. Pair liquidity tokens report LPDecimals.
func (l *Ledger) Decimals(_ context.Context, token common.Address) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.tokenIndex.GetByAddress(token); ok {
		return t.Decimals, nil
	}
	if _, ok := l.poolIndex.GetByAddress(token); ok {
		return LPDecimals, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
}

// Approve implements chains.TokenLedger. It overwrites any previous allowance.
func (l *Ledger) Approve(_ context.Context, token, owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	byOwner, ok := l.allowances[token]
	if !ok {
		byOwner = make(map[allowanceKey]*big.Int)
		l.allowances[token] = byOwner
	}
	byOwner[allowanceKey{owner: owner, spender: spender}] = new(big.Int).Set(amount)
	return nil
}

// Transfer implements chains.TokenLedger.
func (l *Ledger) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkBalance(token, from, amount); err != nil {
		return err
	}
	l.move(token, from, to, amount)
	return nil
}

// TransferFrom implements chains.TokenLedger. The spender's allowance is
// reduced by amount unless the spender is the owner.
func (l *Ledger) TransferFrom(_ context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkPull(token, spender, from, amount); err != nil {
		return err
	}
	l.pull(token, spender, from, to, amount)
	return nil
}

// The helpers below must be called with l.mu held.

func (l *Ledger) balance(token, account common.Address) *big.Int {
	if b, ok := l.balances[token][account]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) setBalance(token, account common.Address, amount *big.Int) {
	byAccount, ok := l.balances[token]
	if !ok {
		byAccount = make(map[common.Address]*big.Int)
		l.balances[token] = byAccount
	}
	byAccount[account] = new(big.Int).Set(amount)
}

func (l *Ledger) credit(token, account common.Address, amount *big.Int) {
	l.setBalance(token, account, new(big.Int).Add(l.balance(token, account), amount))
}

func (l *Ledger) move(token, from, to common.Address, amount *big.Int) {
	l.setBalance(token, from, new(big.Int).Sub(l.balance(token, from), amount))
	l.credit(token, to, amount)
}

func (l *Ledger) allowance(token, owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[token][allowanceKey{owner: owner, spender: spender}]; ok {
		return a
	}
	return new(big.Int)
}

func (l *Ledger) checkBalance(token, account common.Address, amount *big.Int) error {
	if have := l.balance(token, account); have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", chains.ErrInsufficientBalance, account.Hex(), have, token.Hex(), amount)
	}
	return nil
}

// checkPull verifies that spender may move amount of from's tokens.
func (l *Ledger) checkPull(token, spender, from common.Address, amount *big.Int) error {
	if spender != from {
		if allowed := l.allowance(token, from, spender); allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s may spend %s of %s's %s, needs %s", chains.ErrInsufficientAllowance, spender.Hex(), allowed, from.Hex(), token.Hex(), amount)
		}
	}
	return l.checkBalance(token, from, amount)
}

// pull moves tokens on behalf of spender. checkPull must have succeeded.
func (l *Ledger) pull(token, spender, from, to common.Address, amount *big.Int) {
	if spender != from && amount.Sign() > 0 {
		remaining := new(big.Int).Sub(l.allowance(token, from, spender), amount)
		l.allowances[token][allowanceKey{owner: from, spender: spender}] = remaining
	}
	l.move(token, from, to, amount)
}
