// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package staker

import (
	"math/big"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/staker/reverts"
)

// Ledger is the token custody boundary. Debit moves tokens from an account
// into staking custody, Credit releases them back. The staking core never
// mints or burns.
type Ledger interface {
	Debit(account kestrel.Address, amount *big.Int) error
	Credit(account kestrel.Address, amount *big.Int)
}

// MemLedger is an in-memory account ledger, used by solo mode and tests.
type MemLedger struct {
	balances map[kestrel.Address]*big.Int
}

// NewMemLedger creates an empty ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[kestrel.Address]*big.Int)}
}

// Mint credits freshly created tokens to an account.
func (l *MemLedger) Mint(account kestrel.Address, amount *big.Int) {
	l.Credit(account, amount)
}

// BalanceOf returns the account's free balance.
func (l *MemLedger) BalanceOf(account kestrel.Address) *big.Int {
	if balance, ok := l.balances[account]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

func (l *MemLedger) Debit(account kestrel.Address, amount *big.Int) error {
	balance, ok := l.balances[account]
	if !ok || balance.Cmp(amount) < 0 {
		return reverts.ErrInsufficientFunds
	}
	balance.Sub(balance, amount)
	return nil
}

func (l *MemLedger) Credit(account kestrel.Address, amount *big.Int) {
	balance, ok := l.balances[account]
	if !ok {
		balance = new(big.Int)
		l.balances[account] = balance
	}
	balance.Add(balance, amount)
}
