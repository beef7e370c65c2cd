// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package pool implements per-validator delegation accounting: deposits and
// withdrawals are converted into shares against a pooled exchange rate, and
// exited-but-unclaimed funds live in a separate withdraw sub-pool with its
// own rate so they cannot dilute the main pool.
//
// A pool only mutates its own share ledger. It returns the stake movements
// it decided on; applying them to the registry and the token ledger is the
// caller's job.
package pool

import (
	"math/big"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/staker/reverts"
)

// Unbond is a delegator's pending withdrawal: shares in the withdraw
// sub-pool and the epoch the unstake was requested in. A delegator holds at
// most one open unbond; a new one overwrites the old.
type Unbond struct {
	Shares       *big.Int
	UnstakeEpoch uint32
}

// Purchase is the outcome of a Buy: the minted shares and the deposit
// amount after clamping to the share value.
type Purchase struct {
	Shares *big.Int
	Amount *big.Int
}

// Exit is the outcome of a Sell: the burned shares, the claim amount and
// whether the funds are released immediately instead of entering the
// withdraw sub-pool.
type Exit struct {
	Shares    *big.Int
	Amount    *big.Int
	Immediate bool
}

// Pool is the delegation pool of a single validator.
type Pool struct {
	totalShares *big.Int
	balances    map[kestrel.Address]*big.Int

	withdrawPool   *big.Int
	withdrawShares *big.Int
	unbonds        map[kestrel.Address]*Unbond

	// active delegator set with swap-remove-last removal;
	// the index map is 1-based, 0 means "not a member"
	delegators     []kestrel.Address
	delegatorIndex map[kestrel.Address]int
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		totalShares:    new(big.Int),
		balances:       make(map[kestrel.Address]*big.Int),
		withdrawPool:   new(big.Int),
		withdrawShares: new(big.Int),
		unbonds:        make(map[kestrel.Address]*Unbond),
		delegatorIndex: make(map[kestrel.Address]int),
	}
}

// TotalShares returns the outstanding main-pool share supply.
func (p *Pool) TotalShares() *big.Int {
	return new(big.Int).Set(p.totalShares)
}

// WithdrawPool returns the amount parked for pending claims.
func (p *Pool) WithdrawPool() *big.Int {
	return new(big.Int).Set(p.withdrawPool)
}

// WithdrawShares returns the share supply of the withdraw sub-pool.
func (p *Pool) WithdrawShares() *big.Int {
	return new(big.Int).Set(p.withdrawShares)
}

// Balance returns the delegator's main-pool shares.
func (p *Pool) Balance(delegator kestrel.Address) *big.Int {
	if balance, ok := p.balances[delegator]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

// StakeValue returns the current stake value of the delegator's shares.
func (p *Pool) StakeValue(delegator kestrel.Address, delegatedStake *big.Int) *big.Int {
	value := new(big.Int).Mul(p.Balance(delegator), p.ExchangeRate(delegatedStake))
	return value.Quo(value, kestrel.SharePrecision)
}

// Unbond returns the delegator's open unbond, if any.
func (p *Pool) Unbond(delegator kestrel.Address) (*Unbond, bool) {
	unbond, ok := p.unbonds[delegator]
	if !ok {
		return nil, false
	}
	return &Unbond{Shares: new(big.Int).Set(unbond.Shares), UnstakeEpoch: unbond.UnstakeEpoch}, true
}

// IsDelegator returns whether the principal is in the active set.
func (p *Pool) IsDelegator(delegator kestrel.Address) bool {
	return p.delegatorIndex[delegator] != 0
}

// Delegators returns the active delegator set. Order is not meaningful.
func (p *Pool) Delegators() []kestrel.Address {
	return append([]kestrel.Address(nil), p.delegators...)
}

// ExchangeRate converts between shares and stake at SharePrecision scale.
// An empty pool trades at the unit rate.
func (p *Pool) ExchangeRate(delegatedStake *big.Int) *big.Int {
	if p.totalShares.Sign() == 0 {
		return new(big.Int).Set(kestrel.SharePrecision)
	}
	rate := new(big.Int).Mul(delegatedStake, kestrel.SharePrecision)
	return rate.Quo(rate, p.totalShares)
}

// WithdrawExchangeRate is the independent rate of the withdraw sub-pool.
func (p *Pool) WithdrawExchangeRate() *big.Int {
	if p.withdrawShares.Sign() == 0 {
		return new(big.Int).Set(kestrel.SharePrecision)
	}
	rate := new(big.Int).Mul(p.withdrawPool, kestrel.SharePrecision)
	return rate.Quo(rate, p.withdrawShares)
}

// Buy mints shares for a deposit. The deposit is clamped down to the exact
// value of the minted shares so rounding never favors the pool; the clamped
// amount is what the caller must move into the registry and the ledger.
func (p *Pool) Buy(
	delegator kestrel.Address,
	delegatedStake *big.Int,
	amount *big.Int,
	minSharesToMint *big.Int,
) (*Purchase, error) {
	rate := p.ExchangeRate(delegatedStake)

	shares := new(big.Int).Mul(amount, kestrel.SharePrecision)
	shares.Quo(shares, rate)
	if shares.Cmp(minSharesToMint) < 0 {
		return nil, reverts.ErrSlippageTooHigh
	}
	if shares.Sign() == 0 {
		return nil, reverts.ErrZeroAmount
	}
	if _, ok := p.unbonds[delegator]; ok {
		return nil, reverts.ErrOngoingExit
	}

	clamped := new(big.Int).Mul(rate, shares)
	clamped.Quo(clamped, kestrel.SharePrecision)

	balance, ok := p.balances[delegator]
	if !ok {
		balance = new(big.Int)
		p.balances[delegator] = balance
	}
	balance.Add(balance, shares)
	p.totalShares.Add(p.totalShares, shares)
	p.register(delegator)

	return &Purchase{Shares: shares, Amount: clamped}, nil
}

// Sell burns shares worth claimAmount. When the caller says the validator
// is immediately withdrawable (out of quorum and past the delay), the claim
// bypasses the withdraw sub-pool entirely. Otherwise the amount moves into
// the sub-pool and the delegator's unbond record is overwritten with the
// freshly minted sub-pool shares and the current epoch.
func (p *Pool) Sell(
	delegator kestrel.Address,
	delegatedStake *big.Int,
	claimAmount *big.Int,
	maxSharesToBurn *big.Int,
	currentEpoch uint32,
	immediate bool,
) (*Exit, error) {
	rate := p.ExchangeRate(delegatedStake)
	balance := p.Balance(delegator)

	value := new(big.Int).Mul(balance, rate)
	value.Quo(value, kestrel.SharePrecision)
	if value.Cmp(claimAmount) < 0 {
		return nil, reverts.ErrInsufficientStake
	}

	shares := new(big.Int).Mul(claimAmount, kestrel.SharePrecision)
	shares.Quo(shares, rate)
	if shares.Cmp(maxSharesToBurn) > 0 {
		return nil, reverts.ErrSlippageTooHigh
	}
	if shares.Sign() == 0 {
		return nil, reverts.ErrZeroAmount
	}

	// burn
	balance = p.balances[delegator]
	balance.Sub(balance, shares)
	if balance.Sign() == 0 {
		delete(p.balances, delegator)
	}
	p.totalShares.Sub(p.totalShares, shares)

	if immediate {
		if p.Balance(delegator).Sign() == 0 {
			if _, open := p.unbonds[delegator]; !open {
				p.deregister(delegator)
			}
		}
		return &Exit{Shares: shares, Amount: claimAmount, Immediate: true}, nil
	}

	withdrawRate := p.WithdrawExchangeRate()
	withdrawShares := new(big.Int).Mul(claimAmount, kestrel.SharePrecision)
	withdrawShares.Quo(withdrawShares, withdrawRate)

	p.withdrawPool.Add(p.withdrawPool, claimAmount)
	p.withdrawShares.Add(p.withdrawShares, withdrawShares)
	p.unbonds[delegator] = &Unbond{Shares: withdrawShares, UnstakeEpoch: currentEpoch}

	return &Exit{Shares: shares, Amount: claimAmount, Immediate: false}, nil
}

// Claim pays out the delegator's open unbond at the withdraw sub-pool rate
// and clears the record. Eligibility gating is the caller's responsibility;
// Claim only refuses when there is nothing to claim.
func (p *Pool) Claim(delegator kestrel.Address) (*big.Int, error) {
	unbond, ok := p.unbonds[delegator]
	if !ok {
		return nil, reverts.ErrNothingToClaim
	}

	payout := new(big.Int).Mul(unbond.Shares, p.WithdrawExchangeRate())
	payout.Quo(payout, kestrel.SharePrecision)
	if payout.Cmp(p.withdrawPool) > 0 {
		payout.Set(p.withdrawPool)
	}

	p.withdrawPool.Sub(p.withdrawPool, payout)
	p.withdrawShares.Sub(p.withdrawShares, unbond.Shares)
	delete(p.unbonds, delegator)

	if p.Balance(delegator).Sign() == 0 {
		p.deregister(delegator)
	}

	return payout, nil
}

// register adds the delegator to the active set. Idempotent.
func (p *Pool) register(delegator kestrel.Address) {
	if p.delegatorIndex[delegator] != 0 {
		return
	}
	p.delegators = append(p.delegators, delegator)
	p.delegatorIndex[delegator] = len(p.delegators)
}

// deregister removes the delegator with swap-remove-last.
func (p *Pool) deregister(delegator kestrel.Address) {
	index := p.delegatorIndex[delegator]
	if index == 0 {
		return
	}

	last := len(p.delegators)
	if index != last {
		moved := p.delegators[last-1]
		p.delegators[index-1] = moved
		p.delegatorIndex[moved] = index
	}
	p.delegators = p.delegators[:last-1]
	delete(p.delegatorIndex, delegator)
}
