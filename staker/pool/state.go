// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"
	"sort"

	"github.com/kestrel-chain/kestrel/kestrel"
)

// State is the serializable form of a pool, used by the snapshot layer.
// Delegators are kept in active-set order so the swap-remove indices
// survive a round trip.
type State struct {
	TotalShares    *big.Int
	WithdrawPool   *big.Int
	WithdrawShares *big.Int
	Delegators     []DelegatorState
	Unbonds        []UnbondState
}

// DelegatorState is one active delegator with its main-pool shares. Shares
// may be zero while an unbond is still open.
type DelegatorState struct {
	Delegator kestrel.Address
	Shares    *big.Int
}

// UnbondState is one open unbond.
type UnbondState struct {
	Delegator    kestrel.Address
	Shares       *big.Int
	UnstakeEpoch uint32
}

// State exports the pool for persistence.
func (p *Pool) State() *State {
	state := &State{
		TotalShares:    new(big.Int).Set(p.totalShares),
		WithdrawPool:   new(big.Int).Set(p.withdrawPool),
		WithdrawShares: new(big.Int).Set(p.withdrawShares),
	}
	for _, delegator := range p.delegators {
		state.Delegators = append(state.Delegators, DelegatorState{
			Delegator: delegator,
			Shares:    p.Balance(delegator),
		})
	}
	for delegator, unbond := range p.unbonds {
		state.Unbonds = append(state.Unbonds, UnbondState{
			Delegator:    delegator,
			Shares:       new(big.Int).Set(unbond.Shares),
			UnstakeEpoch: unbond.UnstakeEpoch,
		})
	}
	sort.Slice(state.Unbonds, func(i, j int) bool {
		return state.Unbonds[i].Delegator.Cmp(state.Unbonds[j].Delegator) < 0
	})
	return state
}

// NewFromState rebuilds a pool from a persisted state.
func NewFromState(state *State) *Pool {
	p := New()
	p.totalShares.Set(state.TotalShares)
	p.withdrawPool.Set(state.WithdrawPool)
	p.withdrawShares.Set(state.WithdrawShares)
	for _, ds := range state.Delegators {
		p.register(ds.Delegator)
		if ds.Shares.Sign() > 0 {
			p.balances[ds.Delegator] = new(big.Int).Set(ds.Shares)
		}
	}
	for _, us := range state.Unbonds {
		p.unbonds[us.Delegator] = &Unbond{
			Shares:       new(big.Int).Set(us.Shares),
			UnstakeEpoch: us.UnstakeEpoch,
		}
	}
	return p
}
