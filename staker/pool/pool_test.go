// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/staker/reverts"
)

func delegator(n byte) kestrel.Address {
	return kestrel.BytesToAddress([]byte{n})
}

func Test_Pool_Buy_FirstDepositAtUnitRate(t *testing.T) {
	p := New()

	purchase, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(1000), purchase.Shares)
	assert.Equal(t, big.NewInt(1000), purchase.Amount)
	assert.Equal(t, big.NewInt(1000), p.TotalShares())
	assert.Equal(t, big.NewInt(1000), p.Balance(delegator(1)))
	assert.True(t, p.IsDelegator(delegator(1)))
}

func Test_Pool_Buy_SecondDepositAtPoolRate(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	// the pool's backing doubled without new shares, so the rate is 2x
	delegatedStake := big.NewInt(2000)
	purchase, err := p.Buy(delegator(2), delegatedStake, big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(500), purchase.Shares)
	assert.Equal(t, big.NewInt(1000), purchase.Amount)
	assert.Equal(t, big.NewInt(1500), p.TotalShares())
}

func Test_Pool_Buy_ClampsDepositToShareValue(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	// rate 3000/1000 = 3: a deposit of 1000 mints 333 shares worth 999
	purchase, err := p.Buy(delegator(2), big.NewInt(3000), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(333), purchase.Shares)
	assert.Equal(t, big.NewInt(999), purchase.Amount)
}

func Test_Pool_Buy_SlippageFloor(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), big.NewInt(1001))
	assert.ErrorIs(t, err, reverts.ErrSlippageTooHigh)
	assert.Equal(t, 0, p.TotalShares().Sign())
	assert.False(t, p.IsDelegator(delegator(1)))
}

func Test_Pool_Buy_ZeroShares(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), new(big.Int), new(big.Int))
	assert.ErrorIs(t, err, reverts.ErrZeroAmount)
}

func Test_Pool_Buy_OngoingExit(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)
	_, err = p.Sell(delegator(1), big.NewInt(1000), big.NewInt(400), big.NewInt(400), 1, false)
	require.NoError(t, err)

	_, err = p.Buy(delegator(1), big.NewInt(600), big.NewInt(100), new(big.Int))
	assert.ErrorIs(t, err, reverts.ErrOngoingExit)
}

func Test_Pool_Sell_QueuesUnbond(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	exit, err := p.Sell(delegator(1), big.NewInt(1000), big.NewInt(400), big.NewInt(400), 7, false)
	require.NoError(t, err)
	assert.False(t, exit.Immediate)
	assert.Equal(t, big.NewInt(400), exit.Shares)
	assert.Equal(t, big.NewInt(400), exit.Amount)

	assert.Equal(t, big.NewInt(600), p.TotalShares())
	assert.Equal(t, big.NewInt(600), p.Balance(delegator(1)))
	assert.Equal(t, big.NewInt(400), p.WithdrawPool())

	unbond, ok := p.Unbond(delegator(1))
	require.True(t, ok)
	assert.Equal(t, big.NewInt(400), unbond.Shares)
	assert.Equal(t, uint32(7), unbond.UnstakeEpoch)

	// still active while the unbond is open
	assert.True(t, p.IsDelegator(delegator(1)))
}

func Test_Pool_Sell_InsufficientStake(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	_, err = p.Sell(delegator(1), big.NewInt(1000), big.NewInt(1001), big.NewInt(2000), 1, false)
	assert.ErrorIs(t, err, reverts.ErrInsufficientStake)

	// a stranger owns no shares at all
	_, err = p.Sell(delegator(2), big.NewInt(1000), big.NewInt(1), big.NewInt(10), 1, false)
	assert.ErrorIs(t, err, reverts.ErrInsufficientStake)
}

func Test_Pool_Sell_SlippageCap(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	_, err = p.Sell(delegator(1), big.NewInt(1000), big.NewInt(400), big.NewInt(399), 1, false)
	assert.ErrorIs(t, err, reverts.ErrSlippageTooHigh)
	assert.Equal(t, big.NewInt(1000), p.Balance(delegator(1)))
}

func Test_Pool_Sell_OverwritesOpenUnbond(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	_, err = p.Sell(delegator(1), big.NewInt(1000), big.NewInt(300), big.NewInt(300), 1, false)
	require.NoError(t, err)
	_, err = p.Sell(delegator(1), big.NewInt(700), big.NewInt(200), big.NewInt(200), 2, false)
	require.NoError(t, err)

	// the record reflects only the second sell
	unbond, ok := p.Unbond(delegator(1))
	require.True(t, ok)
	assert.Equal(t, big.NewInt(200), unbond.Shares)
	assert.Equal(t, uint32(2), unbond.UnstakeEpoch)

	// both amounts entered the sub-pool
	assert.Equal(t, big.NewInt(500), p.WithdrawPool())
	assert.Equal(t, big.NewInt(500), p.WithdrawShares())
}

func Test_Pool_Sell_ImmediateBypassesSubPool(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)

	exit, err := p.Sell(delegator(1), big.NewInt(1000), big.NewInt(1000), big.NewInt(1000), 3, true)
	require.NoError(t, err)
	assert.True(t, exit.Immediate)

	assert.Equal(t, 0, p.WithdrawPool().Sign())
	_, open := p.Unbond(delegator(1))
	assert.False(t, open)

	// full exit dropped the delegator from the active set
	assert.False(t, p.IsDelegator(delegator(1)))
	assert.Equal(t, 0, p.TotalShares().Sign())
}

func Test_Pool_Claim(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)
	_, err = p.Sell(delegator(1), big.NewInt(1000), big.NewInt(1000), big.NewInt(1000), 1, false)
	require.NoError(t, err)

	payout, err := p.Claim(delegator(1))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), payout)

	assert.Equal(t, 0, p.WithdrawPool().Sign())
	assert.Equal(t, 0, p.WithdrawShares().Sign())
	assert.False(t, p.IsDelegator(delegator(1)))

	_, err = p.Claim(delegator(1))
	assert.ErrorIs(t, err, reverts.ErrNothingToClaim)
}

func Test_Pool_Claim_NothingToClaim(t *testing.T) {
	p := New()

	_, err := p.Claim(delegator(1))
	assert.ErrorIs(t, err, reverts.ErrNothingToClaim)
}

func Test_Pool_DelegatorSet_SwapRemove(t *testing.T) {
	p := New()

	for n := byte(1); n <= 4; n++ {
		_, err := p.Buy(delegator(n), p.TotalShares(), big.NewInt(100), new(big.Int))
		require.NoError(t, err)
	}
	require.Len(t, p.Delegators(), 4)

	// full immediate exit of the second delegator moves the last one into its slot
	_, err := p.Sell(delegator(2), p.TotalShares(), big.NewInt(100), big.NewInt(100), 1, true)
	require.NoError(t, err)

	set := p.Delegators()
	assert.Equal(t, []kestrel.Address{delegator(1), delegator(4), delegator(3)}, set)
	assert.False(t, p.IsDelegator(delegator(2)))
	assert.True(t, p.IsDelegator(delegator(4)))
}

func Test_Pool_Conservation(t *testing.T) {
	p := New()

	// pool value always equals delegatedStake tracked outside, so walk a
	// buy/sell/claim sequence and keep the two in lockstep
	delegatedStake := new(big.Int)

	buy := func(n byte, amount int64) {
		purchase, err := p.Buy(delegator(n), delegatedStake, big.NewInt(amount), new(big.Int))
		require.NoError(t, err)
		delegatedStake.Add(delegatedStake, purchase.Amount)
	}
	sell := func(n byte, amount int64, epoch uint32) {
		exit, err := p.Sell(delegator(n), delegatedStake, big.NewInt(amount), delegatedStake, epoch, false)
		require.NoError(t, err)
		delegatedStake.Sub(delegatedStake, exit.Amount)
	}

	buy(1, 1000)
	buy(2, 3000)
	sell(1, 500, 1)
	buy(3, 1234)
	sell(2, 2999, 2)
	sell(3, 1000, 3)

	// every delegator's share value plus the sub-pool adds back up
	total := new(big.Int).Set(p.WithdrawPool())
	for _, d := range p.Delegators() {
		total.Add(total, p.StakeValue(d, delegatedStake))
	}
	assert.True(t, total.Cmp(new(big.Int).Add(delegatedStake, p.WithdrawPool())) <= 0)

	// shares never go negative
	assert.True(t, p.TotalShares().Sign() >= 0)
	assert.True(t, p.WithdrawShares().Sign() >= 0)
}

func Test_Pool_State_RoundTrip(t *testing.T) {
	p := New()

	_, err := p.Buy(delegator(1), new(big.Int), big.NewInt(1000), new(big.Int))
	require.NoError(t, err)
	_, err = p.Buy(delegator(2), big.NewInt(1000), big.NewInt(500), new(big.Int))
	require.NoError(t, err)
	_, err = p.Sell(delegator(1), big.NewInt(1500), big.NewInt(400), big.NewInt(400), 5, false)
	require.NoError(t, err)

	restored := NewFromState(p.State())

	assert.Equal(t, p.TotalShares(), restored.TotalShares())
	assert.Equal(t, p.WithdrawPool(), restored.WithdrawPool())
	assert.Equal(t, p.WithdrawShares(), restored.WithdrawShares())
	assert.Equal(t, p.Delegators(), restored.Delegators())
	assert.Equal(t, p.Balance(delegator(1)), restored.Balance(delegator(1)))
	assert.Equal(t, p.Balance(delegator(2)), restored.Balance(delegator(2)))

	unbond, ok := restored.Unbond(delegator(1))
	require.True(t, ok)
	assert.Equal(t, big.NewInt(400), unbond.Shares)
	assert.Equal(t, uint32(5), unbond.UnstakeEpoch)
}
