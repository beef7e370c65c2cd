// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/staker/reverts"
)

func addr(n byte) kestrel.Address {
	return kestrel.BytesToAddress([]byte{n})
}

func signer(n byte) kestrel.Address {
	return kestrel.BytesToAddress([]byte{0xff, n})
}

func mustInsert(t *testing.T, r *Registry, n byte, own int64) {
	t.Helper()
	require.NoError(t, r.Insert(addr(n), signer(n), big.NewInt(own), new(big.Int), nil, nil))
}

func ranking(r *Registry) []byte {
	var out []byte
	for _, id := range r.All() {
		out = append(out, id[19])
	}
	return out
}

func Test_Registry_Insert_Ordering(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 1000)
	mustInsert(t, r, 2, 3000)
	mustInsert(t, r, 3, 2000)
	mustInsert(t, r, 4, 4000)

	assert.Equal(t, []byte{4, 2, 3, 1}, ranking(r))
	assert.Equal(t, addr(4), *r.First())
	assert.Equal(t, addr(1), *r.Last())
	assert.Equal(t, 4, r.Size())
}

func Test_Registry_Insert_TiesKeepInsertionOrder(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 2000)
	mustInsert(t, r, 2, 2000)
	mustInsert(t, r, 3, 2000)

	assert.Equal(t, []byte{1, 2, 3}, ranking(r))
}

func Test_Registry_Insert_Duplicate(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 1000)
	err := r.Insert(addr(1), signer(1), big.NewInt(500), new(big.Int), nil, nil)
	assert.ErrorIs(t, err, reverts.ErrAlreadyPresent)

	// rejected call left the registry untouched
	entry, err := r.Get(addr(1))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), entry.OwnStake)
}

func Test_Registry_Insert_ZeroBacking(t *testing.T) {
	r := New()

	err := r.Insert(addr(1), signer(1), new(big.Int), new(big.Int), nil, nil)
	assert.ErrorIs(t, err, reverts.ErrZeroAmount)
	assert.Equal(t, 0, r.Size())
}

func Test_Registry_Insert_StaleHints(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 4000)
	mustInsert(t, r, 2, 3000)
	mustInsert(t, r, 3, 1000)

	// hint points at the tail but 2000 belongs between 3000 and 1000
	tail := addr(3)
	require.NoError(t, r.Insert(addr(4), signer(4), big.NewInt(2000), new(big.Int), &tail, nil))
	assert.Equal(t, []byte{1, 2, 4, 3}, ranking(r))

	// hint points at the head but 500 belongs at the tail
	head := addr(1)
	require.NoError(t, r.Insert(addr(5), signer(5), big.NewInt(500), new(big.Int), nil, &head))
	assert.Equal(t, []byte{1, 2, 4, 3, 5}, ranking(r))
}

func Test_Registry_Insert_ValidHint(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 4000)
	mustInsert(t, r, 2, 1000)

	prev, next := addr(1), addr(2)
	require.True(t, r.ValidInsertPosition(big.NewInt(2000), &prev, &next))
	require.NoError(t, r.Insert(addr(3), signer(3), big.NewInt(2000), new(big.Int), &prev, &next))
	assert.Equal(t, []byte{1, 3, 2}, ranking(r))
}

func Test_Registry_Remove(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 4000)
	mustInsert(t, r, 2, 3000)
	mustInsert(t, r, 3, 2000)

	// middle
	require.NoError(t, r.Remove(addr(2)))
	assert.Equal(t, []byte{1, 3}, ranking(r))

	// head
	require.NoError(t, r.Remove(addr(1)))
	assert.Equal(t, []byte{3}, ranking(r))
	assert.Equal(t, addr(3), *r.First())
	assert.Equal(t, addr(3), *r.Last())

	// last element
	require.NoError(t, r.Remove(addr(3)))
	assert.Nil(t, r.First())
	assert.Nil(t, r.Last())
	assert.Equal(t, 0, r.Size())
}

func Test_Registry_Remove_NonExistent(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 1000)
	assert.ErrorIs(t, r.Remove(addr(9)), reverts.ErrNotPresent)
	assert.Equal(t, []byte{1}, ranking(r))
}

func Test_Registry_UpdateAmount_Reposition(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 4000)
	mustInsert(t, r, 2, 3000)
	mustInsert(t, r, 3, 2000)
	mustInsert(t, r, 4, 1000)

	// move up
	require.NoError(t, r.UpdateAmount(addr(4), big.NewInt(3500), new(big.Int), nil, nil))
	assert.Equal(t, []byte{1, 4, 2, 3}, ranking(r))

	// move down
	require.NoError(t, r.UpdateAmount(addr(1), big.NewInt(2500), new(big.Int), nil, nil))
	assert.Equal(t, []byte{4, 2, 1, 3}, ranking(r))

	// unchanged total keeps a valid position
	require.NoError(t, r.UpdateAmount(addr(2), big.NewInt(3000), new(big.Int), nil, nil))
	assert.Equal(t, []byte{4, 2, 1, 3}, ranking(r))
}

func Test_Registry_UpdateAmount_TieLandsAfterEquals(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 3000)
	mustInsert(t, r, 2, 2000)
	mustInsert(t, r, 3, 1000)

	require.NoError(t, r.UpdateAmount(addr(3), big.NewInt(2000), new(big.Int), nil, nil))
	assert.Equal(t, []byte{1, 2, 3}, ranking(r))
}

func Test_Registry_UpdateAmount_Errors(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 1000)

	assert.ErrorIs(t, r.UpdateAmount(addr(9), big.NewInt(1), new(big.Int), nil, nil), reverts.ErrNotPresent)
	assert.ErrorIs(t, r.UpdateAmount(addr(1), new(big.Int), new(big.Int), nil, nil), reverts.ErrInvalidAmount)

	// the failed update left the entry in place
	entry, err := r.Get(addr(1))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), entry.OwnStake)
	assert.Equal(t, []byte{1}, ranking(r))
}

func Test_Registry_UpdateAmount_SplitsAttribution(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 1000)
	require.NoError(t, r.UpdateAmount(addr(1), big.NewInt(1000), big.NewInt(500), nil, nil))

	entry, err := r.Get(addr(1))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), entry.OwnStake)
	assert.Equal(t, big.NewInt(500), entry.DelegatedStake)
	assert.Equal(t, big.NewInt(1500), entry.TotalBacking())
}

func Test_Registry_Traversal(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 3000)
	mustInsert(t, r, 2, 2000)
	mustInsert(t, r, 3, 1000)

	next, err := r.Next(addr(1))
	require.NoError(t, err)
	assert.Equal(t, addr(2), *next)

	prev, err := r.Prev(addr(3))
	require.NoError(t, err)
	assert.Equal(t, addr(2), *prev)

	// ends of the list
	prev, err = r.Prev(addr(1))
	require.NoError(t, err)
	assert.Nil(t, prev)

	next, err = r.Next(addr(3))
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = r.Next(addr(9))
	assert.ErrorIs(t, err, reverts.ErrNotPresent)
	_, err = r.Prev(addr(9))
	assert.ErrorIs(t, err, reverts.ErrNotPresent)

	assert.True(t, r.Contains(addr(2)))
	assert.False(t, r.Contains(addr(9)))
}

func Test_Registry_ValidInsertPosition(t *testing.T) {
	r := New()

	// empty registry accepts only (nil, nil)
	assert.True(t, r.ValidInsertPosition(big.NewInt(100), nil, nil))

	mustInsert(t, r, 1, 3000)
	mustInsert(t, r, 2, 1000)

	head, tail := addr(1), addr(2)

	// non-empty registry rejects (nil, nil)
	assert.False(t, r.ValidInsertPosition(big.NewInt(100), nil, nil))

	// head position needs amount >= head total
	assert.True(t, r.ValidInsertPosition(big.NewInt(4000), nil, &head))
	assert.True(t, r.ValidInsertPosition(big.NewInt(3000), nil, &head))
	assert.False(t, r.ValidInsertPosition(big.NewInt(2000), nil, &head))

	// tail position needs tail total >= amount
	assert.True(t, r.ValidInsertPosition(big.NewInt(500), &tail, nil))
	assert.False(t, r.ValidInsertPosition(big.NewInt(2000), &tail, nil))

	// middle position needs adjacency and prev >= amount >= next
	assert.True(t, r.ValidInsertPosition(big.NewInt(2000), &head, &tail))
	assert.False(t, r.ValidInsertPosition(big.NewInt(4000), &head, &tail))
	assert.False(t, r.ValidInsertPosition(big.NewInt(500), &head, &tail))

	// non-adjacent pair
	mustInsert(t, r, 3, 2000)
	assert.False(t, r.ValidInsertPosition(big.NewInt(2000), &head, &tail))

	// unknown ids
	missing := addr(9)
	assert.False(t, r.ValidInsertPosition(big.NewInt(2000), &missing, nil))
}

func Test_Registry_Get_ReturnsCopy(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 1000)
	entry, err := r.Get(addr(1))
	require.NoError(t, err)

	entry.OwnStake.SetInt64(9999)

	fresh, err := r.Get(addr(1))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), fresh.OwnStake)
}

func Test_Registry_Iterate_StopsOnError(t *testing.T) {
	r := New()

	mustInsert(t, r, 1, 3000)
	mustInsert(t, r, 2, 2000)
	mustInsert(t, r, 3, 1000)

	var seen int
	err := r.Iterate(func(id kestrel.Address, entry *Entry) error {
		seen++
		if seen == 2 {
			return reverts.ErrNotPresent
		}
		return nil
	})
	assert.ErrorIs(t, err, reverts.ErrNotPresent)
	assert.Equal(t, 2, seen)
}
