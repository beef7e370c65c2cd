// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"math/big"

	"github.com/kestrel-chain/kestrel/kestrel"
)

// Entry is a ranked validator record. The registry exclusively owns entries
// and their link structure; callers receive copies.
type Entry struct {
	Signer         kestrel.Address // the identity entitled to attest
	OwnStake       *big.Int
	DelegatedStake *big.Int

	// doubly linked ranking, id-typed to avoid ownership cycles
	Prev *kestrel.Address
	Next *kestrel.Address
}

// TotalBacking is the ranking key: own stake plus delegated stake.
func (e *Entry) TotalBacking() *big.Int {
	return new(big.Int).Add(e.OwnStake, e.DelegatedStake)
}

// IsLinked returns whether the entry has at least one live link.
func (e *Entry) IsLinked() bool {
	return e.Prev != nil || e.Next != nil
}

func (e *Entry) copy() *Entry {
	c := &Entry{
		Signer:         e.Signer,
		OwnStake:       new(big.Int).Set(e.OwnStake),
		DelegatedStake: new(big.Int).Set(e.DelegatedStake),
	}
	if e.Prev != nil {
		prev := *e.Prev
		c.Prev = &prev
	}
	if e.Next != nil {
		next := *e.Next
		c.Next = &next
	}
	return c
}
