// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package registry maintains the ranked validator set: a doubly linked
// ranking ordered by total backing stake, stored as an arena of records
// keyed by validator id. Insert positions are hinted by callers; a stale
// hint degrades to a local search instead of failing.
package registry

import (
	"math/big"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/staker/reverts"
)

// Registry is the sorted validator ranking. Order is strictly non-increasing
// in total backing from head to tail; ties keep insertion order.
type Registry struct {
	entries map[kestrel.Address]*Entry
	head    *kestrel.Address
	tail    *kestrel.Address
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[kestrel.Address]*Entry),
	}
}

// Size returns the number of ranked validators.
func (r *Registry) Size() int {
	return len(r.entries)
}

// Contains returns whether id is currently ranked.
func (r *Registry) Contains(id kestrel.Address) bool {
	_, ok := r.entries[id]
	return ok
}

// First returns the id of the highest-backed validator, or nil if empty.
func (r *Registry) First() *kestrel.Address {
	return copyID(r.head)
}

// Last returns the id of the lowest-backed validator, or nil if empty.
func (r *Registry) Last() *kestrel.Address {
	return copyID(r.tail)
}

// Next returns the id ranked directly after id, nil at the tail.
func (r *Registry) Next(id kestrel.Address) (*kestrel.Address, error) {
	entry, ok := r.entries[id]
	if !ok {
		return nil, reverts.ErrNotPresent
	}
	return copyID(entry.Next), nil
}

// Prev returns the id ranked directly before id, nil at the head.
func (r *Registry) Prev(id kestrel.Address) (*kestrel.Address, error) {
	entry, ok := r.entries[id]
	if !ok {
		return nil, reverts.ErrNotPresent
	}
	return copyID(entry.Prev), nil
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id kestrel.Address) (*Entry, error) {
	entry, ok := r.entries[id]
	if !ok {
		return nil, reverts.ErrNotPresent
	}
	return entry.copy(), nil
}

// All returns the full ranked sequence of validator ids, head to tail.
func (r *Registry) All() []kestrel.Address {
	all := make([]kestrel.Address, 0, len(r.entries))
	for current := r.head; current != nil; {
		all = append(all, *current)
		current = r.entries[*current].Next
	}
	return all
}

// Iterate walks the ranking head to tail, stopping on the first callback error.
func (r *Registry) Iterate(callback func(kestrel.Address, *Entry) error) error {
	for current := r.head; current != nil; {
		entry := r.entries[*current]
		if err := callback(*current, entry.copy()); err != nil {
			return err
		}
		current = entry.Next
	}
	return nil
}

// Insert ranks a new validator. The caller supplies the position as a
// (prevHint, nextHint) pair; if the hint is stale the registry searches for
// a valid position itself, so a correct hint is O(1) and a wrong one only
// costs the walk.
func (r *Registry) Insert(
	id kestrel.Address,
	signer kestrel.Address,
	ownStake *big.Int,
	delegatedStake *big.Int,
	prevHint *kestrel.Address,
	nextHint *kestrel.Address,
) error {
	if _, ok := r.entries[id]; ok {
		return reverts.ErrAlreadyPresent
	}

	entry := &Entry{
		Signer:         signer,
		OwnStake:       new(big.Int).Set(ownStake),
		DelegatedStake: new(big.Int).Set(delegatedStake),
	}
	total := entry.TotalBacking()
	if total.Sign() == 0 {
		return reverts.ErrZeroAmount
	}

	prev, next := r.findPosition(total, prevHint, nextHint)
	r.link(id, entry, prev, next)
	r.entries[id] = entry
	return nil
}

// Remove unlinks the validator and deletes its record.
func (r *Registry) Remove(id kestrel.Address) error {
	entry, ok := r.entries[id]
	if !ok {
		return reverts.ErrNotPresent
	}

	r.unlink(entry)
	delete(r.entries, id)
	return nil
}

// UpdateAmount repositions a validator after its backing changed. It is
// equivalent to remove-then-insert while preserving the signer reference.
// A zero new total is rejected; callers must use Remove for that.
func (r *Registry) UpdateAmount(
	id kestrel.Address,
	newOwnStake *big.Int,
	newDelegatedStake *big.Int,
	prevHint *kestrel.Address,
	nextHint *kestrel.Address,
) error {
	entry, ok := r.entries[id]
	if !ok {
		return reverts.ErrNotPresent
	}

	newTotal := new(big.Int).Add(newOwnStake, newDelegatedStake)
	if newTotal.Sign() == 0 {
		return reverts.ErrInvalidAmount
	}

	r.unlink(entry)
	entry.OwnStake = new(big.Int).Set(newOwnStake)
	entry.DelegatedStake = new(big.Int).Set(newDelegatedStake)

	prev, next := r.findPosition(newTotal, prevHint, nextHint)
	r.link(id, entry, prev, next)
	return nil
}

// ValidInsertPosition reports whether (prev, next) is a currently valid
// adjacent pair for the given total backing. Exposed so callers can
// pre-validate hints cheaply before submitting.
func (r *Registry) ValidInsertPosition(amount *big.Int, prev, next *kestrel.Address) bool {
	if amount == nil || amount.Sign() == 0 {
		return false
	}

	if prev == nil && next == nil {
		return r.head == nil
	}

	if prev == nil {
		// insert at head: next must be the current head and not outrank the amount
		nextEntry, ok := r.entries[*next]
		if !ok || r.head == nil || *r.head != *next {
			return false
		}
		return amount.Cmp(nextEntry.TotalBacking()) >= 0
	}

	prevEntry, ok := r.entries[*prev]
	if !ok {
		return false
	}

	if next == nil {
		// insert at tail: prev must be the current tail
		if prevEntry.Next != nil {
			return false
		}
		return prevEntry.TotalBacking().Cmp(amount) >= 0
	}

	nextEntry, ok := r.entries[*next]
	if !ok {
		return false
	}
	if prevEntry.Next == nil || *prevEntry.Next != *next {
		return false
	}
	return prevEntry.TotalBacking().Cmp(amount) >= 0 && amount.Cmp(nextEntry.TotalBacking()) >= 0
}

// findPosition resolves the insert position for the given total. A valid
// hint is taken as-is. Otherwise the search starts from the usable hint
// (falling back to the head) and walks in the needed direction until
// prev.total >= amount >= next.total holds. Ties land after existing
// equal entries to keep insertion order stable.
func (r *Registry) findPosition(amount *big.Int, prevHint, nextHint *kestrel.Address) (prev, next *kestrel.Address) {
	if r.ValidInsertPosition(amount, prevHint, nextHint) {
		return prevHint, nextHint
	}

	start := r.head
	if prevHint != nil {
		if _, ok := r.entries[*prevHint]; ok {
			start = prevHint
		}
	} else if nextHint != nil {
		if _, ok := r.entries[*nextHint]; ok {
			start = nextHint
		}
	}

	if start == nil { // empty list
		return nil, nil
	}

	if r.entries[*start].TotalBacking().Cmp(amount) < 0 {
		// start is outranked by the new amount, walk upward
		next = start
		prev = r.entries[*next].Prev
		for prev != nil && r.entries[*prev].TotalBacking().Cmp(amount) < 0 {
			next = prev
			prev = r.entries[*next].Prev
		}
		return prev, next
	}

	// walk downward past every entry that still outranks or equals the amount
	prev = start
	next = r.entries[*prev].Next
	for next != nil && r.entries[*next].TotalBacking().Cmp(amount) >= 0 {
		prev = next
		next = r.entries[*prev].Next
	}
	return prev, next
}

// link wires the entry in between prev and next, adjusting head/tail.
func (r *Registry) link(id kestrel.Address, entry *Entry, prev, next *kestrel.Address) {
	entry.Prev = copyID(prev)
	entry.Next = copyID(next)

	linkID := id
	if prev == nil {
		r.head = &linkID
	} else {
		r.entries[*prev].Next = &linkID
	}
	if next == nil {
		r.tail = &linkID
	} else {
		r.entries[*next].Prev = &linkID
	}
}

// unlink detaches the entry, relinking neighbors or clearing head/tail for
// the 0-or-1-remaining-element cases.
func (r *Registry) unlink(entry *Entry) {
	if entry.Prev == nil {
		r.head = copyID(entry.Next)
	} else {
		r.entries[*entry.Prev].Next = copyID(entry.Next)
	}
	if entry.Next == nil {
		r.tail = copyID(entry.Prev)
	} else {
		r.entries[*entry.Next].Prev = copyID(entry.Prev)
	}

	entry.Prev = nil
	entry.Next = nil
}

func copyID(id *kestrel.Address) *kestrel.Address {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
