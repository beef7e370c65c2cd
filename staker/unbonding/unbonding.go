// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package unbonding tracks validators' own-stake exits and answers the two
// time gates of the protocol: when queued unstake tokens become claimable
// and when a validator that left the quorum may withdraw entirely.
package unbonding

import (
	"math/big"
	"sort"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/staker/reverts"
)

// EpochView is the slice of the epoch manager the ledger needs to evaluate
// its gates.
type EpochView interface {
	CurrentEpoch() uint32
	EndTimeOf(epoch uint32) (uint64, bool)
	LastActiveEpoch(signer kestrel.Address) (uint32, bool)
	InQuorum(signer kestrel.Address) bool
}

// Entry is one validator's queued own-stake exit.
type Entry struct {
	Amount       *big.Int
	UnstakeEpoch uint32
}

// Ledger holds at most one open unbonding entry per validator.
type Ledger struct {
	epochs          EpochView
	entries         map[kestrel.Address]*Entry
	withdrawalDelay uint64
}

// New creates an empty ledger evaluating gates against the given epoch view.
func New(epochs EpochView, withdrawalDelay uint64) *Ledger {
	return &Ledger{
		epochs:          epochs,
		entries:         make(map[kestrel.Address]*Entry),
		withdrawalDelay: withdrawalDelay,
	}
}

// WithdrawalDelay returns the configured post-epoch cooldown in seconds.
func (l *Ledger) WithdrawalDelay() uint64 {
	return l.withdrawalDelay
}

// Entry returns the validator's open unbonding entry, if any.
func (l *Ledger) Entry(validator kestrel.Address) (*Entry, bool) {
	entry, ok := l.entries[validator]
	if !ok {
		return nil, false
	}
	return &Entry{Amount: new(big.Int).Set(entry.Amount), UnstakeEpoch: entry.UnstakeEpoch}, true
}

// Request queues an own-stake exit for the validator at the current epoch.
// A validator can only run one exit at a time.
func (l *Ledger) Request(validator kestrel.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return reverts.ErrZeroAmount
	}
	if _, ok := l.entries[validator]; ok {
		return reverts.ErrOngoingExit
	}
	l.entries[validator] = &Entry{
		Amount:       new(big.Int).Set(amount),
		UnstakeEpoch: l.epochs.CurrentEpoch(),
	}
	return nil
}

// Claim releases the validator's queued exit once the unstake-token gate
// opens and clears the entry.
func (l *Ledger) Claim(validator kestrel.Address, now uint64) (*big.Int, error) {
	entry, ok := l.entries[validator]
	if !ok {
		return nil, reverts.ErrNothingToClaim
	}
	if !l.IsUnstakeTokensWithdrawable(entry.UnstakeEpoch, now) {
		return nil, reverts.ErrNotYetEligible
	}
	delete(l.entries, validator)
	return entry.Amount, nil
}

// IsUnstakeTokensWithdrawable reports whether tokens unstaked in the given
// epoch are claimable at time now. The unstake epoch must have ended, be
// strictly before the current one, and the cooldown counted from its end
// must have elapsed.
func (l *Ledger) IsUnstakeTokensWithdrawable(unstakeEpoch uint32, now uint64) bool {
	if unstakeEpoch >= l.epochs.CurrentEpoch() {
		return false
	}
	endedAt, ok := l.epochs.EndTimeOf(unstakeEpoch)
	if !ok {
		return false
	}
	return now >= endedAt+l.withdrawalDelay
}

// IsValidatorWithdrawable reports whether the validator's full exit gate is
// open: never while in the live quorum, and only once the cooldown counted
// from the end of its last active epoch has strictly elapsed. A validator
// that never entered a quorum is withdrawable at once.
func (l *Ledger) IsValidatorWithdrawable(signer kestrel.Address, now uint64) bool {
	if l.epochs.InQuorum(signer) {
		return false
	}
	lastActive, ok := l.epochs.LastActiveEpoch(signer)
	if !ok {
		return true
	}
	endedAt, ok := l.epochs.EndTimeOf(lastActive)
	if !ok {
		return false
	}
	return now > endedAt+l.withdrawalDelay
}

// State exports the ledger entries for persistence, sorted by validator.
func (l *Ledger) State() []ValidatorEntry {
	out := make([]ValidatorEntry, 0, len(l.entries))
	for validator, entry := range l.entries {
		out = append(out, ValidatorEntry{
			Validator:    validator,
			Amount:       new(big.Int).Set(entry.Amount),
			UnstakeEpoch: entry.UnstakeEpoch,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Validator.Cmp(out[j].Validator) < 0
	})
	return out
}

// NewFromState rebuilds a ledger from persisted entries.
func NewFromState(epochs EpochView, withdrawalDelay uint64, entries []ValidatorEntry) *Ledger {
	l := New(epochs, withdrawalDelay)
	for _, e := range entries {
		l.entries[e.Validator] = &Entry{
			Amount:       new(big.Int).Set(e.Amount),
			UnstakeEpoch: e.UnstakeEpoch,
		}
	}
	return l
}

// ValidatorEntry is the serializable form of one ledger entry.
type ValidatorEntry struct {
	Validator    kestrel.Address
	Amount       *big.Int
	UnstakeEpoch uint32
}
