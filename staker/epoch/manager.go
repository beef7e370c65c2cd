// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package epoch implements the epoch state machine: quorum selection from
// the validator ranking, multi-signature attestation of the next quorum
// and the rotation at each epoch boundary.
package epoch

import (
	"sort"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/staker/reverts"
)

// SignerSource yields the signers of the top ranked validators, best first.
type SignerSource interface {
	TopSigners(max int) []kestrel.Address
}

// Rotation is the outcome of a successful Advance call.
type Rotation struct {
	Epoch   uint32            // the new current epoch
	Rotated bool              // whether the proposed quorum was adopted
	Signers []kestrel.Address // current signers of the new epoch
	Dropped []kestrel.Address // signers that left the quorum at this boundary
}

// Manager owns the epoch records and the single live epoch counter.
// Advance is the only mutator that increments it.
type Manager struct {
	source    SignerSource
	recoverer Recoverer

	current uint32
	records map[uint32]*Record

	// signer -> the epoch at whose end the signer dropped out of the quorum;
	// the sole input to validator withdrawal eligibility
	lastActive map[kestrel.Address]uint32

	maxQuorumSize   uint64
	epochDuration   uint64
	deadline        uint64
	enforceDeadline bool
}

// New creates a manager at epoch zero with an empty quorum and no pending
// proposal; the first quorum enters via ProposeNextQuorum and Advance.
func New(source SignerSource, recoverer Recoverer, maxQuorumSize, epochDuration, now uint64) *Manager {
	m := &Manager{
		source:          source,
		recoverer:       recoverer,
		records:         map[uint32]*Record{0: newRecord(nil)},
		lastActive:      make(map[kestrel.Address]uint32),
		maxQuorumSize:   maxQuorumSize,
		epochDuration:   epochDuration,
		deadline:        now + epochDuration,
		enforceDeadline: true,
	}
	return m
}

// SetDeadlineEnforced toggles the epoch deadline gate. Disabling it is only
// meant for solo and maintenance runs.
func (m *Manager) SetDeadlineEnforced(enforced bool) {
	m.enforceDeadline = enforced
}

// SetMaxQuorumSize updates the quorum size cap. It takes effect at the next
// proposal.
func (m *Manager) SetMaxQuorumSize(n uint64) {
	m.maxQuorumSize = n
}

// MaxQuorumSize returns the current quorum size cap.
func (m *Manager) MaxQuorumSize() uint64 {
	return m.maxQuorumSize
}

// CurrentEpoch returns the live epoch number.
func (m *Manager) CurrentEpoch() uint32 {
	return m.current
}

// Deadline returns the earliest timestamp at which Advance may succeed.
func (m *Manager) Deadline() uint64 {
	return m.deadline
}

// Signers returns the signer set of the given epoch, nil if never recorded.
func (m *Manager) Signers(epoch uint32) []kestrel.Address {
	rec, ok := m.records[epoch]
	if !ok {
		return nil
	}
	return append([]kestrel.Address(nil), rec.CurrentSigners...)
}

// SignerCount returns the quorum size of the given epoch.
func (m *Manager) SignerCount(epoch uint32) int {
	rec, ok := m.records[epoch]
	if !ok {
		return 0
	}
	return len(rec.CurrentSigners)
}

// NextSigners returns the live epoch's proposed next quorum.
func (m *Manager) NextSigners() []kestrel.Address {
	return append([]kestrel.Address(nil), m.records[m.current].NextSigners...)
}

// AttestedCount returns the number of distinct attestations collected for
// the live epoch's proposal.
func (m *Manager) AttestedCount() int {
	return m.records[m.current].AttestedCount
}

// Record returns the record of the given epoch, nil if never recorded.
func (m *Manager) Record(epoch uint32) *Record {
	return m.records[epoch]
}

// InQuorum returns whether the signer is part of the live epoch's quorum.
func (m *Manager) InQuorum(signer kestrel.Address) bool {
	for _, s := range m.records[m.current].CurrentSigners {
		if s == signer {
			return true
		}
	}
	return false
}

// EndTimeOf returns the timestamp at which the given epoch ended.
func (m *Manager) EndTimeOf(epoch uint32) (uint64, bool) {
	rec, ok := m.records[epoch]
	if !ok || rec.EndedAt == 0 {
		return 0, false
	}
	return rec.EndedAt, true
}

// LastActiveEpoch returns the epoch at whose end the signer dropped out of
// the quorum. Unset while the signer is in quorum or has never been.
func (m *Manager) LastActiveEpoch(signer kestrel.Address) (uint32, bool) {
	epoch, ok := m.lastActive[signer]
	return epoch, ok
}

// ProposeNextQuorum selects the top ranked signers and orders them by the
// caller-supplied permutation. A nil order asks for the canonical ordering.
// The result becomes the live epoch's next-quorum proposal and is what
// attestations are verified against. Replacing the proposal with a
// different signer sequence discards the attestations collected so far;
// they covered the old digest.
func (m *Manager) ProposeNextQuorum(order []uint64) error {
	proposal, err := m.buildProposal(order)
	if err != nil {
		return err
	}

	rec := m.records[m.current]
	if !sameSigners(rec.NextSigners, proposal) {
		rec.attestations = make(map[kestrel.Address][]byte)
		rec.AttestedCount = 0
	}
	rec.NextSigners = proposal
	return nil
}

// buildProposal validates the permutation against the current ranking and
// returns the ordered signer sequence without mutating any state.
func (m *Manager) buildProposal(order []uint64) ([]kestrel.Address, error) {
	candidates := m.source.TopSigners(int(m.maxQuorumSize))

	if order == nil {
		proposal := append([]kestrel.Address(nil), candidates...)
		sort.Slice(proposal, func(i, j int) bool {
			return proposal[i].Cmp(proposal[j]) > 0
		})
		return proposal, nil
	}

	if len(order) != len(candidates) {
		return nil, reverts.ErrOrderNotExist
	}
	proposal := make([]kestrel.Address, len(order))
	for i, slot := range order {
		if slot >= uint64(len(candidates)) {
			return nil, reverts.ErrOrderNotExist
		}
		proposal[i] = candidates[slot]
	}
	if !isCanonical(proposal) {
		return nil, reverts.ErrOrderWrong
	}
	return proposal, nil
}

// Attest records one signer's attestation of the live proposal. The
// signature must cover the canonical digest of the proposal salted with the
// target epoch number, and must recover to the current-epoch signer at the
// claimed index. A failed attestation does not block other attesters.
func (m *Manager) Attest(signerIndex int, sig []byte) error {
	rec := m.records[m.current]
	if signerIndex < 0 || signerIndex >= len(rec.CurrentSigners) {
		return reverts.ErrWrongSigner
	}
	claimed := rec.CurrentSigners[signerIndex]

	digest := Digest(m.current+1, rec.NextSigners)
	recovered, err := m.recoverer.Recover(digest, sig)
	if err != nil {
		return reverts.ErrWrongSigner
	}
	if recovered != claimed {
		return reverts.ErrWrongSigner
	}
	if rec.Attested(claimed) {
		return reverts.ErrDuplicateAttestation
	}

	rec.attestations[claimed] = append([]byte(nil), sig...)
	rec.AttestedCount++
	return nil
}

// QuorumMet returns whether the live epoch has collected a BFT
// supermajority of attestations. An empty quorum (bootstrap) counts as met.
func (m *Manager) QuorumMet() bool {
	rec := m.records[m.current]
	n := len(rec.CurrentSigners)
	if n == 0 {
		return true
	}
	return rec.AttestedCount >= quorumThreshold(n)
}

// Advance seals the live epoch and opens the next one. If the attestation
// supermajority was reached, the proposed quorum becomes the new signer
// set and every signer left behind gets its lastActiveEpoch recorded.
// Otherwise the signer set is carried over unchanged and the proposal is
// discarded. Either way a fresh proposal is installed for the new epoch
// using the supplied permutation (nil for canonical) and a new deadline is
// set. Rejected calls have no side effects.
func (m *Manager) Advance(now uint64, order []uint64) (*Rotation, error) {
	if m.enforceDeadline && now < m.deadline {
		return nil, reverts.ErrEpochNotExpired
	}

	// validate the follow-up proposal before touching anything
	proposal, err := m.buildProposal(order)
	if err != nil {
		return nil, err
	}

	rec := m.records[m.current]
	rotated := m.QuorumMet()

	var newCurrent, dropped []kestrel.Address
	if rotated {
		newCurrent = append([]kestrel.Address(nil), rec.NextSigners...)
		for _, signer := range rec.CurrentSigners {
			if !contains(newCurrent, signer) {
				m.lastActive[signer] = m.current
				dropped = append(dropped, signer)
			}
		}
		for _, signer := range newCurrent {
			delete(m.lastActive, signer)
		}
	} else {
		newCurrent = append([]kestrel.Address(nil), rec.CurrentSigners...)
	}

	rec.EndedAt = now
	m.current++
	next := newRecord(newCurrent)
	next.NextSigners = proposal
	m.records[m.current] = next
	m.deadline = now + m.epochDuration

	return &Rotation{
		Epoch:   m.current,
		Rotated: rotated,
		Signers: append([]kestrel.Address(nil), newCurrent...),
		Dropped: dropped,
	}, nil
}

func sameSigners(a, b []kestrel.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(signers []kestrel.Address, signer kestrel.Address) bool {
	for _, s := range signers {
		if s == signer {
			return true
		}
	}
	return false
}
