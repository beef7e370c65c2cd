// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package epoch

import (
	"sort"

	"github.com/kestrel-chain/kestrel/kestrel"
)

// State is the serializable form of a Manager, used by the snapshot layer.
type State struct {
	Current       uint32
	Deadline      uint64
	MaxQuorumSize uint64
	Records       []RecordState
	LastActive    []SignerEpoch
}

// RecordState is the serializable form of a Record.
type RecordState struct {
	Epoch          uint32
	CurrentSigners []kestrel.Address
	NextSigners    []kestrel.Address
	EndedAt        uint64
	Attestations   []Attestation
}

// Attestation pairs a signer with its recorded signature.
type Attestation struct {
	Signer kestrel.Address
	Sig    []byte
}

// SignerEpoch pairs a signer with the epoch at whose end it dropped out.
type SignerEpoch struct {
	Signer kestrel.Address
	Epoch  uint32
}

// State exports the manager for persistence. Records are ordered by epoch
// number and attestations by signer identity, so the output is
// deterministic.
func (m *Manager) State() *State {
	state := &State{
		Current:       m.current,
		Deadline:      m.deadline,
		MaxQuorumSize: m.maxQuorumSize,
	}

	epochs := make([]uint32, 0, len(m.records))
	for epoch := range m.records {
		epochs = append(epochs, epoch)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	for _, epoch := range epochs {
		rec := m.records[epoch]
		rs := RecordState{
			Epoch:          epoch,
			CurrentSigners: append([]kestrel.Address(nil), rec.CurrentSigners...),
			NextSigners:    append([]kestrel.Address(nil), rec.NextSigners...),
			EndedAt:        rec.EndedAt,
		}
		for signer, sig := range rec.attestations {
			rs.Attestations = append(rs.Attestations, Attestation{Signer: signer, Sig: sig})
		}
		sort.Slice(rs.Attestations, func(i, j int) bool {
			return rs.Attestations[i].Signer.Cmp(rs.Attestations[j].Signer) < 0
		})
		state.Records = append(state.Records, rs)
	}

	for signer, epoch := range m.lastActive {
		state.LastActive = append(state.LastActive, SignerEpoch{Signer: signer, Epoch: epoch})
	}
	sort.Slice(state.LastActive, func(i, j int) bool {
		return state.LastActive[i].Signer.Cmp(state.LastActive[j].Signer) < 0
	})

	return state
}

// NewFromState rebuilds a manager from a persisted state.
func NewFromState(source SignerSource, recoverer Recoverer, epochDuration uint64, state *State) *Manager {
	m := &Manager{
		source:          source,
		recoverer:       recoverer,
		current:         state.Current,
		records:         make(map[uint32]*Record),
		lastActive:      make(map[kestrel.Address]uint32),
		maxQuorumSize:   state.MaxQuorumSize,
		epochDuration:   epochDuration,
		deadline:        state.Deadline,
		enforceDeadline: true,
	}

	for _, rs := range state.Records {
		rec := newRecord(append([]kestrel.Address(nil), rs.CurrentSigners...))
		rec.NextSigners = append([]kestrel.Address(nil), rs.NextSigners...)
		rec.EndedAt = rs.EndedAt
		for _, att := range rs.Attestations {
			rec.attestations[att.Signer] = append([]byte(nil), att.Sig...)
		}
		rec.AttestedCount = len(rec.attestations)
		m.records[rs.Epoch] = rec
	}
	if _, ok := m.records[m.current]; !ok {
		m.records[m.current] = newRecord(nil)
	}

	for _, se := range state.LastActive {
		m.lastActive[se.Signer] = se.Epoch
	}

	return m
}
