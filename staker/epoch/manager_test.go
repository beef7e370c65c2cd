// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package epoch

import (
	"crypto/ecdsa"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/staker/reverts"
)

const (
	testEpochDuration = uint64(100)
	testQuorumSize    = uint64(21)
)

type stubSource struct {
	signers []kestrel.Address
}

func (s *stubSource) TopSigners(max int) []kestrel.Address {
	if max > len(s.signers) {
		max = len(s.signers)
	}
	return append([]kestrel.Address(nil), s.signers[:max]...)
}

type fixture struct {
	manager *Manager
	source  *stubSource
	keys    map[kestrel.Address]*ecdsa.PrivateKey
}

func newFixture(t *testing.T, signerCount int) *fixture {
	t.Helper()

	source := &stubSource{}
	keys := make(map[kestrel.Address]*ecdsa.PrivateKey)
	for i := 0; i < signerCount; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		signer := kestrel.PubkeyToAddress(&key.PublicKey)
		keys[signer] = key
		source.signers = append(source.signers, signer)
	}

	recoverer, err := NewSecpRecoverer(16)
	require.NoError(t, err)

	return &fixture{
		manager: New(source, recoverer, testQuorumSize, testEpochDuration, 0),
		source:  source,
		keys:    keys,
	}
}

func (f *fixture) sign(t *testing.T, signer kestrel.Address, targetEpoch uint32, signers []kestrel.Address) []byte {
	t.Helper()
	digest := Digest(targetEpoch, signers)
	sig, err := crypto.Sign(digest.Bytes(), f.keys[signer])
	require.NoError(t, err)
	return sig
}

// attest signs the live proposal as the signer at its current-quorum index.
func (f *fixture) attest(t *testing.T, signer kestrel.Address) error {
	t.Helper()
	sig := f.sign(t, signer, f.manager.CurrentEpoch()+1, f.manager.NextSigners())

	current := f.manager.Signers(f.manager.CurrentEpoch())
	for i, s := range current {
		if s == signer {
			return f.manager.Attest(i, sig)
		}
	}
	t.Fatalf("signer %s not in quorum", signer)
	return nil
}

// seat bootstraps the fixture past epoch 0 so the full signer set is live.
func (f *fixture) seat(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.ProposeNextQuorum(nil))
	_, err := f.manager.Advance(f.manager.Deadline(), nil)
	require.NoError(t, err)
}

func sortedDesc(signers []kestrel.Address) []kestrel.Address {
	out := append([]kestrel.Address(nil), signers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) > 0 })
	return out
}

func Test_Epoch_ProposeNextQuorum_Canonical(t *testing.T) {
	f := newFixture(t, 4)

	require.NoError(t, f.manager.ProposeNextQuorum(nil))
	assert.Equal(t, sortedDesc(f.source.signers), f.manager.NextSigners())
}

func Test_Epoch_ProposeNextQuorum_Permutation(t *testing.T) {
	f := newFixture(t, 4)

	// build the permutation that produces the canonical ordering
	desc := sortedDesc(f.source.signers)
	order := make([]uint64, len(desc))
	for i, signer := range desc {
		for j, candidate := range f.source.signers {
			if candidate == signer {
				order[i] = uint64(j)
			}
		}
	}

	require.NoError(t, f.manager.ProposeNextQuorum(order))
	assert.Equal(t, desc, f.manager.NextSigners())
}

func Test_Epoch_ProposeNextQuorum_OrderErrors(t *testing.T) {
	f := newFixture(t, 4)

	// wrong length
	err := f.manager.ProposeNextQuorum([]uint64{0, 1})
	assert.ErrorIs(t, err, reverts.ErrOrderNotExist)

	// slot out of range
	err = f.manager.ProposeNextQuorum([]uint64{0, 1, 2, 9})
	assert.ErrorIs(t, err, reverts.ErrOrderNotExist)

	// valid slots but non-canonical result
	desc := sortedDesc(f.source.signers)
	order := make([]uint64, len(desc))
	for i, signer := range desc {
		for j, candidate := range f.source.signers {
			if candidate == signer {
				order[len(desc)-1-i] = uint64(j) // ascending
			}
		}
	}
	err = f.manager.ProposeNextQuorum(order)
	assert.ErrorIs(t, err, reverts.ErrOrderWrong)

	// failed proposals left nothing behind
	assert.Empty(t, f.manager.NextSigners())
}

func Test_Epoch_Reproposal_DropsStaleAttestations(t *testing.T) {
	f := newFixture(t, 4)
	f.seat(t)

	for _, signer := range f.manager.Signers(f.manager.CurrentEpoch()) {
		require.NoError(t, f.attest(t, signer))
	}
	require.True(t, f.manager.QuorumMet())

	// re-proposing the identical sequence keeps the attestations
	require.NoError(t, f.manager.ProposeNextQuorum(nil))
	assert.Equal(t, 4, f.manager.AttestedCount())
	assert.True(t, f.manager.QuorumMet())

	// a changed sequence invalidates them; the old signatures cover a
	// different digest
	f.manager.SetMaxQuorumSize(2)
	require.NoError(t, f.manager.ProposeNextQuorum(nil))
	assert.Len(t, f.manager.NextSigners(), 2)
	assert.Equal(t, 0, f.manager.AttestedCount())
	assert.False(t, f.manager.QuorumMet())

	// without fresh attestations the shrunk quorum is not adopted
	rotation, err := f.manager.Advance(f.manager.Deadline(), nil)
	require.NoError(t, err)
	assert.False(t, rotation.Rotated)
	assert.Len(t, f.manager.Signers(f.manager.CurrentEpoch()), 4)
}

func Test_Epoch_Bootstrap_EmptyQuorumAdvances(t *testing.T) {
	f := newFixture(t, 3)

	assert.True(t, f.manager.QuorumMet())
	require.NoError(t, f.manager.ProposeNextQuorum(nil))

	rotation, err := f.manager.Advance(testEpochDuration, nil)
	require.NoError(t, err)
	assert.True(t, rotation.Rotated)
	assert.Equal(t, uint32(1), rotation.Epoch)
	assert.Equal(t, sortedDesc(f.source.signers), rotation.Signers)
	assert.Empty(t, rotation.Dropped)

	// the advance installed a follow-up proposal
	assert.Equal(t, sortedDesc(f.source.signers), f.manager.NextSigners())
}

func Test_Epoch_Advance_DeadlineGate(t *testing.T) {
	f := newFixture(t, 3)

	_, err := f.manager.Advance(testEpochDuration-1, nil)
	assert.ErrorIs(t, err, reverts.ErrEpochNotExpired)
	assert.Equal(t, uint32(0), f.manager.CurrentEpoch())

	f.manager.SetDeadlineEnforced(false)
	_, err = f.manager.Advance(testEpochDuration-1, nil)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), f.manager.CurrentEpoch())
}

func Test_Epoch_Attest(t *testing.T) {
	f := newFixture(t, 4)
	f.seat(t)

	signers := f.manager.Signers(f.manager.CurrentEpoch())
	require.NoError(t, f.attest(t, signers[0]))
	assert.Equal(t, 1, f.manager.AttestedCount())

	// duplicate
	assert.ErrorIs(t, f.attest(t, signers[0]), reverts.ErrDuplicateAttestation)
	assert.Equal(t, 1, f.manager.AttestedCount())

	// index out of range
	assert.ErrorIs(t, f.manager.Attest(-1, nil), reverts.ErrWrongSigner)
	assert.ErrorIs(t, f.manager.Attest(len(signers), nil), reverts.ErrWrongSigner)

	// signature by the wrong key
	sig := f.sign(t, signers[1], f.manager.CurrentEpoch()+1, f.manager.NextSigners())
	assert.ErrorIs(t, f.manager.Attest(0, sig), reverts.ErrWrongSigner)

	// signature over the wrong payload
	sig = f.sign(t, signers[1], f.manager.CurrentEpoch()+7, f.manager.NextSigners())
	assert.ErrorIs(t, f.manager.Attest(1, sig), reverts.ErrWrongSigner)

	// garbage signature
	assert.ErrorIs(t, f.manager.Attest(1, []byte("junk")), reverts.ErrWrongSigner)

	// a failed attestation does not block the signer
	require.NoError(t, f.attest(t, signers[1]))
	assert.Equal(t, 2, f.manager.AttestedCount())
}

func Test_Epoch_QuorumThreshold(t *testing.T) {
	f := newFixture(t, 4)
	f.seat(t)

	// floor(2*4/3)+1 = 3
	signers := f.manager.Signers(f.manager.CurrentEpoch())
	require.NoError(t, f.attest(t, signers[0]))
	require.NoError(t, f.attest(t, signers[1]))
	assert.False(t, f.manager.QuorumMet())

	require.NoError(t, f.attest(t, signers[2]))
	assert.True(t, f.manager.QuorumMet())
}

func Test_Epoch_Advance_NotMet_CarriesQuorumOver(t *testing.T) {
	f := newFixture(t, 4)
	f.seat(t)

	before := f.manager.Signers(f.manager.CurrentEpoch())
	signers := before
	require.NoError(t, f.attest(t, signers[0]))

	rotation, err := f.manager.Advance(f.manager.Deadline(), nil)
	require.NoError(t, err)
	assert.False(t, rotation.Rotated)
	assert.Equal(t, before, rotation.Signers)
	assert.Empty(t, rotation.Dropped)
	assert.Equal(t, uint32(2), f.manager.CurrentEpoch())
}

func Test_Epoch_Advance_RecordsDroppedSigners(t *testing.T) {
	f := newFixture(t, 4)
	f.seat(t)

	// shrink the ranking to 3 signers, the last one will drop
	dropped := f.source.signers[3]
	f.source.signers = f.source.signers[:3]
	require.NoError(t, f.manager.ProposeNextQuorum(nil))

	for _, signer := range f.manager.Signers(f.manager.CurrentEpoch())[:3] {
		require.NoError(t, f.attest(t, signer))
	}

	epochBefore := f.manager.CurrentEpoch()
	rotation, err := f.manager.Advance(f.manager.Deadline(), nil)
	require.NoError(t, err)
	assert.True(t, rotation.Rotated)
	assert.Equal(t, []kestrel.Address{dropped}, rotation.Dropped)

	lastActive, ok := f.manager.LastActiveEpoch(dropped)
	require.True(t, ok)
	assert.Equal(t, epochBefore, lastActive)
	assert.False(t, f.manager.InQuorum(dropped))

	endedAt, ok := f.manager.EndTimeOf(lastActive)
	require.True(t, ok)
	assert.Equal(t, f.manager.Deadline()-testEpochDuration, endedAt)
}

func Test_Epoch_Rejoin_ClearsLastActive(t *testing.T) {
	f := newFixture(t, 4)
	f.seat(t)

	all := append([]kestrel.Address(nil), f.source.signers...)
	dropped := all[3]

	// drop the signer
	f.source.signers = all[:3]
	require.NoError(t, f.manager.ProposeNextQuorum(nil))
	for _, signer := range f.manager.Signers(f.manager.CurrentEpoch())[:3] {
		require.NoError(t, f.attest(t, signer))
	}
	_, err := f.manager.Advance(f.manager.Deadline(), nil)
	require.NoError(t, err)

	_, ok := f.manager.LastActiveEpoch(dropped)
	require.True(t, ok)

	// bring it back
	f.source.signers = all
	require.NoError(t, f.manager.ProposeNextQuorum(nil))
	for _, signer := range f.manager.Signers(f.manager.CurrentEpoch()) {
		require.NoError(t, f.attest(t, signer))
	}
	_, err = f.manager.Advance(f.manager.Deadline(), nil)
	require.NoError(t, err)

	_, ok = f.manager.LastActiveEpoch(dropped)
	assert.False(t, ok)
	assert.True(t, f.manager.InQuorum(dropped))
}

func Test_Epoch_Advance_RejectedProposalHasNoSideEffects(t *testing.T) {
	f := newFixture(t, 4)
	f.seat(t)

	epochBefore := f.manager.CurrentEpoch()
	_, err := f.manager.Advance(f.manager.Deadline(), []uint64{9, 9, 9, 9})
	assert.ErrorIs(t, err, reverts.ErrOrderNotExist)
	assert.Equal(t, epochBefore, f.manager.CurrentEpoch())
	_, ended := f.manager.EndTimeOf(epochBefore)
	assert.False(t, ended)
}

func Test_Epoch_QuorumSizeCap(t *testing.T) {
	f := newFixture(t, 5)
	f.manager.SetMaxQuorumSize(3)

	require.NoError(t, f.manager.ProposeNextQuorum(nil))
	assert.Len(t, f.manager.NextSigners(), 3)
	assert.Equal(t, uint64(3), f.manager.MaxQuorumSize())
}

func Test_Epoch_State_RoundTrip(t *testing.T) {
	f := newFixture(t, 4)
	f.seat(t)

	signers := f.manager.Signers(f.manager.CurrentEpoch())
	require.NoError(t, f.attest(t, signers[0]))
	require.NoError(t, f.attest(t, signers[1]))

	state := f.manager.State()
	recoverer, err := NewSecpRecoverer(16)
	require.NoError(t, err)
	restored := NewFromState(f.source, recoverer, testEpochDuration, state)

	assert.Equal(t, f.manager.CurrentEpoch(), restored.CurrentEpoch())
	assert.Equal(t, f.manager.Deadline(), restored.Deadline())
	assert.Equal(t, f.manager.MaxQuorumSize(), restored.MaxQuorumSize())
	assert.Equal(t, f.manager.Signers(1), restored.Signers(1))
	assert.Equal(t, f.manager.NextSigners(), restored.NextSigners())
	assert.Equal(t, 2, restored.AttestedCount())
	assert.True(t, restored.Record(1).Attested(signers[0]))
}
