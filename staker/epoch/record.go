// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package epoch

import (
	"encoding/binary"
	"io"

	"github.com/kestrel-chain/kestrel/kestrel"
)

// Record holds the signer bookkeeping of one epoch number. CurrentSigners
// and NextSigners are canonically ordered (non-increasing by identity) and
// become immutable once the epoch ends; attestations accumulate until then.
type Record struct {
	CurrentSigners []kestrel.Address
	NextSigners    []kestrel.Address
	EndedAt        uint64 // unix seconds, 0 while the epoch is live

	attestations  map[kestrel.Address][]byte
	AttestedCount int
}

func newRecord(currentSigners []kestrel.Address) *Record {
	return &Record{
		CurrentSigners: currentSigners,
		attestations:   make(map[kestrel.Address][]byte),
	}
}

// Attestation returns the signature recorded for the given signer.
func (r *Record) Attestation(signer kestrel.Address) ([]byte, bool) {
	sig, ok := r.attestations[signer]
	return sig, ok
}

// Attested returns whether the given signer has attested this epoch.
func (r *Record) Attested(signer kestrel.Address) bool {
	_, ok := r.attestations[signer]
	return ok
}

// Digest computes the canonical attestation message for a quorum proposal:
// the hash of the target epoch number salted over the ordered signer
// sequence. Every attester must sign exactly this digest; the canonical
// ordering rule exists so that all attesters derive the same hash.
func Digest(targetEpoch uint32, signers []kestrel.Address) kestrel.Bytes32 {
	return kestrel.Blake2bFn(func(w io.Writer) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], targetEpoch)
		w.Write(b[:])
		for _, signer := range signers {
			w.Write(signer.Bytes())
		}
	})
}

// isCanonical reports whether the signer sequence is non-increasing by
// identity value. Duplicates are allowed.
func isCanonical(signers []kestrel.Address) bool {
	for i := 1; i < len(signers); i++ {
		if signers[i-1].Cmp(signers[i]) < 0 {
			return false
		}
	}
	return true
}

// quorumThreshold is the BFT supermajority: floor(2n/3) + 1.
func quorumThreshold(n int) int {
	return n*2/3 + 1
}
