// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package epoch

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/kestrel-chain/kestrel/cache"
	"github.com/kestrel-chain/kestrel/kestrel"
)

// Recoverer turns an attestation signature into the signer identity that
// produced it. The manager consumes the result; it does not do any
// cryptography itself.
type Recoverer interface {
	Recover(digest kestrel.Bytes32, sig []byte) (kestrel.Address, error)
}

// SecpRecoverer recovers secp256k1 signatures in [R || S || V] form.
// Recovery results are memoized, so re-submitting the same attestation
// does not pay for another ecrecover.
type SecpRecoverer struct {
	cache *cache.LRU
}

// NewSecpRecoverer creates a recoverer with the given memoization size.
func NewSecpRecoverer(cacheSize int) (*SecpRecoverer, error) {
	c, err := cache.NewLRU(cacheSize)
	if err != nil {
		return nil, err
	}
	return &SecpRecoverer{cache: c}, nil
}

func (r *SecpRecoverer) Recover(digest kestrel.Bytes32, sig []byte) (kestrel.Address, error) {
	key := kestrel.Blake2b(digest.Bytes(), sig)
	signer, err := r.cache.GetOrLoad(key, func(any) (any, error) {
		pub, err := crypto.SigToPub(digest.Bytes(), sig)
		if err != nil {
			return nil, errors.Wrap(err, "recover attestation signer")
		}
		return kestrel.PubkeyToAddress(pub), nil
	})
	if err != nil {
		return kestrel.Address{}, err
	}
	return signer.(kestrel.Address), nil
}
