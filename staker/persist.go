// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package staker

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/kv"
	"github.com/kestrel-chain/kestrel/staker/epoch"
	"github.com/kestrel-chain/kestrel/staker/pool"
	"github.com/kestrel-chain/kestrel/staker/registry"
	"github.com/kestrel-chain/kestrel/staker/unbonding"
)

const (
	bucketMeta     = kv.Bucket("m")
	bucketRegistry = kv.Bucket("r")
	bucketEpochs   = kv.Bucket("e")
	bucketUnbonds  = kv.Bucket("u")
	bucketPools    = kv.Bucket("p")
)

var snapshotKey = []byte("snapshot")

// validatorRecord is one ranked validator in head-to-tail order. Links are
// not persisted; they are rebuilt by re-inserting in order.
type validatorRecord struct {
	ID        kestrel.Address
	Signer    kestrel.Address
	Own       *big.Int
	Delegated *big.Int
}

type signerRecord struct {
	Validator kestrel.Address
	Signer    kestrel.Address
}

type metaRecord struct {
	Locked  []kestrel.Address
	Paused  bool
	Signers []signerRecord
}

// Save writes a full snapshot of the staking state to the store. Pools are
// keyed by validator in their own bucket; everything else is one RLP blob
// per concern.
func (s *Staker) Save(store kv.GetPutter) error {
	var ranking []validatorRecord
	s.registry.Iterate(func(id kestrel.Address, entry *registry.Entry) error {
		ranking = append(ranking, validatorRecord{
			ID:        id,
			Signer:    entry.Signer,
			Own:       entry.OwnStake,
			Delegated: entry.DelegatedStake,
		})
		return nil
	})
	if err := putRLP(bucketRegistry.NewStore(store), snapshotKey, ranking); err != nil {
		return errors.Wrap(err, "save ranking")
	}

	if err := putRLP(bucketEpochs.NewStore(store), snapshotKey, s.epochs.State()); err != nil {
		return errors.Wrap(err, "save epochs")
	}
	if err := putRLP(bucketUnbonds.NewStore(store), snapshotKey, s.unbonds.State()); err != nil {
		return errors.Wrap(err, "save unbonds")
	}

	meta := metaRecord{Paused: s.paused}
	for validator := range s.locked {
		meta.Locked = append(meta.Locked, validator)
	}
	sort.Slice(meta.Locked, func(i, j int) bool {
		return meta.Locked[i].Cmp(meta.Locked[j]) < 0
	})
	for validator, signer := range s.signerOf {
		meta.Signers = append(meta.Signers, signerRecord{Validator: validator, Signer: signer})
	}
	sort.Slice(meta.Signers, func(i, j int) bool {
		return meta.Signers[i].Validator.Cmp(meta.Signers[j].Validator) < 0
	})
	if err := putRLP(bucketMeta.NewStore(store), snapshotKey, &meta); err != nil {
		return errors.Wrap(err, "save meta")
	}

	poolStore := bucketPools.NewStore(store)
	if err := clearBucket(poolStore); err != nil {
		return errors.Wrap(err, "clear pools")
	}
	for validator, p := range s.pools {
		if err := putRLP(poolStore, validator.Bytes(), p.State()); err != nil {
			return errors.Wrap(err, "save pool")
		}
	}
	return nil
}

// NewFromStore restores a staker from a snapshot. A store without one
// yields a fresh instance.
func NewFromStore(ledger Ledger, config Config, store kv.GetPutter, now uint64) (*Staker, error) {
	metaStore := bucketMeta.NewStore(store)
	has, err := metaStore.Has(snapshotKey)
	if err != nil {
		return nil, errors.Wrap(err, "probe snapshot")
	}
	if !has {
		return New(ledger, config, now)
	}

	recoverer, err := epoch.NewSecpRecoverer(config.RecoveryCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Staker{
		config:   config,
		ledger:   ledger,
		registry: registry.New(),
		pools:    make(map[kestrel.Address]*pool.Pool),
		signerOf: make(map[kestrel.Address]kestrel.Address),
		locked:   make(map[kestrel.Address]bool),
	}

	var ranking []validatorRecord
	if err := getRLP(bucketRegistry.NewStore(store), snapshotKey, &ranking); err != nil {
		return nil, errors.Wrap(err, "load ranking")
	}
	var prev *kestrel.Address
	for i := range ranking {
		rec := &ranking[i]
		if err := s.registry.Insert(rec.ID, rec.Signer, rec.Own, rec.Delegated, prev, nil); err != nil {
			return nil, errors.Wrap(err, "restore ranking")
		}
		prev = &rec.ID
	}

	var epochState epoch.State
	if err := getRLP(bucketEpochs.NewStore(store), snapshotKey, &epochState); err != nil {
		return nil, errors.Wrap(err, "load epochs")
	}
	s.epochs = epoch.NewFromState(&topSigners{registry: s.registry}, recoverer, config.EpochDuration, &epochState)

	var unbonds []unbonding.ValidatorEntry
	if err := getRLP(bucketUnbonds.NewStore(store), snapshotKey, &unbonds); err != nil {
		return nil, errors.Wrap(err, "load unbonds")
	}
	s.unbonds = unbonding.NewFromState(s.epochs, config.WithdrawalDelay, unbonds)

	var meta metaRecord
	if err := getRLP(metaStore, snapshotKey, &meta); err != nil {
		return nil, errors.Wrap(err, "load meta")
	}
	for _, validator := range meta.Locked {
		s.locked[validator] = true
	}
	s.paused = meta.Paused
	for _, sr := range meta.Signers {
		s.signerOf[sr.Validator] = sr.Signer
	}

	poolStore := bucketPools.NewStore(store)
	iter := poolStore.NewIterator(kv.Range{})
	defer iter.Release()
	for iter.Next() {
		var state pool.State
		if err := rlp.DecodeBytes(iter.Value(), &state); err != nil {
			return nil, errors.Wrap(err, "load pool")
		}
		s.pools[kestrel.BytesToAddress(iter.Key())] = pool.NewFromState(&state)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate pools")
	}

	return s, nil
}

func putRLP(putter kv.Putter, key []byte, val any) error {
	data, err := rlp.EncodeToBytes(val)
	if err != nil {
		return err
	}
	return putter.Put(key, data)
}

func getRLP(getter kv.Getter, key []byte, val any) error {
	data, err := getter.Get(key)
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(data, val)
}

func clearBucket(store kv.GetPutter) error {
	iter := store.NewIterator(kv.Range{})
	defer iter.Release()

	var keys [][]byte
	for iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	for _, key := range keys {
		if err := store.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
