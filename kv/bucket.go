// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import "github.com/syndtr/goleveldb/leveldb/util"

// Bucket provides a logical namespace inside a kv store by prefixing keys.
type Bucket string

// NewStore creates a GetPutter which prefixes all keys with the bucket.
func (b Bucket) NewStore(src GetPutter) GetPutter {
	return &bucketStore{b, src}
}

type bucketStore struct {
	bucket Bucket
	src    GetPutter
}

func (s *bucketStore) key(key []byte) []byte {
	return append([]byte(s.bucket), key...)
}

func (s *bucketStore) Get(key []byte) ([]byte, error) {
	return s.src.Get(s.key(key))
}

func (s *bucketStore) Has(key []byte) (bool, error) {
	return s.src.Has(s.key(key))
}

func (s *bucketStore) IsNotFound(err error) bool {
	return s.src.IsNotFound(err)
}

func (s *bucketStore) NewIterator(r Range) Iterator {
	if r.From == nil && r.To == nil {
		prefixed := util.BytesPrefix([]byte(s.bucket))
		return &bucketIterator{s.src.NewIterator(Range{From: prefixed.Start, To: prefixed.Limit}), len(s.bucket)}
	}
	return &bucketIterator{s.src.NewIterator(Range{From: s.key(r.From), To: s.key(r.To)}), len(s.bucket)}
}

func (s *bucketStore) Put(key, value []byte) error {
	return s.src.Put(s.key(key), value)
}

func (s *bucketStore) Delete(key []byte) error {
	return s.src.Delete(s.key(key))
}

func (s *bucketStore) NewBatch() Batch {
	return &bucketBatch{s.bucket, s.src.NewBatch()}
}

type bucketBatch struct {
	bucket Bucket
	batch  Batch
}

func (b *bucketBatch) key(key []byte) []byte {
	return append([]byte(b.bucket), key...)
}

func (b *bucketBatch) Put(key, value []byte) error {
	return b.batch.Put(b.key(key), value)
}

func (b *bucketBatch) Delete(key []byte) error {
	return b.batch.Delete(b.key(key))
}

func (b *bucketBatch) NewBatch() Batch {
	return &bucketBatch{b.bucket, b.batch.NewBatch()}
}

func (b *bucketBatch) Len() int { return b.batch.Len() }

func (b *bucketBatch) Write() error { return b.batch.Write() }

// bucketIterator strips the bucket prefix from keys.
type bucketIterator struct {
	Iterator
	prefixLen int
}

func (i *bucketIterator) Key() []byte {
	return i.Iterator.Key()[i.prefixLen:]
}
