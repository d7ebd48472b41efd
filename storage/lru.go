// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/ledger-labs/chaindb/fault"
)

// LRUCache is a bounded-size read cache, generic over the IDB layer it
// wraps so the same implementation serves as the outermost layer of any
// stack: LRUCache[*ReadThroughCache], LRUCache[*PersistentBackend],
// LRUCache[*WriteThroughCache], and so on. Eviction is least-recently-used,
// unlike ReadThroughCache's time-based expiry.
type LRUCache[T IDB] struct {
	lower   T
	entries *lru.Cache
}

// NewLRUCache wraps lower with an LRU-bounded read cache holding at most
// maxEntries keys across all indexes.
func NewLRUCache[T IDB](lower T, maxEntries int) (*LRUCache[T], error) {
	c, err := lru.New(maxEntries)
	if err != nil {
		return nil, fault.InvalidError(err.Error())
	}
	return &LRUCache[T]{lower: lower, entries: c}, nil
}

func (l *LRUCache[T]) invalidate(index Index, key []byte) {
	l.entries.Remove(cacheKey(index, key))
}

func (l *LRUCache[T]) Write(index Index, key []byte, value []byte) error {
	if err := l.lower.Write(index, key, value); err != nil {
		return err
	}
	l.invalidate(index, key)
	return nil
}

func (l *LRUCache[T]) Erase(index Index, key []byte) error {
	if err := l.lower.Erase(index, key); err != nil {
		return err
	}
	l.invalidate(index, key)
	return nil
}

func (l *LRUCache[T]) EraseAll(index Index, key []byte) error {
	if err := l.lower.EraseAll(index, key); err != nil {
		return err
	}
	l.invalidate(index, key)
	return nil
}

func (l *LRUCache[T]) fetch(index Index, key []byte) ([][]byte, error) {
	ck := cacheKey(index, key)
	if cached, ok := l.entries.Get(ck); ok {
		return cached.([][]byte), nil
	}
	vs, err := l.lower.ReadMultiple(index, key)
	if err != nil {
		return nil, err
	}
	l.entries.Add(ck, vs)
	return vs, nil
}

func (l *LRUCache[T]) Read(index Index, key []byte, offset int, size int) ([]byte, bool, error) {
	if !index.Valid() {
		return nil, false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	vs, err := l.fetch(index, key)
	if err != nil || len(vs) == 0 {
		return nil, false, err
	}
	return sliceValue(vs[0], offset, size), true, nil
}

func (l *LRUCache[T]) ReadMultiple(index Index, key []byte) ([][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	vs, err := l.fetch(index, key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vs))
	for i, v := range vs {
		out[i] = append([]byte(nil), v...)
	}
	return out, nil
}

func (l *LRUCache[T]) ReadAll(index Index) (map[string][][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	return l.lower.ReadAll(index)
}

func (l *LRUCache[T]) ReadAllUnique(index Index) (map[string][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	return l.lower.ReadAllUnique(index)
}

func (l *LRUCache[T]) Exists(index Index, key []byte) (bool, error) {
	if !index.Valid() {
		return false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	vs, err := l.fetch(index, key)
	if err != nil {
		return false, err
	}
	return len(vs) > 0, nil
}

func (l *LRUCache[T]) BeginDBTransaction(hintSizeBytes int64) error {
	return l.lower.BeginDBTransaction(hintSizeBytes)
}

func (l *LRUCache[T]) CommitDBTransaction() error {
	return l.lower.CommitDBTransaction()
}

func (l *LRUCache[T]) AbortDBTransaction() error {
	l.entries.Purge()
	return l.lower.AbortDBTransaction()
}

func (l *LRUCache[T]) Flush(hintSizeBytes int64) (bool, error) {
	return l.lower.Flush(hintSizeBytes)
}

func (l *LRUCache[T]) ClearCache() {
	l.entries.Purge()
	l.lower.ClearCache()
}

func (l *LRUCache[T]) GetFlushCount() uint64 {
	return l.lower.GetFlushCount()
}

func (l *LRUCache[T]) Close() error {
	l.entries.Purge()
	return l.lower.Close()
}
