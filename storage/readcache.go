// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ledger-labs/chaindb/fault"
)

// ReadThroughCache caches the results of reads against a lower IDB.
// Writes and erasures pass straight through to lower and invalidate any
// cached entry for the affected key; nothing is buffered, so
// BeginDBTransaction/CommitDBTransaction/AbortDBTransaction and Flush all
// delegate to lower unchanged.
type ReadThroughCache struct {
	lower IDB
	cache *gocache.Cache
}

// NewReadThroughCache wraps lower with a read cache. Entries expire ttl
// after they were cached (reading an entry does not extend its life) and
// expired entries are swept every cleanupInterval;
// ttl <= 0 means cached entries never expire on their own (only explicit
// invalidation or ClearCache evicts them).
func NewReadThroughCache(lower IDB, ttl, cleanupInterval time.Duration) *ReadThroughCache {
	return &ReadThroughCache{
		lower: lower,
		cache: gocache.New(ttl, cleanupInterval),
	}
}

func cacheKey(index Index, key []byte) string {
	return strconv.Itoa(int(index)) + ":" + string(key)
}

func (r *ReadThroughCache) invalidate(index Index, key []byte) {
	r.cache.Delete(cacheKey(index, key))
}

func (r *ReadThroughCache) Write(index Index, key []byte, value []byte) error {
	if err := r.lower.Write(index, key, value); err != nil {
		return err
	}
	r.invalidate(index, key)
	return nil
}

func (r *ReadThroughCache) Erase(index Index, key []byte) error {
	if err := r.lower.Erase(index, key); err != nil {
		return err
	}
	r.invalidate(index, key)
	return nil
}

func (r *ReadThroughCache) EraseAll(index Index, key []byte) error {
	if err := r.lower.EraseAll(index, key); err != nil {
		return err
	}
	r.invalidate(index, key)
	return nil
}

// fetch returns the full, insertion-ordered value list for key, filling the
// cache from lower on a miss.
func (r *ReadThroughCache) fetch(index Index, key []byte) ([][]byte, error) {
	ck := cacheKey(index, key)
	if cached, ok := r.cache.Get(ck); ok {
		return cached.([][]byte), nil
	}
	vs, err := r.lower.ReadMultiple(index, key)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(ck, vs)
	return vs, nil
}

func (r *ReadThroughCache) Read(index Index, key []byte, offset int, size int) ([]byte, bool, error) {
	if !index.Valid() {
		return nil, false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	vs, err := r.fetch(index, key)
	if err != nil || len(vs) == 0 {
		return nil, false, err
	}
	return sliceValue(vs[0], offset, size), true, nil
}

func (r *ReadThroughCache) ReadMultiple(index Index, key []byte) ([][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	vs, err := r.fetch(index, key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vs))
	for i, v := range vs {
		out[i] = append([]byte(nil), v...)
	}
	return out, nil
}

// ReadAll and ReadAllUnique bypass the per-key cache: a full-index sweep is
// already a single pass over lower and populating per-key cache entries for
// every key would evict far more useful entries than it saves.
func (r *ReadThroughCache) ReadAll(index Index) (map[string][][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	return r.lower.ReadAll(index)
}

func (r *ReadThroughCache) ReadAllUnique(index Index) (map[string][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	return r.lower.ReadAllUnique(index)
}

func (r *ReadThroughCache) Exists(index Index, key []byte) (bool, error) {
	if !index.Valid() {
		return false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	vs, err := r.fetch(index, key)
	if err != nil {
		return false, err
	}
	return len(vs) > 0, nil
}

func (r *ReadThroughCache) BeginDBTransaction(hintSizeBytes int64) error {
	return r.lower.BeginDBTransaction(hintSizeBytes)
}

func (r *ReadThroughCache) CommitDBTransaction() error {
	return r.lower.CommitDBTransaction()
}

func (r *ReadThroughCache) AbortDBTransaction() error {
	// Cached reads taken mid-transaction may reflect writes that are
	// about to be discarded; simplest correct behaviour is to drop them.
	r.cache.Flush()
	return r.lower.AbortDBTransaction()
}

func (r *ReadThroughCache) Flush(hintSizeBytes int64) (bool, error) {
	return r.lower.Flush(hintSizeBytes)
}

func (r *ReadThroughCache) ClearCache() {
	r.cache.Flush()
	r.lower.ClearCache()
}

func (r *ReadThroughCache) GetFlushCount() uint64 {
	return r.lower.GetFlushCount()
}

func (r *ReadThroughCache) Close() error {
	r.cache.Flush()
	return r.lower.Close()
}
