// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package storage implements the embedded key/value store underneath the
// blockchain index, transaction store and token metadata store.
//
// The package defines one abstract contract, IDB, and a small closed set
// of implementations of it:
//
//   PersistentBackend  - a single-writer B+Tree store backed by a
//                         memory-mapped file (go.etcd.io/bbolt), with
//                         automatic map-size growth. One mutex serializes
//                         every call on an instance, reads included.
//   MemoryBackend      - an in-memory oracle with identical semantics,
//                         used by tests and as the bottom of throwaway
//                         stacks.
//   WriteThroughCache  - buffers writes/erases and flushes them to a
//                         lower IDB in a single transaction.
//   ReadThroughCache   - caches reads from a lower IDB; writes pass
//                         straight through.
//   LRUCache[T]         - a bounded-size read cache with LRU eviction,
//                         generic over the layer it wraps. It buffers no
//                         writes: writes and erasures pass straight
//                         through, even when it wraps a WriteThroughCache.
//
// Every layer implements IDB, so stacks compose freely:
// LRUCache[ReadThroughCache] over a PersistentBackend, a bare
// WriteThroughCache over a MemoryBackend, and so on. A cache layer owns
// its lower layer exclusively; closing the top of a stack closes
// everything beneath it.
//
// Data is partitioned into a fixed set of named indexes (see index.go).
// Some indexes allow more than one value per key (duplicate-keys-allowed
// indexes); the rest are single-valued, where a second write for an
// existing key replaces the first.
//
//   MAIN            - single key/value pairs, general purpose
//   BLOCKINDEX      - block header hash to height index
//   BLOCKS          - packed block records, by height
//   TX              - confirmed transaction records, by txid
//   NTP1TX          - NTP1 token transaction records, by txid
//   NTP1TOKENNAMES  - token name -> token metadata (duplicate keys allowed)
//   ADDRSVSPUBKEYS  - address -> public key (duplicate keys allowed)
package storage
