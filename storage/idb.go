// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"github.com/ledger-labs/chaindb/fault"
)

// ToEnd is passed as the size argument to Read to mean "return everything
// from offset to the end of the value".
const ToEnd = -1

// IDB is the contract every backend and every cache layer implements.
// Composition happens entirely against this interface: a cache layer's
// lower layer is typed as IDB, so any stack (LRUCache over
// ReadThroughCache over PersistentBackend, WriteThroughCache over
// MemoryBackend, ...) is interchangeable with a bare backend.
type IDB interface {
	// Write inserts a value for key in index. For unique indexes this
	// replaces any existing value; for duplicate-allowed indexes it
	// appends a new, distinct value.
	Write(index Index, key []byte, value []byte) error

	// Read returns the value stored for key in index, sliced to
	// [offset:offset+size) (offset clamped to the value length, size ==
	// ToEnd meaning "through the end"). The second return is false if
	// the key has no value in index.
	Read(index Index, key []byte, offset int, size int) ([]byte, bool, error)

	// ReadMultiple returns every value stored for key, in insertion
	// order for duplicate-allowed indexes, or 0-1 values otherwise. A
	// missing key yields an empty, non-nil slice.
	ReadMultiple(index Index, key []byte) ([][]byte, error)

	// ReadAll returns every key in index together with its
	// insertion-ordered values.
	ReadAll(index Index) (map[string][][]byte, error)

	// ReadAllUnique returns one value per key in index; for
	// duplicate-allowed indexes the choice of which stored value is
	// unspecified but deterministic for a given call.
	ReadAllUnique(index Index) (map[string][]byte, error)

	// Exists reports whether key has at least one value in index.
	Exists(index Index, key []byte) (bool, error)

	// Erase removes one value for key: the value for a unique index, or
	// an arbitrary single value for a duplicate-allowed index. Erasing
	// an absent key is not an error.
	Erase(index Index, key []byte) error

	// EraseAll removes every value stored for key. Erasing an absent
	// key is not an error.
	EraseAll(index Index, key []byte) error

	// BeginDBTransaction opens a write transaction on this layer.
	// hintSizeBytes is an estimated upper bound on the bytes that will
	// be written; backends use it to pre-grow storage. Nested begins
	// fail with fault.ErrNestedTransaction.
	BeginDBTransaction(hintSizeBytes int64) error

	// CommitDBTransaction atomically applies the staged writes/erases
	// made since BeginDBTransaction and makes them visible.
	CommitDBTransaction() error

	// AbortDBTransaction discards the staged writes/erases made since
	// BeginDBTransaction.
	AbortDBTransaction() error

	// Flush drains any upper-layer write buffer into the layer below
	// via a single transaction sized by hintSizeBytes. Layers with
	// nothing to buffer treat this as a no-op success.
	Flush(hintSizeBytes int64) (bool, error)

	// ClearCache discards any cached read/write state held by this
	// layer (and, for pass-through layers, the layer below).
	ClearCache()

	// GetFlushCount returns the number of times Flush has actually
	// drained a non-empty buffer. Backends with no buffer return 0.
	GetFlushCount() uint64

	// Close flushes, commits any implicit batch and releases the
	// resources owned by this layer and everything beneath it.
	Close() error
}

// validateKey enforces the key length invariant shared by every layer.
func validateKey(key []byte) error {
	if len(key) == 0 {
		return fault.ErrEmptyKey
	}
	if len(key) > MaxKeyLength {
		return fault.ErrKeyTooLong
	}
	return nil
}

// validateValue enforces the per-index value size ceiling from spec §3.
func validateValue(index Index, value []byte) error {
	if DuplicateKeysAllowed(index) && len(value) > MaxDuplicateValueLength {
		return fault.ErrDuplicateValueTooLarge
	}
	return nil
}

// sliceValue implements the offset/size clamp shared by every Read
// implementation: start clamps to len(value), and the window extends at
// most size bytes (size == ToEnd meaning to the end).
func sliceValue(value []byte, offset int, size int) []byte {
	if offset < 0 {
		offset = 0
	}
	if offset > len(value) {
		offset = len(value)
	}
	end := len(value)
	if size != ToEnd {
		if size < 0 {
			size = 0
		}
		if offset+size < end {
			end = offset + size
		}
	}
	out := make([]byte, end-offset)
	copy(out, value[offset:end])
	return out
}
