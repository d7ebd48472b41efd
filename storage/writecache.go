// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"sync"

	"github.com/ledger-labs/chaindb/fault"
)

// WriteThroughCache buffers writes and erasures in memory and applies them
// to the layer beneath on Flush: an explicit call, an automatic flush once
// the buffer grows past cacheMaxSize, or Close. Reads for a key the cache
// has touched are answered from the buffer; reads for anything else fall
// through to the lower layer untouched, so the cache never needs to warm
// itself on open.
type WriteThroughCache struct {
	mu sync.Mutex

	lower IDB

	pending [numIndexes]map[string][][]byte
	touched [numIndexes]map[string]bool

	inTxn        bool
	savedPending [numIndexes]map[string][][]byte
	savedTouched [numIndexes]map[string]bool

	// cacheMaxSize is the approximate buffered-byte threshold past which
	// a write auto-flushes (spec §4.4); 0 means never auto-flush.
	cacheMaxSize int64
	approxBytes  int64

	flushCount uint64
	closed     bool
}

// NewWriteThroughCache wraps lower with a buffered write layer. cacheMaxSize
// is the approximate buffered-byte threshold that triggers an automatic
// flush; 0 disables auto-flush (buffer only drains on an explicit Flush or
// on Close). lower is owned by the returned cache: closing the cache closes
// lower.
func NewWriteThroughCache(lower IDB, cacheMaxSize int64) *WriteThroughCache {
	w := &WriteThroughCache{lower: lower, cacheMaxSize: cacheMaxSize}
	for i := range w.pending {
		w.pending[i] = make(map[string][][]byte)
		w.touched[i] = make(map[string]bool)
	}
	return w
}

func (w *WriteThroughCache) checkOpen() error {
	if w.closed {
		return fault.ErrDatabaseIsNotSet
	}
	return nil
}

// hydrate ensures pending[index][key] holds the full, authoritative value
// list for key before it is mutated in place.
func (w *WriteThroughCache) hydrate(index Index, key string) error {
	if w.touched[index][key] {
		return nil
	}
	vs, err := w.lower.ReadMultiple(index, []byte(key))
	if err != nil {
		return err
	}
	w.pending[index][key] = vs
	w.touched[index][key] = true
	return nil
}

func (w *WriteThroughCache) Write(index Index, key []byte, value []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(index, value); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	k := string(key)
	if err := w.hydrate(index, k); err != nil {
		return err
	}
	v := append([]byte(nil), value...)
	if DuplicateKeysAllowed(index) {
		w.pending[index][k] = append(w.pending[index][k], v)
	} else {
		w.pending[index][k] = [][]byte{v}
	}
	w.approxBytes += int64(len(key) + len(value))
	return w.maybeAutoFlush()
}

func (w *WriteThroughCache) Erase(index Index, key []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	k := string(key)
	if err := w.hydrate(index, k); err != nil {
		return err
	}
	if vs := w.pending[index][k]; len(vs) > 0 {
		w.pending[index][k] = vs[1:]
	}
	w.approxBytes += int64(len(key))
	return w.maybeAutoFlush()
}

func (w *WriteThroughCache) EraseAll(index Index, key []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	k := string(key)
	w.pending[index][k] = nil
	w.touched[index][k] = true
	w.approxBytes += int64(len(key))
	return w.maybeAutoFlush()
}

func (w *WriteThroughCache) Read(index Index, key []byte, offset int, size int) ([]byte, bool, error) {
	if !index.Valid() {
		return nil, false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return nil, false, err
	}
	k := string(key)
	if w.touched[index][k] {
		vs := w.pending[index][k]
		if len(vs) == 0 {
			return nil, false, nil
		}
		return sliceValue(vs[0], offset, size), true, nil
	}
	return w.lower.Read(index, key, offset, size)
}

func (w *WriteThroughCache) ReadMultiple(index Index, key []byte) ([][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	k := string(key)
	if w.touched[index][k] {
		out := make([][]byte, len(w.pending[index][k]))
		for i, v := range w.pending[index][k] {
			out[i] = append([]byte(nil), v...)
		}
		return out, nil
	}
	return w.lower.ReadMultiple(index, key)
}

func (w *WriteThroughCache) ReadAll(index Index) (map[string][][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	out, err := w.lower.ReadAll(index)
	if err != nil {
		return nil, err
	}
	for k, touched := range w.touched[index] {
		if !touched {
			continue
		}
		vs := w.pending[index][k]
		if len(vs) == 0 {
			delete(out, k)
			continue
		}
		cp := make([][]byte, len(vs))
		for i, v := range vs {
			cp[i] = append([]byte(nil), v...)
		}
		out[k] = cp
	}
	return out, nil
}

func (w *WriteThroughCache) ReadAllUnique(index Index) (map[string][]byte, error) {
	all, err := w.ReadAll(index)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(all))
	for k, vs := range all {
		out[k] = vs[0]
	}
	return out, nil
}

func (w *WriteThroughCache) Exists(index Index, key []byte) (bool, error) {
	if !index.Valid() {
		return false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return false, err
	}
	k := string(key)
	if w.touched[index][k] {
		return len(w.pending[index][k]) > 0, nil
	}
	return w.lower.Exists(index, key)
}

func (w *WriteThroughCache) BeginDBTransaction(hintSizeBytes int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	if w.inTxn {
		return fault.ErrNestedTransaction
	}
	for i := range w.pending {
		w.savedPending[i] = cloneTable(w.pending[i])
		w.savedTouched[i] = cloneBoolMap(w.touched[i])
	}
	w.inTxn = true
	return nil
}

func cloneBoolMap(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (w *WriteThroughCache) CommitDBTransaction() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	if !w.inTxn {
		return fault.ErrNoActiveTransaction
	}
	w.inTxn = false
	for i := range w.savedPending {
		w.savedPending[i] = nil
		w.savedTouched[i] = nil
	}
	return nil
}

func (w *WriteThroughCache) AbortDBTransaction() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	if !w.inTxn {
		return fault.ErrNoActiveTransaction
	}
	for i := range w.pending {
		w.pending[i] = w.savedPending[i]
		w.touched[i] = w.savedTouched[i]
		w.savedPending[i] = nil
		w.savedTouched[i] = nil
	}
	w.inTxn = false
	return nil
}

// Flush drains every buffered key down to lower inside a single lower-level
// transaction sized by hintSizeBytes, then clears the buffer so subsequent
// reads go straight to lower again. Flushing an empty buffer is a
// successful no-op and does not advance GetFlushCount.
func (w *WriteThroughCache) Flush(hintSizeBytes int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(hintSizeBytes)
}

// flushLocked implements Flush assuming w.mu is already held; it is also
// the auto-flush path triggered from Write once cacheMaxSize is exceeded.
func (w *WriteThroughCache) flushLocked(hintSizeBytes int64) (bool, error) {
	if err := w.checkOpen(); err != nil {
		return false, err
	}

	type dirtyKey struct {
		index Index
		key   string
	}
	var dirty []dirtyKey
	for idx := range w.touched {
		for k, t := range w.touched[Index(idx)] {
			if t {
				dirty = append(dirty, dirtyKey{Index(idx), k})
			}
		}
	}
	if len(dirty) == 0 {
		return true, nil
	}

	if err := w.lower.BeginDBTransaction(hintSizeBytes); err != nil {
		return false, err
	}
	for _, d := range dirty {
		if err := w.lower.EraseAll(d.index, []byte(d.key)); err != nil {
			w.lower.AbortDBTransaction()
			return false, err
		}
		for _, v := range w.pending[d.index][d.key] {
			if err := w.lower.Write(d.index, []byte(d.key), v); err != nil {
				w.lower.AbortDBTransaction()
				return false, err
			}
		}
	}
	if err := w.lower.CommitDBTransaction(); err != nil {
		return false, err
	}

	for i := range w.pending {
		w.pending[i] = make(map[string][][]byte)
		w.touched[i] = make(map[string]bool)
	}
	w.approxBytes = 0
	w.flushCount++
	wtcLog.Debugf("flushed %d dirty keys (flush #%d)", len(dirty), w.flushCount)
	return true, nil
}

// maybeAutoFlush triggers flushLocked once the buffered byte estimate
// exceeds cacheMaxSize. Never fires mid-transaction: the WTC's own
// transaction is purely in-memory (spec §4.4), and the one lower-layer
// write transaction belongs solely to flush.
func (w *WriteThroughCache) maybeAutoFlush() error {
	if w.cacheMaxSize <= 0 || w.inTxn || w.approxBytes <= w.cacheMaxSize {
		return nil
	}
	_, err := w.flushLocked(w.approxBytes)
	return err
}

// ClearCache discards buffered, unflushed writes and forwards the call to
// lower.
func (w *WriteThroughCache) ClearCache() {
	w.mu.Lock()
	for i := range w.pending {
		w.pending[i] = make(map[string][][]byte)
		w.touched[i] = make(map[string]bool)
	}
	w.approxBytes = 0
	w.mu.Unlock()
	w.lower.ClearCache()
}

func (w *WriteThroughCache) GetFlushCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushCount
}

func (w *WriteThroughCache) Close() error {
	if _, err := w.Flush(0); err != nil {
		return err
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.lower.Close()
}
