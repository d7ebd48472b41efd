// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"sort"
	"sync"

	"github.com/ledger-labs/chaindb/fault"
)

// MemoryBackend is a bottom-of-stack IDB implementation held entirely in
// process memory. It has no map-size ceiling and no flush buffer; every
// write is visible to readers the instant CommitDBTransaction returns.
// It exists to serve as the oracle in equivalence tests against
// PersistentBackend, and as a throwaway store for short-lived tools.
type MemoryBackend struct {
	mu sync.RWMutex

	// committed[index][string(key)] holds the insertion-ordered values
	// for key. Unique indexes only ever hold at most one element.
	committed [numIndexes]map[string][][]byte

	inTxn   bool
	journal []memOp
	staging [numIndexes]map[string][][]byte

	closed bool
}

type memOpKind int

const (
	memOpWrite memOpKind = iota
	memOpErase
	memOpEraseAll
)

type memOp struct {
	kind  memOpKind
	index Index
	key   string
	value []byte
}

// NewMemoryBackend returns an empty, ready-to-use in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{}
	for i := range m.committed {
		m.committed[i] = make(map[string][][]byte)
	}
	return m
}

func (m *MemoryBackend) checkOpen() error {
	if m.closed {
		return fault.ErrDatabaseIsNotSet
	}
	return nil
}

func (m *MemoryBackend) Write(index Index, key []byte, value []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(index, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	v := append([]byte(nil), value...)
	if m.inTxn {
		m.journal = append(m.journal, memOp{kind: memOpWrite, index: index, key: string(key), value: v})
		m.applyToStaging(memOp{kind: memOpWrite, index: index, key: string(key), value: v})
		return nil
	}
	m.applyWrite(m.committed[:], index, string(key), v)
	return nil
}

func (m *MemoryBackend) applyWrite(tables []map[string][][]byte, index Index, key string, value []byte) {
	if DuplicateKeysAllowed(index) {
		tables[index][key] = append(tables[index][key], value)
	} else {
		tables[index][key] = [][]byte{value}
	}
}

func (m *MemoryBackend) applyToStaging(op memOp) {
	switch op.kind {
	case memOpWrite:
		m.applyWrite(m.staging[:], op.index, op.key, op.value)
	case memOpErase:
		vs := m.staging[op.index][op.key]
		if len(vs) > 0 {
			m.staging[op.index][op.key] = vs[1:]
			if len(m.staging[op.index][op.key]) == 0 {
				delete(m.staging[op.index], op.key)
			}
		}
	case memOpEraseAll:
		delete(m.staging[op.index], op.key)
	}
}

func (m *MemoryBackend) Read(index Index, key []byte, offset int, size int) ([]byte, bool, error) {
	if !index.Valid() {
		return nil, false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, false, err
	}

	table := m.committed
	if m.inTxn {
		table = m.staging
	}
	vs := table[index][string(key)]
	if len(vs) == 0 {
		return nil, false, nil
	}
	return sliceValue(vs[0], offset, size), true, nil
}

func (m *MemoryBackend) ReadMultiple(index Index, key []byte) ([][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	table := m.committed
	if m.inTxn {
		table = m.staging
	}
	vs := table[index][string(key)]
	out := make([][]byte, len(vs))
	for i, v := range vs {
		out[i] = append([]byte(nil), v...)
	}
	return out, nil
}

func (m *MemoryBackend) ReadAll(index Index) (map[string][][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	table := m.committed
	if m.inTxn {
		table = m.staging
	}
	out := make(map[string][][]byte, len(table[index]))
	for k, vs := range table[index] {
		cp := make([][]byte, len(vs))
		for i, v := range vs {
			cp[i] = append([]byte(nil), v...)
		}
		out[k] = cp
	}
	return out, nil
}

func (m *MemoryBackend) ReadAllUnique(index Index) (map[string][]byte, error) {
	all, err := m.ReadAll(index)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(all))
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = all[k][0]
	}
	return out, nil
}

func (m *MemoryBackend) Exists(index Index, key []byte) (bool, error) {
	if !index.Valid() {
		return false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}

	table := m.committed
	if m.inTxn {
		table = m.staging
	}
	return len(table[index][string(key)]) > 0, nil
}

func (m *MemoryBackend) Erase(index Index, key []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	op := memOp{kind: memOpErase, index: index, key: string(key)}
	if m.inTxn {
		m.journal = append(m.journal, op)
		m.applyToStaging(op)
		return nil
	}
	vs := m.committed[index][string(key)]
	if len(vs) > 0 {
		m.committed[index][string(key)] = vs[1:]
		if len(m.committed[index][string(key)]) == 0 {
			delete(m.committed[index], string(key))
		}
	}
	return nil
}

func (m *MemoryBackend) EraseAll(index Index, key []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	op := memOp{kind: memOpEraseAll, index: index, key: string(key)}
	if m.inTxn {
		m.journal = append(m.journal, op)
		m.applyToStaging(op)
		return nil
	}
	delete(m.committed[index], string(key))
	return nil
}

func (m *MemoryBackend) BeginDBTransaction(hintSizeBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if m.inTxn {
		return fault.ErrNestedTransaction
	}
	m.inTxn = true
	m.journal = m.journal[:0]
	for i := range m.staging {
		m.staging[i] = cloneTable(m.committed[i])
	}
	return nil
}

func cloneTable(src map[string][][]byte) map[string][][]byte {
	dst := make(map[string][][]byte, len(src))
	for k, v := range src {
		dst[k] = append([][]byte(nil), v...)
	}
	return dst
}

func (m *MemoryBackend) CommitDBTransaction() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if !m.inTxn {
		return fault.ErrNoActiveTransaction
	}
	for i := range m.committed {
		m.committed[i] = m.staging[i]
		m.staging[i] = nil
	}
	m.inTxn = false
	m.journal = nil
	return nil
}

func (m *MemoryBackend) AbortDBTransaction() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if !m.inTxn {
		return fault.ErrNoActiveTransaction
	}
	for i := range m.staging {
		m.staging[i] = nil
	}
	m.inTxn = false
	m.journal = nil
	return nil
}

// Flush is a no-op: MemoryBackend has no upper buffer to drain.
func (m *MemoryBackend) Flush(hintSizeBytes int64) (bool, error) {
	return true, nil
}

// ClearCache is a no-op: MemoryBackend caches nothing beyond its own state.
func (m *MemoryBackend) ClearCache() {}

// GetFlushCount is always 0: a bottom-of-stack backend never flushes.
func (m *MemoryBackend) GetFlushCount() uint64 { return 0 }

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
