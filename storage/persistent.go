// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"go.etcd.io/bbolt"

	"github.com/ledger-labs/chaindb/fault"
)

// initialMapSize and maxMapGrowths bound the simulated map-size
// growth-and-retry loop described in spec §4.2. bbolt itself grows its
// mmap transparently and essentially never runs out of address space on
// a 64-bit host, so PersistentBackend imposes its own admission-control
// ceiling and doubles it on demand, mirroring the LMDB behaviour the
// spec is modelled on.
const (
	initialMapSize = 1 << 20 // 1 MiB
	maxMapGrowths  = 20      // 1 MiB doubled 20 times is 1 TiB
)

// PersistentBackend is the durable, memory-mapped B+Tree implementation of
// IDB, backed by go.etcd.io/bbolt. Every index is one top-level bucket;
// duplicate-allowed indexes store their values in a nested bucket keyed by
// insertion sequence so that ReadMultiple preserves write order.
type PersistentBackend struct {
	mu sync.Mutex

	db      *bbolt.DB
	dataDir string

	mapSize int64

	tx        *bbolt.Tx
	journal   []pbOp
	journaled int64 // approximate bytes staged in the current transaction

	flushCount uint64
	closed     bool
}

type pbOpKind int

const (
	pbOpWrite pbOpKind = iota
	pbOpErase
	pbOpEraseAll
)

type pbOp struct {
	kind  pbOpKind
	index Index
	key   []byte
	value []byte
}

// OpenPersistentBackend opens (creating if necessary) a bbolt-backed store
// rooted at dir. dir holds two entries: data.db, the memory-mapped B+Tree
// file, and LOCK, an empty sentinel matching the data-file-plus-lock-file
// layout described in spec §6 (the real advisory lock is bbolt's flock on
// data.db itself; LOCK exists so directory tooling sees the layout it
// expects). A second concurrent open of the same dir fails deterministically
// within lockTimeout instead of blocking forever.
func OpenPersistentBackend(dir string, clearBeforeOpen bool) (*PersistentBackend, error) {
	if clearBeforeOpen {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fault.IOError(err.Error())
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fault.IOError(err.Error())
	}

	lockPath := filepath.Join(dir, "LOCK")
	if f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDONLY, 0o600); err == nil {
		f.Close()
	}

	const lockTimeout = 2 * time.Second
	db, err := bbolt.Open(filepath.Join(dir, "data.db"), 0o600, &bbolt.Options{
		Timeout: lockTimeout,
	})
	if err != nil {
		if err == bbolt.ErrTimeout {
			return nil, fault.ErrAlreadyLocked
		}
		return nil, fault.IOError(err.Error())
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, idx := range AllIndexes() {
			if _, err := tx.CreateBucketIfNotExists(idx.bucketName()); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fault.IOError(err.Error())
	}

	return &PersistentBackend{
		db:      db,
		dataDir: dir,
		mapSize: initialMapSize,
	}, nil
}

func (p *PersistentBackend) checkOpen() error {
	if p.closed {
		return fault.ErrDatabaseIsNotSet
	}
	return nil
}

// encodeValue transparently snappy-compresses values at rest.
func encodeValue(value []byte) []byte {
	return snappy.Encode(nil, value)
}

func decodeValue(stored []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, stored)
	if err != nil {
		return nil, fault.CorruptionError(err.Error())
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func (p *PersistentBackend) Write(index Index, key []byte, value []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(index, value); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}

	op := pbOp{kind: pbOpWrite, index: index, key: append([]byte(nil), key...), value: append([]byte(nil), value...)}
	if p.tx != nil {
		return p.stageAndApply(op)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return applyOp(tx, op)
	})
}

func (p *PersistentBackend) Erase(index Index, key []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}

	op := pbOp{kind: pbOpErase, index: index, key: append([]byte(nil), key...)}
	if p.tx != nil {
		return p.stageAndApply(op)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return applyOp(tx, op)
	})
}

func (p *PersistentBackend) EraseAll(index Index, key []byte) error {
	if !index.Valid() {
		return fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}

	op := pbOp{kind: pbOpEraseAll, index: index, key: append([]byte(nil), key...)}
	if p.tx != nil {
		return p.stageAndApply(op)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return applyOp(tx, op)
	})
}

// stageAndApply appends op to the current transaction's journal, applies it
// to the live bbolt transaction, and grows-and-retries if the simulated
// map-size ceiling is exceeded. Must be called with p.mu held and p.tx set.
func (p *PersistentBackend) stageAndApply(op pbOp) error {
	estimate := int64(len(op.key) + len(op.value) + 16)
	if p.journaled+estimate > p.mapSize {
		if err := p.growAndReplay(); err != nil {
			return err
		}
	}

	if err := applyOp(p.tx, op); err != nil {
		if err := p.growAndReplay(); err != nil {
			return err
		}
		if err := applyOp(p.tx, op); err != nil {
			return fault.IOError(err.Error())
		}
	}

	p.journal = append(p.journal, op)
	p.journaled += estimate
	return nil
}

// growAndReplay doubles the simulated map ceiling, opens a fresh bbolt write
// transaction and replays every previously staged op into it, implementing
// the "abort, double, retry" cycle from spec §4.2 at the granularity LMDB
// itself requires: on map-full the whole write transaction restarts.
func (p *PersistentBackend) growAndReplay() error {
	if p.tx == nil {
		return fault.ErrNoActiveTransaction
	}

	for growths := 0; growths < maxMapGrowths; growths++ {
		p.mapSize *= 2
		pbLog.Infof("growing map size to %d bytes for %s", p.mapSize, p.dataDir)

		if err := p.tx.Rollback(); err != nil {
			return fault.IOError(err.Error())
		}
		tx, err := p.db.Begin(true)
		if err != nil {
			return fault.IOError(err.Error())
		}
		p.tx = tx

		ok := true
		for _, op := range p.journal {
			if err := applyOp(p.tx, op); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return nil
		}
	}
	pbLog.Warnf("map growth budget exhausted for %s at %d bytes", p.dataDir, p.mapSize)
	return fault.ErrMapGrowthExhausted
}

func applyOp(tx *bbolt.Tx, op pbOp) error {
	bucket := tx.Bucket(op.index.bucketName())
	switch op.kind {
	case pbOpWrite:
		if DuplicateKeysAllowed(op.index) {
			sub, err := bucket.CreateBucketIfNotExists(op.key)
			if err != nil {
				return err
			}
			seq, err := sub.NextSequence()
			if err != nil {
				return err
			}
			return sub.Put(seqKey(seq), encodeValue(op.value))
		}
		return bucket.Put(op.key, encodeValue(op.value))

	case pbOpErase:
		if DuplicateKeysAllowed(op.index) {
			sub := bucket.Bucket(op.key)
			if sub == nil {
				return nil
			}
			c := sub.Cursor()
			if k, _ := c.First(); k != nil {
				if err := sub.Delete(k); err != nil {
					return err
				}
			}
			// drop the key once its last value is gone, as MemoryBackend does
			if k, _ := sub.Cursor().First(); k == nil {
				return bucket.DeleteBucket(op.key)
			}
			return nil
		}
		return bucket.Delete(op.key)

	case pbOpEraseAll:
		if DuplicateKeysAllowed(op.index) {
			if bucket.Bucket(op.key) == nil {
				return nil
			}
			return bucket.DeleteBucket(op.key)
		}
		return bucket.Delete(op.key)
	}
	return nil
}

func readOne(bucket *bbolt.Bucket, index Index, key []byte) ([]byte, bool, error) {
	if DuplicateKeysAllowed(index) {
		sub := bucket.Bucket(key)
		if sub == nil {
			return nil, false, nil
		}
		c := sub.Cursor()
		_, v := c.First()
		if v == nil {
			return nil, false, nil
		}
		out, err := decodeValue(v)
		return out, true, err
	}
	v := bucket.Get(key)
	if v == nil {
		return nil, false, nil
	}
	out, err := decodeValue(v)
	return out, true, err
}

func readAllValues(bucket *bbolt.Bucket, index Index, key []byte) ([][]byte, error) {
	if DuplicateKeysAllowed(index) {
		sub := bucket.Bucket(key)
		if sub == nil {
			return [][]byte{}, nil
		}
		var out [][]byte
		c := sub.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			dec, err := decodeValue(v)
			if err != nil {
				return nil, err
			}
			out = append(out, dec)
		}
		return out, nil
	}
	v := bucket.Get(key)
	if v == nil {
		return [][]byte{}, nil
	}
	dec, err := decodeValue(v)
	if err != nil {
		return nil, err
	}
	return [][]byte{dec}, nil
}

func (p *PersistentBackend) Read(index Index, key []byte, offset int, size int) ([]byte, bool, error) {
	if !index.Valid() {
		return nil, false, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return nil, false, err
	}

	var value []byte
	var found bool
	read := func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(index.bucketName())
		v, ok, err := readOne(bucket, index, key)
		value, found = v, ok
		return err
	}

	var err error
	if p.tx != nil {
		err = read(p.tx)
	} else {
		err = p.db.View(read)
	}
	if err != nil || !found {
		return nil, found, err
	}
	return sliceValue(value, offset, size), true, nil
}

func (p *PersistentBackend) ReadMultiple(index Index, key []byte) ([][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	var out [][]byte
	read := func(tx *bbolt.Tx) error {
		var err error
		out, err = readAllValues(tx.Bucket(index.bucketName()), index, key)
		return err
	}
	var err error
	if p.tx != nil {
		err = read(p.tx)
	} else {
		err = p.db.View(read)
	}
	return out, err
}

func (p *PersistentBackend) ReadAll(index Index) (map[string][][]byte, error) {
	if !index.Valid() {
		return nil, fault.ErrInvalidIndex
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	out := make(map[string][][]byte)
	read := func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(index.bucketName())
		return bucket.ForEach(func(k, v []byte) error {
			vs, err := readAllValues(bucket, index, k)
			if err != nil {
				return err
			}
			out[string(k)] = vs
			return nil
		})
	}
	var err error
	if p.tx != nil {
		err = read(p.tx)
	} else {
		err = p.db.View(read)
	}
	return out, err
}

func (p *PersistentBackend) ReadAllUnique(index Index) (map[string][]byte, error) {
	all, err := p.ReadAll(index)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(all))
	for k, vs := range all {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out, nil
}

func (p *PersistentBackend) Exists(index Index, key []byte) (bool, error) {
	_, found, err := p.Read(index, key, 0, ToEnd)
	return found, err
}

func (p *PersistentBackend) BeginDBTransaction(hintSizeBytes int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.tx != nil {
		return fault.ErrNestedTransaction
	}

	if hintSizeBytes > 0 && 2*hintSizeBytes > p.mapSize {
		p.mapSize = 2 * hintSizeBytes
	}

	tx, err := p.db.Begin(true)
	if err != nil {
		return fault.IOError(err.Error())
	}
	p.tx = tx
	p.journal = p.journal[:0]
	p.journaled = 0
	return nil
}

func (p *PersistentBackend) CommitDBTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.tx == nil {
		return fault.ErrNoActiveTransaction
	}

	if err := p.tx.Commit(); err != nil {
		if err := p.growAndReplay(); err != nil {
			return err
		}
		if err := p.tx.Commit(); err != nil {
			p.tx = nil
			return fault.IOError(err.Error())
		}
	}
	p.tx = nil
	p.journal = nil
	p.journaled = 0
	return nil
}

func (p *PersistentBackend) AbortDBTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.tx == nil {
		return fault.ErrNoActiveTransaction
	}
	err := p.tx.Rollback()
	p.tx = nil
	p.journal = nil
	p.journaled = 0
	if err != nil {
		return fault.IOError(err.Error())
	}
	return nil
}

// Flush is a no-op: PersistentBackend sits at the bottom of the stack and
// has nothing buffered above the durable file.
func (p *PersistentBackend) Flush(hintSizeBytes int64) (bool, error) {
	return true, nil
}

// ClearCache is a no-op for the same reason: bbolt's own page cache is an
// implementation detail, not observable store state.
func (p *PersistentBackend) ClearCache() {}

func (p *PersistentBackend) GetFlushCount() uint64 { return p.flushCount }

func (p *PersistentBackend) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if p.tx != nil {
		p.tx.Rollback()
		p.tx = nil
	}
	p.closed = true
	if err := p.db.Close(); err != nil {
		return fault.IOError(err.Error())
	}
	return nil
}
