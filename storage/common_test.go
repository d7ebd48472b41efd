// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"testing"
)

// backendFactory builds a fresh, empty IDB and registers its cleanup with
// t.Cleanup.
// Used to run the same property tests against every backend and stack, per
// the oracle-equivalence idea in spec §8.
type backendFactory struct {
	name string
	new  func(t *testing.T) IDB
}

func persistentBackendFactory() backendFactory {
	return backendFactory{
		name: "PersistentBackend",
		new: func(t *testing.T) IDB {
			dir := t.TempDir()
			pb, err := OpenPersistentBackend(dir, false)
			if err != nil {
				t.Fatalf("OpenPersistentBackend: %v", err)
			}
			t.Cleanup(func() { pb.Close() })
			return pb
		},
	}
}

func memoryBackendFactory() backendFactory {
	return backendFactory{
		name: "MemoryBackend",
		new: func(t *testing.T) IDB {
			m := NewMemoryBackend()
			t.Cleanup(func() { m.Close() })
			return m
		},
	}
}

func writeThroughOverMemoryFactory() backendFactory {
	return backendFactory{
		name: "WriteThroughCache(Memory)",
		new: func(t *testing.T) IDB {
			w := NewWriteThroughCache(NewMemoryBackend(), 0)
			t.Cleanup(func() { w.Close() })
			return w
		},
	}
}

func readThroughOverMemoryFactory() backendFactory {
	return backendFactory{
		name: "ReadThroughCache(Memory)",
		new: func(t *testing.T) IDB {
			r := NewReadThroughCache(NewMemoryBackend(), 0, 0)
			t.Cleanup(func() { r.Close() })
			return r
		},
	}
}

func lruOverReadThroughFactory() backendFactory {
	return backendFactory{
		name: "LRU(ReadThrough(Memory))",
		new: func(t *testing.T) IDB {
			rtc := NewReadThroughCache(NewMemoryBackend(), 0, 0)
			l, err := NewLRUCache[*ReadThroughCache](rtc, 128)
			if err != nil {
				t.Fatalf("NewLRUCache: %v", err)
			}
			t.Cleanup(func() { l.Close() })
			return l
		},
	}
}

func fullStackFactory() backendFactory {
	return backendFactory{
		name: "LRU(ReadThrough(WriteThrough(Persistent)))",
		new: func(t *testing.T) IDB {
			dir := t.TempDir()
			pb, err := OpenPersistentBackend(dir, false)
			if err != nil {
				t.Fatalf("OpenPersistentBackend: %v", err)
			}
			wtc := NewWriteThroughCache(pb, 0)
			rtc := NewReadThroughCache(wtc, 0, 0)
			l, err := NewLRUCache[*ReadThroughCache](rtc, 128)
			if err != nil {
				t.Fatalf("NewLRUCache: %v", err)
			}
			t.Cleanup(func() { l.Close() })
			return l
		},
	}
}

func allFactories() []backendFactory {
	return []backendFactory{
		persistentBackendFactory(),
		memoryBackendFactory(),
		writeThroughOverMemoryFactory(),
		readThroughOverMemoryFactory(),
		lruOverReadThroughFactory(),
		fullStackFactory(),
	}
}
