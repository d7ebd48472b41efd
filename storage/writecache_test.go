// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThroughCacheBuffersUntilFlush(t *testing.T) {
	lower := NewMemoryBackend()
	w := NewWriteThroughCache(lower, 0)
	defer w.Close()

	require.NoError(t, w.Write(MAIN, []byte("k"), []byte("v")))

	// not yet visible on the lower layer
	_, found, err := lower.Read(MAIN, []byte("k"), 0, ToEnd)
	require.NoError(t, err)
	assert.False(t, found)

	// but visible through the cache
	v, found, err := w.Read(MAIN, []byte("k"), 0, ToEnd)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), v)

	ok, err := w.Flush(0)
	require.NoError(t, err)
	assert.True(t, ok)

	v, found, err = lower.Read(MAIN, []byte("k"), 0, ToEnd)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), v)
}

func TestWriteThroughCacheFlushCount(t *testing.T) {
	w := NewWriteThroughCache(NewMemoryBackend(), 0)
	defer w.Close()

	assert.Equal(t, uint64(0), w.GetFlushCount())

	// flushing nothing buffered does not advance the counter
	ok, err := w.Flush(0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), w.GetFlushCount())

	require.NoError(t, w.Write(MAIN, []byte("k"), []byte("v")))
	_, err = w.Flush(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), w.GetFlushCount())

	require.NoError(t, w.Write(MAIN, []byte("k2"), []byte("v2")))
	_, err = w.Flush(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), w.GetFlushCount())
}

func TestWriteThroughCacheReadsUntouchedKeysFromLower(t *testing.T) {
	lower := NewMemoryBackend()
	require.NoError(t, lower.Write(MAIN, []byte("existing"), []byte("value")))

	w := NewWriteThroughCache(lower, 0)
	defer w.Close()

	v, found, err := w.Read(MAIN, []byte("existing"), 0, ToEnd)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("value"), v)
}

func TestWriteThroughCacheClearCacheDropsUnflushedWrites(t *testing.T) {
	lower := NewMemoryBackend()
	w := NewWriteThroughCache(lower, 0)
	defer w.Close()

	require.NoError(t, w.Write(MAIN, []byte("k"), []byte("v")))
	w.ClearCache()

	// the write was discarded, not flushed
	_, found, err := w.Read(MAIN, []byte("k"), 0, ToEnd)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteThroughCacheAbortDiscardsBufferedDelta(t *testing.T) {
	lower := NewMemoryBackend()
	require.NoError(t, lower.Write(MAIN, []byte("k"), []byte("original")))

	w := NewWriteThroughCache(lower, 0)
	defer w.Close()

	require.NoError(t, w.BeginDBTransaction(0))
	require.NoError(t, w.Write(MAIN, []byte("k"), []byte("changed")))
	require.NoError(t, w.AbortDBTransaction())

	v, found, err := w.Read(MAIN, []byte("k"), 0, ToEnd)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("original"), v)
}

func TestWriteThroughCacheOnDuplicateIndexFlushesInOrder(t *testing.T) {
	lower := NewMemoryBackend()
	w := NewWriteThroughCache(lower, 0)
	defer w.Close()

	key := []byte("addr")
	require.NoError(t, w.Write(ADDRSVSPUBKEYS, key, []byte("p1")))
	require.NoError(t, w.Write(ADDRSVSPUBKEYS, key, []byte("p2")))
	require.NoError(t, w.Write(ADDRSVSPUBKEYS, key, []byte("p3")))

	_, err := w.Flush(0)
	require.NoError(t, err)

	vs, err := lower.ReadMultiple(ADDRSVSPUBKEYS, key)
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{string(vs[0]), string(vs[1]), string(vs[2])})
}

func TestWriteThroughCacheAutoFlushesPastCacheMaxSize(t *testing.T) {
	lower := NewMemoryBackend()
	w := NewWriteThroughCache(lower, 32)
	defer w.Close()

	require.NoError(t, w.Write(MAIN, []byte("k1"), []byte("0123456789012345")))
	assert.Equal(t, uint64(0), w.GetFlushCount())

	// this write pushes the buffered estimate past cacheMaxSize (32)
	require.NoError(t, w.Write(MAIN, []byte("k2"), []byte("0123456789012345")))
	assert.Equal(t, uint64(1), w.GetFlushCount())

	v, found, err := lower.Read(MAIN, []byte("k1"), 0, ToEnd)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "0123456789012345", string(v))
}

func TestWriteThroughCacheAutoFlushSuppressedDuringTransaction(t *testing.T) {
	lower := NewMemoryBackend()
	w := NewWriteThroughCache(lower, 8)
	defer w.Close()

	require.NoError(t, w.BeginDBTransaction(0))
	require.NoError(t, w.Write(MAIN, []byte("k1"), []byte("well past the threshold")))
	assert.Equal(t, uint64(0), w.GetFlushCount())
	require.NoError(t, w.CommitDBTransaction())
}
