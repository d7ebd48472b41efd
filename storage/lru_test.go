// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	lower := NewMemoryBackend()
	l, err := NewLRUCache[*MemoryBackend](lower, 2)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 3; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, lower.Write(MAIN, key, key))
	}

	_, _, err = l.Read(MAIN, []byte("k0"), 0, ToEnd)
	require.NoError(t, err)
	_, _, err = l.Read(MAIN, []byte("k1"), 0, ToEnd)
	require.NoError(t, err)

	assert.Equal(t, 2, l.entries.Len())

	// touching k2 should evict k0, the least recently used entry
	_, _, err = l.Read(MAIN, []byte("k2"), 0, ToEnd)
	require.NoError(t, err)
	assert.Equal(t, 2, l.entries.Len())
	assert.False(t, l.entries.Contains(cacheKey(MAIN, []byte("k0"))))
	assert.True(t, l.entries.Contains(cacheKey(MAIN, []byte("k2"))))
}

func TestLRUCacheInvalidatesOnWrite(t *testing.T) {
	lower := NewMemoryBackend()
	l, err := NewLRUCache[*MemoryBackend](lower, 8)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Write(MAIN, []byte("k"), []byte("v1")))
	v, _, err := l.Read(MAIN, []byte("k"), 0, ToEnd)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, l.Write(MAIN, []byte("k"), []byte("v2")))
	v, _, err = l.Read(MAIN, []byte("k"), 0, ToEnd)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}

func TestLRUCacheGenericOverDifferentLayers(t *testing.T) {
	// exercises LRUCache instantiated over both a bare backend and a
	// stacked cache, matching spec §4.6's "generic over the underlying
	// layer" requirement.
	overMemory, err := NewLRUCache[*MemoryBackend](NewMemoryBackend(), 4)
	require.NoError(t, err)
	defer overMemory.Close()

	overReadThrough, err := NewLRUCache[*ReadThroughCache](NewReadThroughCache(NewMemoryBackend(), 0, 0), 4)
	require.NoError(t, err)
	defer overReadThrough.Close()

	require.NoError(t, overMemory.Write(MAIN, []byte("k"), []byte("v")))
	require.NoError(t, overReadThrough.Write(MAIN, []byte("k"), []byte("v")))
}
