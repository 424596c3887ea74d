// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KataReview/services/review/storage/badger"
)

func intPtr(v int) *int { return &v }

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (f failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingStore) Put(context.Context, string, []byte) error         { return f.err }
func (f failingStore) Delete(context.Context, string) error              { return f.err }
func (f failingStore) Close() error                                      { return nil }

func TestFingerprint_Deterministic(t *testing.T) {
	rec := "(;SZ[19];B[pd];W[dd])"
	a := Fingerprint(rec, 1000, nil)
	b := Fingerprint(rec, 1000, nil)

	assert.Equal(t, a, b)
	assert.True(t, a.Valid(), "key %q", a)
	assert.Len(t, string(a), len(KeyPrefix)+16)
}

func TestFingerprint_Sensitivity(t *testing.T) {
	rec := "(;SZ[19];B[pd];W[dd])"
	base := Fingerprint(rec, 1000, nil)

	assert.NotEqual(t, base, Fingerprint(rec+" ", 1000, nil))
	assert.NotEqual(t, base, Fingerprint(rec, 1001, nil))
	assert.NotEqual(t, base, Fingerprint(rec, 1000, &Range{Start: intPtr(0)}))
	assert.NotEqual(t,
		Fingerprint(rec, 1000, &Range{Start: intPtr(3)}),
		Fingerprint(rec, 1000, &Range{End: intPtr(3)}))
	assert.Equal(t, base, Fingerprint(rec, 1000, &Range{}))
	assert.Equal(t, base, Fingerprint(rec, 1000, NewRange(nil, nil)))
}

func TestKeyValid(t *testing.T) {
	assert.False(t, Key("analysis_xyz").Valid())
	assert.False(t, Key("other_0123456789abcdef").Valid())
	assert.True(t, Key("analysis_0123456789abcdef").Valid())
}

func TestCache_StoresAcrossBackends(t *testing.T) {
	sqlite, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	kv, err := OpenBadgerStore(badger.InMemoryConfig())
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"badger": kv,
		"sqlite": sqlite,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := New(store, WithCompression(true))
			require.NoError(t, err)
			defer c.Close()

			key := Fingerprint("(;SZ[19])", 100, nil)
			_, ok, err := c.Lookup(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Put(ctx, key, "(;SZ[19]C[analysed])"))
			text, ok, err := c.Lookup(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "(;SZ[19]C[analysed])", text)

			require.NoError(t, c.Invalidate(ctx, key))
			_, ok, err = c.Lookup(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_CompressedAtRest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c, err := New(store, WithCompression(true))
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "analysis_0000000000000001", "(;SZ[19])"))
	raw, ok, err := store.Get(ctx, "analysis_0000000000000001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, zstdMagic, raw[:4])
}

func TestCache_ReadsPlainLegacyValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "analysis_0000000000000002", []byte("(;SZ[9])")))

	c, err := New(store, WithCompression(true))
	require.NoError(t, err)
	text, ok, err := c.Lookup(ctx, "analysis_0000000000000002")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "(;SZ[9])", text)
}

func TestCache_CorruptFrameIsCacheError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bad := append(append([]byte(nil), zstdMagic...), 0xff, 0xff, 0xff)
	require.NoError(t, store.Put(ctx, "analysis_0000000000000003", bad))

	c, err := New(store)
	require.NoError(t, err)
	_, ok, err := c.Lookup(ctx, "analysis_0000000000000003")
	assert.False(t, ok)
	var cerr *CacheError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "decode", cerr.Op)
}

func TestCache_StoreFailuresAreCacheErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	c, err := New(failingStore{err: boom})
	require.NoError(t, err)

	_, ok, err := c.Lookup(ctx, "analysis_0000000000000004")
	assert.False(t, ok)
	var cerr *CacheError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "get", cerr.Op)
	assert.ErrorIs(t, err, boom)

	err = c.Put(ctx, "analysis_0000000000000004", "x")
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "put", cerr.Op)
}

func TestCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	policy := NewLRUPolicy(2)
	c, err := New(store, WithEvictionPolicy(policy))
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "a", "1"))
	require.NoError(t, c.Put(ctx, "b", "2"))
	_, _, err = c.Lookup(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "c", "3"))

	assert.Equal(t, 2, store.Len())
	_, ok, _ := c.Lookup(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = c.Lookup(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, policy.Len())
}

func TestUnboundedNeverEvicts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c, err := New(store)
	require.NoError(t, err)
	for _, k := range []Key{"a", "b", "c", "d"} {
		require.NoError(t, c.Put(ctx, k, string(k)))
	}
	assert.Equal(t, 4, store.Len())
}

func TestNew_NilStore(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
