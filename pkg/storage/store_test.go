package storage

import (
	"sort"
	"testing"

	"github.com/chronodrachma/utxod/pkg/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	b, err := NewBadgerStore("")
	require.NoError(t, err)
	l, err := NewLevelDBStore("", zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = b.Close()
		_ = l.Close()
	})
	return map[string]Store{"badger": b, "leveldb": l}
}

func sortedKeys(t *testing.T, s Store) []string {
	t.Helper()
	keys, err := s.Keys()
	require.NoError(t, err)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	sort.Strings(out)
	return out
}

func TestStoreContract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get([]byte("missing"))
			assert.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, s.Put([]byte("a"), []byte("1")))
			require.NoError(t, s.Put([]byte("b"), []byte("2")))
			require.NoError(t, s.Put([]byte("a"), []byte("3")))

			v, err := s.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("3"), v)
			assert.Equal(t, []string{"a", "b"}, sortedKeys(t, s))

			require.NoError(t, s.Reset())
			assert.Empty(t, sortedKeys(t, s))
			_, err = s.Get([]byte("b"))
			assert.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, s.Put([]byte("c"), []byte("4")))
			assert.Equal(t, []string{"c"}, sortedKeys(t, s))
		})
	}
}

func TestStoreResetManyKeys(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < resetBatchSize+10; i++ {
				key := []byte{byte(i >> 8), byte(i)}
				require.NoError(t, s.Put(key, key))
			}
			require.NoError(t, s.Reset())
			keys, err := s.Keys()
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStoreClosed(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			assert.Equal(t, ErrClosed, s.Put([]byte("a"), nil))
			_, err := s.Keys()
			assert.Equal(t, ErrClosed, err)
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(config.StoreConfig{Backend: config.BackendLevelDB, InMemory: true}, "ignored", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &LevelDBStore{}, s)

	dir := t.TempDir()
	s2, err := Open(config.StoreConfig{Backend: config.BackendBadger}, dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s2.Put([]byte("k"), []byte("v")))
	require.NoError(t, s2.Close())

	s3, err := Open(config.StoreConfig{Backend: config.BackendBadger}, dir, zerolog.Nop())
	require.NoError(t, err)
	defer s3.Close()
	v, err := s3.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	_, err = Open(config.StoreConfig{Backend: "rocksdb"}, dir, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}
