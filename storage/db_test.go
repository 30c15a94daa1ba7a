package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	level, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(level.Close)
	bolt, err := NewBoltDB(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(bolt.Close)
	return map[string]Database{
		"memdb":   NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
}

func TestDatabaseGetMissingKey(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)
			ok, err := db.Has([]byte("missing"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestBatchWritesAtomically(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("stale"), []byte("x")))

			batch := db.NewBatch()
			batch.Put([]byte("a"), []byte("1"))
			batch.Put([]byte("b"), []byte("2"))
			batch.Delete([]byte("stale"))
			require.Equal(t, 3, batch.Len())

			_, err := db.Get([]byte("a"))
			require.ErrorIs(t, err, ErrNotFound, "batch must not apply before Write")

			require.NoError(t, batch.Write())
			got, err := db.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), got)
			ok, err := db.Has([]byte("stale"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestIterateReturnsSortedPrefix(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("log/02"), []byte("b")))
			require.NoError(t, db.Put([]byte("log/01"), []byte("a")))
			require.NoError(t, db.Put([]byte("other"), []byte("z")))

			var seen []string
			require.NoError(t, db.Iterate([]byte("log/"), func(key, value []byte) bool {
				seen = append(seen, string(key)+"="+string(value))
				return true
			}))
			require.Equal(t, []string{"log/01=a", "log/02=b"}, seen)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("key"), []byte("value")))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}

func TestOpenSelectsBackend(t *testing.T) {
	for _, backend := range []string{"", BackendLevelDB, BackendBolt} {
		t.Run("backend="+backend, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "data")
			db, err := Open(backend, dir)
			require.NoError(t, err)
			require.NoError(t, db.Put([]byte("key"), []byte("value")))
			db.Close()

			reopened, err := Open(backend, dir)
			require.NoError(t, err)
			defer reopened.Close()
			got, err := reopened.Get([]byte("key"))
			require.NoError(t, err)
			require.Equal(t, []byte("value"), got)
		})
	}

	_, err := Open("rocksdb", t.TempDir())
	require.Error(t, err)
}
