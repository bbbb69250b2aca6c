package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	ok, err := db.Has([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	require.Equal(t, 2, batch.Len())

	// nothing is visible before Write
	ok, err = db.Has([]byte("b"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, batch.Write())
	ok, err = db.Has([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
	got, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)

	require.NoError(t, db.Delete([]byte("b")))
	_, err = db.Get([]byte("b"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)
	exerciseDatabase(t, db)
}

func TestMemDBGetReturnsCopy(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("k"), []byte("value")))
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	got[0] = 'X'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), again)
}

func TestMemLevelDB(t *testing.T) {
	db, err := NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	exerciseDatabase(t, db)
}

func TestLevelDBReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("persist"), []byte("yes")))
	db.Close()

	reopened, err := NewLevelDB(path)
	require.NoError(t, err)
	t.Cleanup(reopened.Close)
	got, err := reopened.Get([]byte("persist"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), got)
}
