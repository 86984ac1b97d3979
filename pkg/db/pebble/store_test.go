package pebble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrace/veritrace/pkg/db"
)

func TestKVStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store db.KVStore)
	}{
		{name: "put_get", fn: testPutGet},
		{name: "delete", fn: testDelete},
		{name: "batch_commit", fn: testBatchCommit},
		{name: "iterator_range", fn: testIteratorRange},
		{name: "closed_store", fn: testClosedStore},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewKVStore()
			require.NoError(t, err)
			defer store.Close()

			tc.fn(t, store)
		})
	}
}

func testPutGet(t *testing.T, store db.KVStore) {
	require.NoError(t, store.Put([]byte("report/1"), []byte("pending")))

	got, err := store.Get([]byte("report/1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pending"), got)

	_, err = store.Get([]byte("report/2"))
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func testDelete(t *testing.T, store db.KVStore) {
	require.NoError(t, store.Put([]byte("k"), []byte("v")))
	require.NoError(t, store.Delete([]byte("k")))

	_, err := store.Get([]byte("k"))
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func testBatchCommit(t *testing.T, store db.KVStore) {
	batch := store.NewBatch()
	require.NoError(t, batch.Put([]byte("a"), []byte("1")))
	require.NoError(t, batch.Put([]byte("b"), []byte("2")))
	require.NoError(t, batch.Commit())

	// Writes after commit must be rejected.
	assert.ErrorIs(t, batch.Put([]byte("c"), []byte("3")), ErrBatchDone)

	got, err := store.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
	got, err = store.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func testIteratorRange(t *testing.T, store db.KVStore) {
	require.NoError(t, store.Put([]byte{1, 0}, []byte("x")))
	require.NoError(t, store.Put([]byte{1, 1}, []byte("y")))
	require.NoError(t, store.Put([]byte{2, 0}, []byte("z")))

	iter, err := store.NewIterator([]byte{1}, []byte{2})
	require.NoError(t, err)
	defer iter.Close()

	var values [][]byte
	for iter.Next() {
		v, err := iter.Value()
		require.NoError(t, err)
		values = append(values, v)
	}
	assert.Equal(t, [][]byte{[]byte("x"), []byte("y")}, values)
}

func testClosedStore(t *testing.T, store db.KVStore) {
	require.NoError(t, store.Close())

	_, err := store.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Put([]byte("k"), []byte("v")), ErrClosed)
	// Closing twice is a no-op.
	assert.NoError(t, store.Close())
}
