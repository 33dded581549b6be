package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDBGetSetDelete(t *testing.T) {
	db := NewMemDB()
	_, err := db.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, db.Delete([]byte("a")))
	_, err = db.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemDBBatchAtomic(t *testing.T) {
	db := NewMemDB()
	b := db.NewBatch()
	b.Set([]byte("x"), []byte("1"))
	b.Set([]byte("y"), []byte("2"))
	require.NoError(t, b.Write())

	v, err := db.Get([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	v, err = db.Get([]byte("y"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestMemDBIteratorPrefix(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Set([]byte("acct:a"), []byte("1")))
	require.NoError(t, db.Set([]byte("acct:b"), []byte("2")))
	require.NoError(t, db.Set([]byte("other:c"), []byte("3")))

	it := db.NewIterator([]byte("acct:"))
	count := 0
	for it.Next() {
		count++
	}
	it.Release()
	assert.Equal(t, 2, count)
}
