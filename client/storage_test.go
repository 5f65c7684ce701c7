package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/buntdb"
)

func testStorage(t *testing.T) *Storage {
	bdb, err := buntdb.Open(":memory:")
	if err != nil {
		panic(err)
	}
	t.Cleanup(func() { bdb.Close() })
	return &Storage{Buntdb: bdb}
}

func Test_StoragePair(t *testing.T) {
	assert := assert.New(t)
	storage := testStorage(t)

	access, refresh, err := storage.Pair()
	assert.NoError(err)
	assert.Empty(access)
	assert.Empty(refresh)

	assert.NoError(storage.SetPair("access-21", "refresh-37"))
	access, refresh, err = storage.Pair()
	assert.NoError(err)
	assert.Equal("access-21", access)
	assert.Equal("refresh-37", refresh)

	assert.NoError(storage.Clear())
	access, refresh, err = storage.Pair()
	assert.NoError(err)
	assert.Empty(access)
	assert.Empty(refresh)

	// clearing an already empty storage is fine
	assert.NoError(storage.Clear())
}

func Test_StoragePartialPairReadsAsNone(t *testing.T) {
	assert := assert.New(t)
	storage := testStorage(t)

	err := storage.Buntdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(accessTokenKey, "orphaned access", nil)
		return err
	})
	assert.NoError(err)

	access, refresh, err := storage.Pair()
	assert.NoError(err)
	assert.Empty(access)
	assert.Empty(refresh)
}
