package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/api/schemas"
)

func TestStoreGet(t *testing.T) {
	store := NewStore(zap.NewNop())

	rec, err := store.Get("123456789")
	require.NoError(t, err)
	assert.Equal(t, "Sample Product", rec.Name)
	assert.Equal(t, 50, rec.Stock)

	_, err = store.Get("000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreApply(t *testing.T) {
	t.Run("increase stock", func(t *testing.T) {
		store := NewStore(zap.NewNop())
		rec, err := store.Apply("123456789", schemas.ProductAction{
			Action: schemas.ActionIncreaseStock, Quantity: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, 60, rec.Stock)
	})

	t.Run("decrease stock", func(t *testing.T) {
		store := NewStore(zap.NewNop())
		rec, err := store.Apply("123456789", schemas.ProductAction{
			Action: schemas.ActionDecreaseStock, Quantity: 20,
		})
		require.NoError(t, err)
		assert.Equal(t, 30, rec.Stock)
	})

	t.Run("decrease below zero is rejected and record unchanged", func(t *testing.T) {
		store := NewStore(zap.NewNop())
		_, err := store.Apply("123456789", schemas.ProductAction{
			Action: schemas.ActionDecreaseStock, Quantity: 60,
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "insufficient stock", verr.Reason)

		rec, err := store.Get("123456789")
		require.NoError(t, err)
		assert.Equal(t, 50, rec.Stock)
	})

	t.Run("set price", func(t *testing.T) {
		store := NewStore(zap.NewNop())
		rec, err := store.Apply("123456789", schemas.ProductAction{
			Action: schemas.ActionSetPrice, Price: 24.99,
		})
		require.NoError(t, err)
		assert.Equal(t, 24.99, rec.Price)
	})

	t.Run("negative price is rejected", func(t *testing.T) {
		store := NewStore(zap.NewNop())
		_, err := store.Apply("123456789", schemas.ProductAction{
			Action: schemas.ActionSetPrice, Price: -1,
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("non-positive quantity is rejected", func(t *testing.T) {
		store := NewStore(zap.NewNop())
		_, err := store.Apply("123456789", schemas.ProductAction{
			Action: schemas.ActionIncreaseStock, Quantity: 0,
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("unknown action", func(t *testing.T) {
		store := NewStore(zap.NewNop())
		_, err := store.Apply("123456789", schemas.ProductAction{Action: "explode"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Reason, "explode")
	})

	t.Run("unknown barcode", func(t *testing.T) {
		store := NewStore(zap.NewNop())
		_, err := store.Apply("000000000", schemas.ProductAction{
			Action: schemas.ActionIncreaseStock, Quantity: 1,
		})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreListIsSorted(t *testing.T) {
	store := NewStore(zap.NewNop())
	store.Put(schemas.ProductRecord{ID: "000000001", Name: "First"})

	records := store.List()
	require.NotEmpty(t, records)
	for i := 1; i < len(records); i++ {
		assert.Less(t, records[i-1].ID, records[i].ID)
	}
	assert.Equal(t, "000000001", records[0].ID)
}
