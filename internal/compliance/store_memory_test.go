package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/platform/sentinel"
)

func TestInMemoryStoreFindByIDUnknown(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.FindByID(context.Background(), 99)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStoreSaveAndFind(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	inst := &Instrument{ID: 1, Issuer: "issuer-1", FaceValue: 1000}
	require.NoError(t, store.Save(ctx, inst, func(existing *Instrument) error {
		assert.Nil(t, existing)
		return nil
	}))

	got, err := store.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, inst.Issuer, got.Issuer)

	// Mutating the returned copy must not leak into the store.
	got.FaceValue = 5
	again, err := store.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), again.FaceValue)
}

func TestInMemoryStoreSaveGuardBlocksWrite(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Instrument{ID: 1, FaceValue: 1000}, func(*Instrument) error { return nil }))

	guardErr := dErrors.New(dErrors.CodeInvalidState, "frozen")
	err := store.Save(ctx, &Instrument{ID: 1, FaceValue: 2000}, func(existing *Instrument) error {
		require.NotNil(t, existing)
		return guardErr
	})
	require.ErrorIs(t, err, guardErr)

	got, err := store.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got.FaceValue)
}

func TestInMemoryStoreExecute(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Instrument{ID: 1}, func(*Instrument) error { return nil }))

	maturity := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	inst, err := store.Execute(ctx, 1,
		func(*Instrument) error { return nil },
		func(i *Instrument) { i.Maturity = maturity })
	require.NoError(t, err)
	assert.Equal(t, maturity, inst.Maturity)

	_, err = store.Execute(ctx, 2, func(*Instrument) error { return nil }, func(*Instrument) {})
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStoreExecuteValidateBlocksMutate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Instrument{ID: 1}, func(*Instrument) error { return nil }))

	_, err := store.Execute(ctx, 1,
		func(*Instrument) error { return dErrors.New(dErrors.CodePreconditionFailed, "not ready") },
		func(i *Instrument) { i.Approved = true })
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed))

	got, err := store.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.Approved)
}
