package cloudenv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockset/rocksdb-cloud/internal/objectstore"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

func TestDbidRegistrySaveThenLookup(t *testing.T) {
	store := objectstore.NewFake()
	r := NewDbidRegistry(store)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, "d1", "backup/d1"))

	dirname, err := r.Lookup(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "backup/d1", dirname)
}

func TestDbidRegistryLookupMissingIsNotFound(t *testing.T) {
	store := objectstore.NewFake()
	r := NewDbidRegistry(store)

	_, err := r.Lookup(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, cerrors.KindNotFound, cerrors.KindOf(err))
}

func TestDbidRegistryListEnumeratesAllEntries(t *testing.T) {
	store := objectstore.NewFake()
	r := NewDbidRegistry(store)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, "d1", "backup/d1"))
	require.NoError(t, r.Save(ctx, "d2", "backup/d2"))

	entries, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"d1": "backup/d1", "d2": "backup/d2"}, entries)
}

func TestDbidRegistryDelete(t *testing.T) {
	store := objectstore.NewFake()
	r := NewDbidRegistry(store)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, "d1", "backup/d1"))
	require.NoError(t, r.Delete(ctx, "d1"))

	_, err := r.Lookup(ctx, "d1")
	assert.True(t, cerrors.IsNotFound(err))
}

func TestDbidRegistryKeysLiveUnderReservedPrefix(t *testing.T) {
	store := objectstore.NewFake()
	r := NewDbidRegistry(store)
	ctx := context.Background()
	require.NoError(t, r.Save(ctx, "d1", "backup/d1"))

	objs, err := store.List(ctx, ".rockset/dbid/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, ".rockset/dbid/d1", objs[0].Key)
}
