package cloudenv

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockset/rocksdb-cloud/internal/objectstore"
)

func TestDeletionQueueDeletesAfterDelay(t *testing.T) {
	store := objectstore.NewFake()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "dest/000456.sst", strings.NewReader("x"), 1))

	q := NewDeletionQueue(store, 20*time.Millisecond, nil)
	q.Start()
	defer q.Stop()

	q.Enqueue("dest/000456.sst")

	ok, _ := store.Exists(ctx, "dest/000456.sst")
	assert.True(t, ok, "object should still exist before the delay elapses")

	require.Eventually(t, func() bool {
		ok, _ := store.Exists(ctx, "dest/000456.sst")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestDeletionQueueMissingObjectIsNotAnError(t *testing.T) {
	store := objectstore.NewFake()
	q := NewDeletionQueue(store, time.Millisecond, nil)
	q.Start()
	defer q.Stop()

	q.Enqueue("never-existed")

	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDeletionQueueProcessesInFIFOOrder(t *testing.T) {
	store := objectstore.NewFake()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a", strings.NewReader("a"), 1))
	require.NoError(t, store.Put(ctx, "b", strings.NewReader("b"), 1))

	q := NewDeletionQueue(store, time.Millisecond, nil)
	q.Start()
	defer q.Stop()

	q.Enqueue("a")
	q.Enqueue("b")

	require.Eventually(t, func() bool {
		aOk, _ := store.Exists(ctx, "a")
		bOk, _ := store.Exists(ctx, "b")
		return !aOk && !bOk
	}, time.Second, 5*time.Millisecond)
}

func TestDeletionQueueStopAbandonsUnstartedItems(t *testing.T) {
	store := objectstore.NewFake()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", strings.NewReader("x"), 1))

	q := NewDeletionQueue(store, time.Hour, nil)
	q.Start()
	q.Enqueue("k")
	q.Stop()

	ok, _ := store.Exists(ctx, "k")
	assert.True(t, ok, "object should remain since the delay never elapsed before shutdown")
}

func TestDeletionQueueEnqueueAfterStopIsNoop(t *testing.T) {
	q := NewDeletionQueue(objectstore.NewFake(), time.Millisecond, nil)
	q.Start()
	q.Stop()
	q.Enqueue("k")
	assert.Equal(t, 0, q.Pending())
}
