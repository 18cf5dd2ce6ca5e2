package cloudenv

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockset/rocksdb-cloud/internal/config"
	"github.com/rockset/rocksdb-cloud/internal/localfs"
	"github.com/rockset/rocksdb-cloud/internal/logstream"
	"github.com/rockset/rocksdb-cloud/internal/objectstore"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

func destOnlyOpts() config.EnvOptions {
	opts := config.DefaultEnvOptions()
	opts.Dest = config.BucketSpec{Bucket: "dest-bucket", Prefix: "p", Region: "us-west-2"}
	opts.KeepLocalLogFiles = true
	opts.CacheReadRetryInterval = time.Millisecond
	opts.CacheReadRetryTimeout = 20 * time.Millisecond
	return opts
}

func newTestEnv(t *testing.T, opts config.EnvOptions) *Env {
	t.Helper()
	deps := EnvDeps{
		Local:      localfs.NewFake(),
		SrcStore:   objectstore.NewFake(),
		DestStore:  objectstore.NewFake(),
		Stream:     logstream.NewFake(),
		StreamName: "wal",
		LocalRoot:  "/local",
		CacheRoot:  "/cache",
	}
	e := NewEnv(context.Background(), opts, deps)
	require.NoError(t, e.Status())
	return e
}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestNewEnvFreshWriterDestOnlyUploadsOnClose(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, destOnlyOpts())

	w, _, lf, err := e.OpenForWrite(ctx, "000124.sst")
	require.NoError(t, err)
	require.Nil(t, lf)
	require.NotNil(t, w)
	require.NoError(t, w.Append([]byte("0123456789")))
	require.NoError(t, w.Close())

	ok, err := e.Exists(ctx, "000124.sst")
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := e.Size(ctx, "000124.sst")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	info, err := e.destStore.Head(ctx, e.mapper.DestKey("000124.sst"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
}

func TestNewEnvReadOnlyReplicaStreamsFromSrc(t *testing.T) {
	ctx := context.Background()
	opts := config.DefaultEnvOptions()
	opts.Src = config.BucketSpec{Bucket: "src-bucket", Prefix: "q", Region: "us-west-2"}
	opts.KeepLocalLogFiles = true

	deps := EnvDeps{
		Local:      localfs.NewFake(),
		SrcStore:   objectstore.NewFake(),
		DestStore:  objectstore.NewFake(),
		Stream:     logstream.NewFake(),
		StreamName: "wal",
		LocalRoot:  "/local",
		CacheRoot:  "/cache",
	}
	require.NoError(t, deps.SrcStore.Put(ctx, "q/000123.sst", strings.NewReader("hello-replica"), int64(len("hello-replica"))))

	e := NewEnv(ctx, opts, deps)
	require.NoError(t, e.Status())

	cf, lf, err := e.OpenForRead(ctx, "000123.sst")
	require.NoError(t, err)
	require.Nil(t, lf)
	require.NotNil(t, cf)

	data, err := cf.Read(ctx, 0, 13)
	require.NoError(t, err)
	assert.Equal(t, "hello-replica", string(data))
}

func TestNewEnvDeleteEnqueuesDelayedCloudDeleteAndUnlinksLocalImmediately(t *testing.T) {
	ctx := context.Background()
	opts := destOnlyOpts()
	opts.DeletionDelay = 30 * time.Millisecond
	e := newTestEnv(t, opts)
	defer e.Close()

	w, _, _, err := e.OpenForWrite(ctx, "000456.sst")
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("x")))
	require.NoError(t, w.Close())

	require.NoError(t, e.Delete(ctx, "000456.sst"))

	ok, err := e.local.Exists(ctx, e.localPath("000456.sst"))
	require.NoError(t, err)
	assert.False(t, ok, "local copy must be unlinked immediately")

	_, err = e.destStore.Head(ctx, e.mapper.DestKey("000456.sst"))
	assert.NoError(t, err, "cloud object survives until the delay elapses")

	require.Eventually(t, func() bool {
		_, err := e.destStore.Head(ctx, e.mapper.DestKey("000456.sst"))
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestNewEnvRenameIsNotSupportedForSortedDataLogAndManifest(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, destOnlyOpts())
	defer e.Close()

	for _, dst := range []string{"000001.sst", "000001.log", "MANIFEST-000001"} {
		err := e.Rename(ctx, "staging-"+dst, dst)
		require.Error(t, err)
	}
}

func TestNewEnvIdentityRenamePublishesRegistryEntry(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, destOnlyOpts())
	defer e.Close()

	_, _, w, err := e.OpenForWrite(ctx, "staging-identity")
	require.NoError(t, err)
	_, err = w.Write([]byte("d1"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, e.Rename(ctx, "staging-identity", "IDENTITY"))

	dirname, err := e.dbids.Lookup(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, e.opts.Dest.Prefix, dirname)

	r, err := e.local.Open(ctx, e.localPath("IDENTITY"))
	require.NoError(t, err)
	assert.Equal(t, "d1", readAll(t, r))
}

func TestNewEnvManifestDurabilityUploadsOnIntervalAndClose(t *testing.T) {
	ctx := context.Background()
	opts := destOnlyOpts()
	opts.ManifestDurablePeriodicity = time.Hour
	e := newTestEnv(t, opts)
	defer e.Close()

	w, _, lf, err := e.OpenForWrite(ctx, "MANIFEST-000001")
	require.NoError(t, err)
	require.Nil(t, lf)
	require.NoError(t, w.Append([]byte("v1")))
	require.NoError(t, w.Sync())

	info, err := e.destStore.Head(ctx, e.mapper.DestKey("MANIFEST-000001"))
	require.NoError(t, err, "the first Sync uploads")
	assert.Equal(t, int64(2), info.Size)

	require.NoError(t, w.Append([]byte("v2")))
	require.NoError(t, w.Sync())
	info, err = e.destStore.Head(ctx, e.mapper.DestKey("MANIFEST-000001"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size, "periodicity has not elapsed, the second Sync does not upload")

	require.NoError(t, w.Close())
	info, err = e.destStore.Head(ctx, e.mapper.DestKey("MANIFEST-000001"))
	require.NoError(t, err, "Close uploads unconditionally regardless of periodicity")
	assert.Equal(t, int64(4), info.Size)
}

func TestNewEnvLogRoundTripViaStream(t *testing.T) {
	ctx := context.Background()
	opts := config.DefaultEnvOptions()
	opts.Dest = config.BucketSpec{Bucket: "dest-bucket", Prefix: "p", Region: "us-west-2"}
	opts.KeepLocalLogFiles = false
	opts.CacheReadRetryInterval = time.Millisecond
	opts.CacheReadRetryTimeout = time.Second

	deps := EnvDeps{
		Local:      localfs.NewFake(),
		SrcStore:   objectstore.NewFake(),
		DestStore:  objectstore.NewFake(),
		Stream:     logstream.NewFake(),
		StreamName: "wal",
		LocalRoot:  "/local",
		CacheRoot:  "/cache",
	}
	e := NewEnv(ctx, opts, deps)
	require.NoError(t, e.Status())
	defer e.Close()

	_, lw, _, err := e.OpenForWrite(ctx, "000001.log")
	require.NoError(t, err)
	require.NoError(t, lw.Append([]byte("A")))
	require.NoError(t, lw.Append([]byte("B")))
	require.NoError(t, lw.Append([]byte("C")))
	require.NoError(t, e.Delete(ctx, "000001.log"))
	require.NoError(t, lw.Append([]byte("X")))

	require.Eventually(t, func() bool {
		_, lf, err := e.OpenForRead(ctx, "000001.log")
		if err != nil || lf == nil {
			return false
		}
		defer lf.Close()
		data, rerr := io.ReadAll(lf)
		return rerr == nil && string(data) == "X"
	}, time.Second, 5*time.Millisecond)
}

func TestNewEnvConstructionFailureLeavesStatusNonReady(t *testing.T) {
	opts := config.EnvOptions{} // neither src nor dest configured: InvalidArgument
	deps := EnvDeps{
		Local:      localfs.NewFake(),
		Stream:     logstream.NewFake(),
		StreamName: "wal",
		LocalRoot:  "/local",
		CacheRoot:  "/cache",
	}
	e := NewEnv(context.Background(), opts, deps)
	require.Error(t, e.Status())

	_, _, err := e.OpenForRead(context.Background(), "000001.sst")
	assert.Equal(t, e.Status(), err)
}

func TestNewEnvPurgerReclaimsStaleEmptyDirectoryMarkerButNotLiveOne(t *testing.T) {
	ctx := context.Background()
	opts := destOnlyOpts()
	opts.DeletionDelay = 5 * time.Millisecond
	opts.PurgerPeriodicity = 5 * time.Millisecond
	e := newTestEnv(t, opts)
	defer e.Close()

	require.NoError(t, e.CreateDir(ctx, "stale"))
	require.NoError(t, e.CreateDir(ctx, "live"))
	noteWriter, err := e.local.Create(ctx, e.localPath("live/note.txt"))
	require.NoError(t, err)
	require.NoError(t, noteWriter.Close())

	require.Eventually(t, func() bool {
		_, err := e.destStore.Head(ctx, e.mapper.DestDirKey("stale"))
		return cerrors.IsNotFound(err)
	}, time.Second, 5*time.Millisecond, "empty marker older than the deletion delay must be reclaimed")

	_, err = e.destStore.Head(ctx, e.mapper.DestDirKey("live"))
	assert.NoError(t, err, "a directory marker whose local directory still has children is never reclaimed")
}

func TestNewEnvCreateDirThenDeleteDirRequiresEmptyPrefix(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, destOnlyOpts())
	defer e.Close()

	require.NoError(t, e.CreateDir(ctx, "children"))

	_, _, w, err := e.OpenForWrite(ctx, "children/note.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = e.DeleteDir(ctx, "children")
	assert.Error(t, err, "non-empty directory deletion must fail")
}
