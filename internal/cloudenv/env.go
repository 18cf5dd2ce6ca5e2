package cloudenv

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/rockset/rocksdb-cloud/internal/config"
	"github.com/rockset/rocksdb-cloud/internal/localfs"
	"github.com/rockset/rocksdb-cloud/internal/logstream"
	"github.com/rockset/rocksdb-cloud/internal/objectstore"
	"github.com/rockset/rocksdb-cloud/internal/purger"
	"github.com/rockset/rocksdb-cloud/internal/telemetry"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// DirEntry is one name returned by List, with enough information for
// callers that want to distinguish files from directory markers.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Env implements the engine's filesystem contract by classifying each
// logical path and dispatching to local disk, the object store via
// Readable/WritableCloudFile, or the log stream via LogWriter/LogTailer.
type Env struct {
	opts   config.EnvOptions
	mapper *PathMapper

	local localfs.FileSystem

	srcStore  objectstore.Client
	destStore objectstore.Client
	stream    logstream.Client

	streamName string
	localRoot  string

	tailer     *LogTailer
	deletions  *DeletionQueue
	dbids      *DbidRegistry
	purger     *purger.Purger
	metrics    *telemetry.Collector
	logger     *slog.Logger

	status readyStatus
}

// EnvDeps bundles the already-constructed backend clients a CloudEnv
// orchestrates. Tests supply fakes here instead of real AWS/Kinesis
// clients; production callers supply S3Client/KinesisClient instances
// built with the region/credentials resolved from opts.
type EnvDeps struct {
	Local      localfs.FileSystem
	SrcStore   objectstore.Client
	DestStore  objectstore.Client
	Stream     logstream.Client
	StreamName string
	CacheRoot  string
	LocalRoot  string
	Metrics    *telemetry.Collector
	Logger     *slog.Logger
}

// NewEnv runs spec.md §4.9's construction sequence: validate configuration,
// idempotently provision the destination bucket, and — if local logs are
// disabled — create the stream and start the tailer, then start the
// deletion worker. Any failure in steps 5/6 leaves the Env non-ready rather
// than returning an error; every subsequent operation surfaces it through
// Status().
func NewEnv(ctx context.Context, opts config.EnvOptions, deps EnvDeps) *Env {
	opts.Trim()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Env{
		opts:       opts,
		local:      deps.Local,
		srcStore:   deps.SrcStore,
		destStore:  deps.DestStore,
		stream:     deps.Stream,
		streamName: deps.StreamName,
		localRoot:  deps.LocalRoot,
		metrics:    deps.Metrics,
		logger:     logger,
	}

	mapper := NewPathMapper(opts.Src.Bucket, opts.Src.Prefix, opts.Dest.Bucket, opts.Dest.Prefix)
	e.mapper = mapper

	if err := opts.Validate(); err != nil {
		e.status.markReady(err)
		return e
	}

	if opts.HasDest() {
		if err := deps.DestStore.CreateBucket(ctx, opts.Dest.Region); err != nil {
			e.status.markReady(err)
			return e
		}
		e.dbids = NewDbidRegistry(deps.DestStore)
	}

	if !opts.KeepLocalLogFiles {
		if deps.Stream == nil {
			e.status.markReady(cerrors.New(cerrors.KindInvalidArgument, "log stream client required when keep_local_log_files is false").WithComponent("cloudenv"))
			return e
		}
		if err := deps.Stream.EnsureStream(ctx, deps.StreamName); err != nil {
			e.status.markReady(err)
			return e
		}
		tailer := NewLogTailer(deps.Local, deps.Stream, deps.StreamName, deps.CacheRoot, logger)
		if err := tailer.Start(ctx); err != nil {
			e.status.markReady(err)
			return e
		}
		e.tailer = tailer
	}

	if opts.HasDest() {
		q := NewDeletionQueue(deps.DestStore, opts.DeletionDelay, logger)
		q.Start()
		e.deletions = q

		if opts.PurgerPeriodicity > 0 {
			p := purger.New(opts.PurgerPeriodicity, e.sweepEmptyDirectoryMarkers, logger)
			p.Start(ctx)
			e.purger = p
		}
	}

	e.status.markReady(nil)
	return e
}

// Status reports nil if construction succeeded, or the error that left the
// env non-ready.
func (e *Env) Status() error { return e.status.Status() }

// Close tears the env down in the reverse order it was built: stop the
// purger, stop the deletion worker, stop the tailer, release the backend
// clients.
func (e *Env) Close() error {
	e.logger.Info("cloudenv: shutting down")
	if e.purger != nil {
		e.purger.Stop()
	}
	if e.deletions != nil {
		e.deletions.Stop()
	}
	if e.tailer != nil {
		e.tailer.Stop()
	}
	var firstErr error
	for _, c := range []objectstore.Client{e.srcStore, e.destStore} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.stream != nil {
		if err := e.stream.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Env) localPath(path string) string {
	return filepath.Join(e.localRoot, path)
}

// logCachePath resolves the local path a log-stream-backed read/stat
// consults: the tailer's content-addressed cache location for this logical
// path.
func (e *Env) logCachePath(path string) string {
	if e.tailer != nil {
		return e.tailer.CachePath(path)
	}
	return e.localPath(path)
}

func (e *Env) checkReady() error {
	return e.Status()
}

// OpenForRead implements spec.md §4.8's OpenForRead dispatch. Exactly one
// of the two return values is non-nil on success: a ReadableCloudFile for
// the direct-from-cloud fallback, or a local io.ReadCloser for every other
// case (including the copy-then-reopen-locally paths).
func (e *Env) OpenForRead(ctx context.Context, path string) (*ReadableCloudFile, io.ReadCloser, error) {
	if err := e.checkReady(); err != nil {
		return nil, nil, err
	}

	kind := Classify(path)

	if kind == KindLog && !e.opts.KeepLocalLogFiles {
		cachePath := e.logCachePath(path)
		if err := WaitForCachePath(ctx, e.local, cachePath, e.opts.CacheReadRetryInterval, e.opts.CacheReadRetryTimeout); err != nil {
			return nil, nil, err
		}
		lf, err := e.local.Open(ctx, cachePath)
		return nil, lf, err
	}

	if kind != KindSortedData && kind != KindManifest && kind != KindIdentity {
		lf, err := e.local.Open(ctx, e.localPath(path))
		return nil, lf, err
	}

	localPath := e.localPath(path)
	if lf, err := e.local.Open(ctx, localPath); err == nil {
		return nil, lf, nil
	} else if !cerrors.IsNotFound(err) {
		return nil, nil, err
	}

	if e.opts.KeepLocalSstFiles {
		if e.mapper.HasDest() {
			if cerr := CopyFromS3(ctx, e.local, e.destStore, e.mapper.DestKey(path), localPath); cerr == nil {
				lf, err := e.local.Open(ctx, localPath)
				return nil, lf, err
			}
		}
		if e.mapper.HasSrc() {
			if cerr := CopyFromS3(ctx, e.local, e.srcStore, e.mapper.SrcKey(path), localPath); cerr == nil {
				lf, err := e.local.Open(ctx, localPath)
				return nil, lf, err
			}
		}
	}

	if e.mapper.HasDest() {
		f := OpenReadableCloudFile(ctx, e.destStore, e.mapper.DestKey(path), path)
		if f.Err() == nil {
			return f, nil, nil
		}
	}
	if e.mapper.HasSrc() {
		f := OpenReadableCloudFile(ctx, e.srcStore, e.mapper.SrcKey(path), path)
		if f.Err() == nil {
			return f, nil, nil
		}
	}
	return nil, nil, cerrors.New(cerrors.KindNotFound, "file not found locally, in dest, or in src").WithComponent("cloudenv").WithPath(path)
}

// OpenForWrite implements spec.md §4.8's OpenForWrite dispatch. Exactly one
// of the three return values is non-nil on success.
func (e *Env) OpenForWrite(ctx context.Context, path string) (*WritableCloudFile, *LogWriter, io.WriteCloser, error) {
	if err := e.checkReady(); err != nil {
		return nil, nil, nil, err
	}

	kind := Classify(path)

	if kind == KindLog && !e.opts.KeepLocalLogFiles {
		return nil, NewLogWriter(ctx, e.stream, e.streamName, path), nil, nil
	}

	manifestDurable := kind == KindManifest && e.opts.ManifestDurablePeriodicity > 0
	if (kind == KindSortedData || kind == KindIdentity || manifestDurable) && e.mapper.HasDest() {
		w, err := OpenWritableCloudFile(ctx, e.local, e.destStore, e.localPath(path), e.mapper.DestKey(path),
			kind == KindManifest, e.opts.ManifestDurablePeriodicity, e.opts.KeepLocalSstFiles, e.metrics)
		return w, nil, nil, err
	}

	lf, err := e.local.Create(ctx, e.localPath(path))
	return nil, nil, lf, err
}

// Delete implements spec.md §4.8's Delete dispatch.
func (e *Env) Delete(ctx context.Context, path string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	kind := Classify(path)

	if kind == KindLog && !e.opts.KeepLocalLogFiles {
		return NewLogWriter(ctx, e.stream, e.streamName, path).LogDelete()
	}

	if (kind == KindSortedData || kind == KindManifest || kind == KindIdentity) && e.mapper.HasDest() {
		if e.deletions != nil {
			e.deletions.Enqueue(e.mapper.DestKey(path))
		}
	}

	if err := e.local.Remove(ctx, e.localPath(path)); err != nil && !cerrors.IsNotFound(err) {
		return err
	}
	return nil
}

// Rename implements spec.md §4.8's Rename dispatch: disallowed for
// sorted-data, log, and manifest files; identity files trigger an upload
// plus a registry write before the local rename; everything else is a
// plain local rename.
func (e *Env) Rename(ctx context.Context, src, dst string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	// Classification keys off dst, not src: the engine renames a staging
	// file (whose own name classifies as "other") into its final name, so
	// it's the destination name that identifies what kind of file this is.
	kind := Classify(dst)

	switch kind {
	case KindSortedData, KindLog, KindManifest:
		return cerrors.New(cerrors.KindNotSupported, "rename is not supported for sorted-data, log, or manifest files").WithComponent("cloudenv").WithOperation("Rename").WithPath(dst)
	case KindIdentity:
		if e.mapper.HasDest() {
			localSrc := e.localPath(src)
			data, err := readLocal(ctx, e.local, localSrc)
			if err != nil {
				return err
			}
			destKey := e.mapper.DestKey(dst)
			if err := e.destStore.Put(ctx, destKey, strings.NewReader(string(data)), int64(len(data))); err != nil {
				return err
			}
			if err := e.dbids.Save(ctx, strings.TrimSpace(string(data)), e.opts.Dest.Prefix); err != nil {
				return err
			}
		}
	}
	return e.local.Rename(ctx, e.localPath(src), e.localPath(dst))
}

// List returns the union of the src-bucket listing (if configured), the
// dest-bucket listing (if configured and distinct), and the local listing.
// Each side's listing uses the mapper call that matches the bucket actually
// being queried, rather than reusing the source mapper for both.
func (e *Env) List(ctx context.Context, dir string) ([]DirEntry, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	var out []DirEntry

	if e.mapper.HasSrc() {
		objs, err := e.srcStore.List(ctx, e.mapper.SrcKey(dir))
		if err != nil {
			return nil, err
		}
		for _, o := range objs {
			out = append(out, DirEntry{Name: basename(strings.TrimSuffix(o.Key, "/")), IsDir: strings.HasSuffix(o.Key, "/")})
		}
	}
	if e.mapper.HasDest() && e.mapper.DestBucket() != e.mapper.SrcBucket() {
		objs, err := e.destStore.List(ctx, e.mapper.DestKey(dir))
		if err != nil {
			return nil, err
		}
		for _, o := range objs {
			out = append(out, DirEntry{Name: basename(strings.TrimSuffix(o.Key, "/")), IsDir: strings.HasSuffix(o.Key, "/")})
		}
	}

	entries, err := e.local.ReadDir(ctx, e.localPath(dir))
	if err != nil && !cerrors.IsNotFound(err) {
		return nil, err
	}
	for _, fi := range entries {
		out = append(out, DirEntry{Name: fi.Name, IsDir: fi.IsDir})
	}
	return out, nil
}

// Exists implements spec.md §4.8's Exists dispatch: classify and probe in
// the same order as OpenForRead, treating existence in any backend as
// sufficient.
func (e *Env) Exists(ctx context.Context, path string) (bool, error) {
	if err := e.checkReady(); err != nil {
		return false, err
	}
	kind := Classify(path)

	if kind == KindLog && !e.opts.KeepLocalLogFiles {
		return e.local.Exists(ctx, e.logCachePath(path))
	}

	if ok, err := e.local.Exists(ctx, e.localPath(path)); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}

	if kind != KindSortedData && kind != KindManifest && kind != KindIdentity {
		return false, nil
	}
	if e.mapper.HasDest() {
		if ok, err := e.destStore.Exists(ctx, e.mapper.DestKey(path)); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	if e.mapper.HasSrc() {
		if ok, err := e.srcStore.Exists(ctx, e.mapper.SrcKey(path)); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

// Size implements spec.md §4.8's Size dispatch: local first, then Head
// against dest then src for non-log paths, or the cache-mapped path
// through the retry wrapper for log paths.
func (e *Env) Size(ctx context.Context, path string) (int64, error) {
	info, err := e.statAny(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Mtime implements spec.md §4.8's Mtime dispatch.
func (e *Env) Mtime(ctx context.Context, path string) (time.Time, error) {
	info, err := e.statAny(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime, nil
}

func (e *Env) statAny(ctx context.Context, path string) (localfs.FileInfo, error) {
	if err := e.checkReady(); err != nil {
		return localfs.FileInfo{}, err
	}
	kind := Classify(path)

	if kind == KindLog && !e.opts.KeepLocalLogFiles {
		cachePath := e.logCachePath(path)
		if err := WaitForCachePath(ctx, e.local, cachePath, e.opts.CacheReadRetryInterval, e.opts.CacheReadRetryTimeout); err != nil {
			return localfs.FileInfo{}, err
		}
		return e.local.Stat(ctx, cachePath)
	}

	if info, err := e.local.Stat(ctx, e.localPath(path)); err == nil {
		return info, nil
	} else if !cerrors.IsNotFound(err) {
		return localfs.FileInfo{}, err
	}

	if kind != KindSortedData && kind != KindManifest && kind != KindIdentity {
		return localfs.FileInfo{}, cerrors.New(cerrors.KindNotFound, "file not found locally").WithComponent("cloudenv").WithPath(path)
	}

	if e.mapper.HasDest() {
		if info, err := e.destStore.Head(ctx, e.mapper.DestKey(path)); err == nil {
			return localfs.FileInfo{Name: basename(path), Size: info.Size, ModTime: info.LastModified}, nil
		} else if !cerrors.IsNotFound(err) {
			return localfs.FileInfo{}, err
		}
	}
	if e.mapper.HasSrc() {
		if info, err := e.srcStore.Head(ctx, e.mapper.SrcKey(path)); err == nil {
			return localfs.FileInfo{Name: basename(path), Size: info.Size, ModTime: info.LastModified}, nil
		} else if !cerrors.IsNotFound(err) {
			return localfs.FileInfo{}, err
		}
	}
	return localfs.FileInfo{}, cerrors.New(cerrors.KindNotFound, "file not found locally, in dest, or in src").WithComponent("cloudenv").WithPath(path)
}

// CreateDir creates a zero-byte marker object under the destination (if
// configured) and the local directory, so listings can reveal directories
// that have no object files yet.
func (e *Env) CreateDir(ctx context.Context, dir string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	if e.mapper.HasDest() {
		if err := e.destStore.PutMetadata(ctx, e.mapper.DestDirKey(dir), nil); err != nil {
			return err
		}
	}
	return e.local.MkdirAll(ctx, e.localPath(dir))
}

// CreateDirIfMissing is CreateDir's idempotent sibling; the object-store
// marker write is itself idempotent and MkdirAll already tolerates an
// existing directory, so both share one implementation.
func (e *Env) CreateDirIfMissing(ctx context.Context, dir string) error {
	return e.CreateDir(ctx, dir)
}

// DeleteDir removes the local directory and the destination marker, but
// only if the directory is empty; non-empty directory deletion fails
// rather than silently deleting children.
func (e *Env) DeleteDir(ctx context.Context, dir string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	entries, err := e.local.ReadDir(ctx, e.localPath(dir))
	if err != nil && !cerrors.IsNotFound(err) {
		return err
	}
	if len(entries) > 0 {
		return cerrors.New(cerrors.KindInvalidArgument, "directory is not empty").WithComponent("cloudenv").WithPath(dir)
	}
	if e.mapper.HasDest() {
		if err := e.destStore.Delete(ctx, e.mapper.DestDirKey(dir)); err != nil {
			return err
		}
	}
	return e.local.RemoveAll(ctx, e.localPath(dir))
}

// sweepEmptyDirectoryMarkers is the purger's SweepFunc. Directory markers
// are a pure listing convenience (the object store has no hierarchy of its
// own, per spec.md's directory-emulation design note), so a marker whose
// local directory has since been emptied or removed — and which has sat
// that way longer than the deletion delay, to avoid racing a directory that
// is merely between CreateDir and its first child write — is safe to
// reclaim the same way DeleteDir itself would, had anyone called it.
// Sorted-data, manifest, and identity objects are never touched here:
// DeletionQueue already owns reclaiming those, and nothing about a missing
// local copy of one means it's safe to delete from the object store.
func (e *Env) sweepEmptyDirectoryMarkers(ctx context.Context) error {
	if !e.mapper.HasDest() {
		return nil
	}
	prefix := e.opts.Dest.Prefix
	objs, err := e.destStore.List(ctx, prefix)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-e.opts.DeletionDelay)
	for _, o := range objs {
		if !strings.HasSuffix(o.Key, "/") || o.LastModified.After(cutoff) {
			continue
		}
		dirname := strings.TrimSuffix(strings.TrimPrefix(o.Key, prefix+"/"), "/")
		if dirname == "" {
			continue
		}
		entries, derr := e.local.ReadDir(ctx, e.localPath(dirname))
		if derr != nil && !cerrors.IsNotFound(derr) {
			return derr
		}
		if len(entries) > 0 {
			continue
		}
		if err := e.destStore.Delete(ctx, o.Key); err != nil && !cerrors.IsNotFound(err) {
			e.logger.Warn("cloudenv: purger failed to delete orphaned directory marker", "key", o.Key, "error", err)
		}
	}
	return nil
}

// LockFile/UnlockFile are no-ops: the object store offers no atomic
// create-if-absent primitive in this design. A short-TTL lease object with
// a conditional write would be the canonical replacement if cross-process
// locking is ever required.
func (e *Env) LockFile(ctx context.Context, path string) error   { return nil }
func (e *Env) UnlockFile(ctx context.Context, path string) error { return nil }

func readLocal(ctx context.Context, fs localfs.FileSystem, path string) ([]byte, error) {
	r, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		n, rerr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return buf, nil
}
