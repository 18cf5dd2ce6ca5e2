package cloudenv

import (
	"context"
	"io"
	"time"

	"github.com/rockset/rocksdb-cloud/internal/localfs"
	"github.com/rockset/rocksdb-cloud/internal/objectstore"
	"github.com/rockset/rocksdb-cloud/internal/telemetry"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// WritableCloudFile is a buffered writer whose bytes go to a local temp
// file first; on Close (sorted-data/identity) the temp file is uploaded
// and optionally deleted, or (manifest) periodic durability snapshots are
// uploaded on Sync and unconditionally on Close.
type WritableCloudFile struct {
	fs    localfs.FileSystem
	store objectstore.Client

	tempPath string
	key      string
	writer   io.WriteCloser

	isManifest  bool
	periodicity time.Duration
	keepLocal   bool

	lastManifestUploadMicros int64
	metrics                  *telemetry.Collector
}

// OpenWritableCloudFile opens tempPath for writing under the local
// filesystem, the cloud key being fixed at open time as spec.md §4.4
// requires.
func OpenWritableCloudFile(ctx context.Context, fs localfs.FileSystem, store objectstore.Client, tempPath, key string, isManifest bool, periodicity time.Duration, keepLocal bool, metrics *telemetry.Collector) (*WritableCloudFile, error) {
	w, err := fs.Create(ctx, tempPath)
	if err != nil {
		return nil, err
	}
	return &WritableCloudFile{
		fs:          fs,
		store:       store,
		tempPath:    tempPath,
		key:         key,
		writer:      w,
		isManifest:  isManifest,
		periodicity: periodicity,
		keepLocal:   keepLocal,
		metrics:     metrics,
	}, nil
}

// Append writes p to the local temp file.
func (w *WritableCloudFile) Append(p []byte) error {
	if _, err := w.writer.Write(p); err != nil {
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to write local temp file").WithComponent("cloudenv").WithPath(w.tempPath)
	}
	return nil
}

// Sync flushes the local temp file (when its writer has a Sync method) and,
// for manifest files, triggers an upload if the durability periodicity has
// elapsed since the last one. The first Sync of a manifest always uploads.
func (w *WritableCloudFile) Sync() error {
	if s, ok := w.writer.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return cerrors.Wrap(cerrors.KindIOError, err, "failed to sync local temp file").WithComponent("cloudenv").WithPath(w.tempPath)
		}
	}
	if !w.isManifest || w.periodicity <= 0 {
		return nil
	}
	if !w.manifestUploadDue() {
		return nil
	}
	return w.uploadManifest(context.Background())
}

func (w *WritableCloudFile) manifestUploadDue() bool {
	nowMicros := time.Now().UnixMicro()
	return nowMicros-w.lastManifestUploadMicros >= w.periodicity.Microseconds()
}

// Close flushes the local temp file, then finalises it per file kind:
// sorted-data/identity files upload their complete body unconditionally
// and optionally remove the local copy; manifest files upload
// unconditionally regardless of periodicity and always keep the local
// copy.
func (w *WritableCloudFile) Close() error {
	if err := w.writer.Close(); err != nil {
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to flush local temp file").WithComponent("cloudenv").WithPath(w.tempPath)
	}

	if w.isManifest {
		return w.uploadManifest(context.Background())
	}
	return w.uploadAndMaybeDeleteLocal(context.Background())
}

func (w *WritableCloudFile) uploadAndMaybeDeleteLocal(ctx context.Context) error {
	info, err := w.fs.Stat(ctx, w.tempPath)
	if err != nil {
		return err
	}
	if info.Size == 0 {
		return cerrors.New(cerrors.KindIOError, "refusing to upload a zero-byte sorted-data file").WithComponent("cloudenv").WithPath(w.key)
	}

	r, err := w.fs.Open(ctx, w.tempPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := w.store.Put(ctx, w.key, r, info.Size); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.RecordBytes("cloudenv", "upload", info.Size)
	}

	if !w.keepLocal {
		return w.fs.Remove(ctx, w.tempPath)
	}
	return nil
}

func (w *WritableCloudFile) uploadManifest(ctx context.Context) error {
	start := time.Now()

	info, err := w.fs.Stat(ctx, w.tempPath)
	if err != nil {
		return err
	}
	r, err := w.fs.Open(ctx, w.tempPath)
	if err != nil {
		return err
	}
	defer r.Close()

	err = w.store.Put(ctx, w.key, r, info.Size)
	if w.metrics != nil {
		w.metrics.RecordRequest("cloudenv", "manifest_write", time.Since(start), err)
	}
	if err != nil {
		return err
	}
	w.lastManifestUploadMicros = time.Now().UnixMicro()
	return nil
}

// CopyFromS3 streams the object at srcKey from store to dstPath via a
// sibling temp path, then atomic-renames into place. Used when a reader
// falls back to cloud and wishes to warm the local cache. Any error
// aborts and leaves the temp file in place; callers treat partial
// downloads as missing.
func CopyFromS3(ctx context.Context, fs localfs.FileSystem, store objectstore.Client, srcKey, dstPath string) error {
	tmpPath := dstPath + ".tmp"

	data, err := store.Get(ctx, srcKey)
	if err != nil {
		return err
	}

	w, err := fs.Create(ctx, tmpPath)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to write downloaded body to temp file").WithComponent("cloudenv").WithPath(tmpPath)
	}
	if err := w.Close(); err != nil {
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to flush downloaded temp file").WithComponent("cloudenv").WithPath(tmpPath)
	}

	return fs.Rename(ctx, tmpPath, dstPath)
}
