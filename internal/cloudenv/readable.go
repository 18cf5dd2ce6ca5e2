package cloudenv

import (
	"context"

	"github.com/rockset/rocksdb-cloud/internal/objectstore"
)

// ReadableCloudFile is a random/sequential reader over a single
// object-store object. It probes size and mtime with a Head call at open
// time; if that probe fails with not-found the file is left in an error
// state and every subsequent read propagates that same error.
type ReadableCloudFile struct {
	store objectstore.Client
	key   string
	path  string

	size  int64
	mtime int64 // unix micros, mirrors WritableCloudFile's lastManifestUploadMicros convention

	openErr error
	cursor  int64
}

// OpenReadableCloudFile issues the Head probe spec.md §4.3 requires before
// any read is allowed.
func OpenReadableCloudFile(ctx context.Context, store objectstore.Client, key, path string) *ReadableCloudFile {
	f := &ReadableCloudFile{store: store, key: key, path: path}
	info, err := store.Head(ctx, key)
	if err != nil {
		f.openErr = err
		return f
	}
	f.size = info.Size
	f.mtime = info.LastModified.UnixMicro()
	return f
}

// Size and Mtime return the values captured by the opening Head probe.
func (f *ReadableCloudFile) Size() int64  { return f.size }
func (f *ReadableCloudFile) Mtime() int64 { return f.mtime }

// Err returns the error that put this file into an error state at open
// time, or nil if the open succeeded.
func (f *ReadableCloudFile) Err() error { return f.openErr }

// Read issues a ranged Get for [offset, offset+max(n,1)-1]. A zero-length
// read still probes existence (its payload is discarded); reads past
// end-of-file return a short or empty slice without error.
func (f *ReadableCloudFile) Read(ctx context.Context, offset int64, n int) ([]byte, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	length := int64(n)
	if length <= 0 {
		length = 1
	}
	data, err := f.store.GetRange(ctx, f.key, offset, length)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	return data, nil
}

// ReadSequential reads n bytes starting at the current sequential cursor
// and advances it by the number of bytes actually returned.
func (f *ReadableCloudFile) ReadSequential(ctx context.Context, n int) ([]byte, error) {
	data, err := f.Read(ctx, f.cursor, n)
	if err != nil {
		return nil, err
	}
	f.cursor += int64(len(data))
	return data, nil
}

// GetUniqueId encodes the parsed numeric file number when path is a
// sorted-data file, giving the engine's persistent read cache a stable
// identity across local and cloud storage.
func (f *ReadableCloudFile) GetUniqueId() (int64, bool) {
	return FileNumber(f.path)
}
