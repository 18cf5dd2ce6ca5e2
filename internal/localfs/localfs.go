// Package localfs defines the POSIX filesystem adapter a cloud storage
// environment delegates non-cloud-owned operations to: scratch space,
// lock files, and — when KeepLocalSstFiles/KeepLocalLogFiles are set — the
// authoritative copy of sorted-data and WAL files.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// FileInfo is the subset of os.FileInfo CloudEnv's callers need, kept
// narrow and serializable rather than handed back as the stdlib interface.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileSystem is the contract CloudEnv dispatches local-disk operations to.
type FileSystem interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Create(ctx context.Context, path string) (io.WriteCloser, error)
	// OpenAppend opens path for append, creating it if missing, used by
	// LogTailer to apply append records to its cache files.
	OpenAppend(ctx context.Context, path string) (io.WriteCloser, error)

	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	// Truncate resizes path to size, used by LogTailer to reconcile its
	// cache file against a log file's final size on close.
	Truncate(ctx context.Context, path string, size int64) error

	Stat(ctx context.Context, path string) (FileInfo, error)
	Exists(ctx context.Context, path string) (bool, error)

	Mkdir(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string) error
	RemoveAll(ctx context.Context, path string) error
	ReadDir(ctx context.Context, path string) ([]FileInfo, error)
}

// OSFileSystem implements FileSystem on top of the stdlib os package.
type OSFileSystem struct{}

// New returns the stdlib-backed FileSystem.
func New() *OSFileSystem { return &OSFileSystem{} }

func (OSFileSystem) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, translate(err, "Open", path)
	}
	return f, nil
}

func (OSFileSystem) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, translate(err, "Create", path)
	}
	return f, nil
}

func (OSFileSystem) OpenAppend(ctx context.Context, path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, translate(err, "OpenAppend", path)
	}
	return f, nil
}

func (OSFileSystem) Remove(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return translate(err, "Remove", path)
	}
	return nil
}

func (OSFileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return translate(err, "Rename", oldPath)
	}
	return nil
}

func (OSFileSystem) Truncate(ctx context.Context, path string, size int64) error {
	if err := os.Truncate(path, size); err != nil && !os.IsNotExist(err) {
		return translate(err, "Truncate", path)
	}
	return nil
}

func (OSFileSystem) Stat(ctx context.Context, path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, translate(err, "Stat", path)
	}
	return FileInfo{Name: st.Name(), Size: st.Size(), ModTime: st.ModTime(), IsDir: st.IsDir()}, nil
}

func (OSFileSystem) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, translate(err, "Stat", path)
}

func (OSFileSystem) Mkdir(ctx context.Context, path string) error {
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return translate(err, "Mkdir", path)
	}
	return nil
}

func (OSFileSystem) MkdirAll(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return translate(err, "MkdirAll", path)
	}
	return nil
}

func (OSFileSystem) RemoveAll(ctx context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return translate(err, "RemoveAll", path)
	}
	return nil
}

func (OSFileSystem) ReadDir(ctx context.Context, path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, translate(err, "ReadDir", path)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, ierr := e.Info()
		if ierr != nil {
			return nil, translate(ierr, "ReadDir", filepath.Join(path, e.Name()))
		}
		out = append(out, FileInfo{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()})
	}
	return out, nil
}

func translate(err error, op, path string) error {
	if os.IsNotExist(err) {
		return cerrors.Wrap(cerrors.KindNotFound, err, "local file not found").WithComponent("localfs").WithOperation(op).WithPath(path)
	}
	return cerrors.Wrap(cerrors.KindIOError, err, "local filesystem error").WithComponent("localfs").WithOperation(op).WithPath(path)
}
