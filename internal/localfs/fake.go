package localfs

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// Fake is an in-memory FileSystem used by cloudenv's tests so they never
// touch real disk.
type Fake struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	mtime map[string]time.Time
}

// NewFake creates an empty in-memory filesystem rooted at "/".
func NewFake() *Fake {
	return &Fake{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
		mtime: make(map[string]time.Time),
	}
}

func (f *Fake) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, cerrors.New(cerrors.KindNotFound, "local file not found").WithComponent("localfs").WithOperation("Open").WithPath(path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeWriter struct {
	f    *Fake
	path string
	buf  bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Sync publishes the bytes written so far, so a Stat or Open of the path
// sees them before Close.
func (w *fakeWriter) Sync() error { return w.Close() }

func (w *fakeWriter) Close() error {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	w.f.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	w.f.mtime[w.path] = time.Now()
	return nil
}

func (f *Fake) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	return &fakeWriter{f: f, path: path}, nil
}

type fakeAppender struct {
	f    *Fake
	path string
}

func (a *fakeAppender) Write(p []byte) (int, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	a.f.files[a.path] = append(a.f.files[a.path], p...)
	a.f.mtime[a.path] = time.Now()
	return len(p), nil
}
func (a *fakeAppender) Close() error { return nil }

func (f *Fake) OpenAppend(ctx context.Context, path string) (io.WriteCloser, error) {
	f.mu.Lock()
	if _, ok := f.files[path]; !ok {
		f.files[path] = nil
		f.mtime[path] = time.Now()
	}
	f.mu.Unlock()
	return &fakeAppender{f: f, path: path}, nil
}

func (f *Fake) Remove(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	delete(f.mtime, path)
	return nil
}

func (f *Fake) Rename(ctx context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[oldPath]
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "local file not found").WithComponent("localfs").WithOperation("Rename").WithPath(oldPath)
	}
	f.files[newPath] = data
	f.mtime[newPath] = f.mtime[oldPath]
	delete(f.files, oldPath)
	delete(f.mtime, oldPath)
	return nil
}

func (f *Fake) Truncate(ctx context.Context, path string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil
	}
	if size < 0 {
		size = 0
	}
	if int64(len(data)) <= size {
		return nil
	}
	f.files[path] = data[:size]
	return nil
}

func (f *Fake) Stat(ctx context.Context, path string) (FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirs[path] {
		return FileInfo{Name: path, IsDir: true}, nil
	}
	data, ok := f.files[path]
	if !ok {
		return FileInfo{}, cerrors.New(cerrors.KindNotFound, "local file not found").WithComponent("localfs").WithOperation("Stat").WithPath(path)
	}
	return FileInfo{Name: path, Size: int64(len(data)), ModTime: f.mtime[path]}, nil
}

func (f *Fake) Exists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, fileOK := f.files[path]
	return fileOK || f.dirs[path], nil
}

func (f *Fake) Mkdir(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true
	return nil
}

func (f *Fake) MkdirAll(ctx context.Context, path string) error {
	return f.Mkdir(ctx, path)
}

func (f *Fake) RemoveAll(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dirs, path)
	for key := range f.files {
		if strings.HasPrefix(key, path) {
			delete(f.files, key)
			delete(f.mtime, key)
		}
	}
	return nil
}

func (f *Fake) ReadDir(ctx context.Context, path string) ([]FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := make(map[string]bool)
	var out []FileInfo
	for key, data := range f.files {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rel := strings.TrimPrefix(key, prefix)
		if idx := strings.Index(rel, "/"); idx >= 0 {
			rel = rel[:idx]
		}
		if seen[rel] {
			continue
		}
		seen[rel] = true
		out = append(out, FileInfo{Name: rel, Size: int64(len(data)), ModTime: f.mtime[key]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
