package objectstore

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// Fake is an in-memory Client used by cloudenv's tests so they never touch
// a real S3 bucket.
type Fake struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	mtimes   map[string]time.Time
	metadata map[string]map[string]string

	// FailNextPut, when set, is returned once by the next Put call and
	// then cleared, letting tests exercise the retry path.
	FailNextPut error
}

// NewFake creates an empty Fake object store.
func NewFake() *Fake {
	return &Fake{
		objects:  make(map[string][]byte),
		mtimes:   make(map[string]time.Time),
		metadata: make(map[string]map[string]string),
	}
}

func (f *Fake) Get(ctx context.Context, key string) ([]byte, error) {
	return f.GetRange(ctx, key, 0, -1)
}

func (f *Fake) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, ok := f.objects[key]
	if !ok {
		return nil, cerrors.New(cerrors.KindNotFound, "object not found").WithComponent("objectstore").WithOperation("GetObject").WithPath(key)
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, cerrors.New(cerrors.KindInvalidArgument, "offset out of range").WithComponent("objectstore").WithPath(key)
	}
	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

func (f *Fake) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to read body").WithComponent("objectstore").WithPath(key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailNextPut != nil {
		err := f.FailNextPut
		f.FailNextPut = nil
		return err
	}
	f.objects[key] = data
	f.mtimes[key] = time.Now()
	delete(f.metadata, key)
	return nil
}

// PutMetadata implements Client.
func (f *Fake) PutMetadata(ctx context.Context, key string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[key] = nil
	f.mtimes[key] = time.Now()
	cloned := make(map[string]string, len(metadata))
	for k, v := range metadata {
		cloned[k] = v
	}
	f.metadata[key] = cloned
	return nil
}

func (f *Fake) Head(ctx context.Context, key string) (ObjectInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, ok := f.objects[key]
	if !ok {
		return ObjectInfo{}, cerrors.New(cerrors.KindNotFound, "object not found").WithComponent("objectstore").WithOperation("HeadObject").WithPath(key)
	}
	return ObjectInfo{Key: key, Size: int64(len(data)), LastModified: f.mtimes[key], Metadata: f.metadata[key]}, nil
}

func (f *Fake) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	delete(f.mtimes, key)
	delete(f.metadata, key)
	return nil
}

func (f *Fake) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []ObjectInfo
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(data)), LastModified: f.mtimes[key], Metadata: f.metadata[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *Fake) Copy(ctx context.Context, srcKey, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[srcKey]
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "source object not found").WithComponent("objectstore").WithOperation("CopyObject").WithPath(srcKey)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	f.objects[dstKey] = copied
	f.mtimes[dstKey] = time.Now()
	return nil
}

// CreateBucket implements Client. The fake has no bucket concept to
// provision, so this is a no-op that always succeeds.
func (f *Fake) CreateBucket(ctx context.Context, region string) error { return nil }

func (f *Fake) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *Fake) Close() error { return nil }
