package cloudenv

import (
	"context"
	"strings"

	"github.com/rockset/rocksdb-cloud/internal/objectstore"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// dbidRegistryPrefix is the reserved object-store prefix dbid marker
// objects live under, per spec.md §4.7/§6.
const dbidRegistryPrefix = ".rockset/dbid/"

// dirnameMetadataKey is the object-metadata header carrying the
// destination path a dbid marker publishes.
const dirnameMetadataKey = "dirname"

// DbidRegistry is a key/value view over the destination bucket keyed by
// database identifier: each entry is a zero-byte marker object whose
// destination path is carried in object metadata. The identity-rename
// path in CloudEnv is the sole writer.
type DbidRegistry struct {
	store objectstore.Client
}

// NewDbidRegistry wraps store, which must be the client for the bucket the
// registry lives in (the destination bucket).
func NewDbidRegistry(store objectstore.Client) *DbidRegistry {
	return &DbidRegistry{store: store}
}

func dbidKey(dbid string) string {
	return dbidRegistryPrefix + dbid
}

// Save publishes dbid -> dirname by writing the marker object.
func (r *DbidRegistry) Save(ctx context.Context, dbid, dirname string) error {
	return r.store.PutMetadata(ctx, dbidKey(dbid), map[string]string{dirnameMetadataKey: dirname})
}

// Lookup returns the destination path registered for dbid, or a NotFound
// cerrors.Error if no such entry exists.
func (r *DbidRegistry) Lookup(ctx context.Context, dbid string) (string, error) {
	info, err := r.store.Head(ctx, dbidKey(dbid))
	if err != nil {
		return "", err
	}
	dirname, ok := info.Metadata[dirnameMetadataKey]
	if !ok {
		return "", cerrors.New(cerrors.KindNotFound, "dbid marker missing dirname metadata").WithComponent("cloudenv").WithPath(dbidKey(dbid))
	}
	return dirname, nil
}

// List enumerates every registered dbid -> dirname mapping. Cost is linear
// in the number of registered dbids (one List plus one Head per entry);
// acceptable because registry enumeration is rare.
func (r *DbidRegistry) List(ctx context.Context) (map[string]string, error) {
	objs, err := r.store.List(ctx, dbidRegistryPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(objs))
	for _, obj := range objs {
		dbid := strings.TrimPrefix(obj.Key, dbidRegistryPrefix)
		if dbid == "" {
			continue
		}
		info, herr := r.store.Head(ctx, obj.Key)
		if herr != nil {
			if cerrors.IsNotFound(herr) {
				continue
			}
			return nil, herr
		}
		if dirname, ok := info.Metadata[dirnameMetadataKey]; ok {
			out[dbid] = dirname
		}
	}
	return out, nil
}

// Delete removes dbid's registry entry.
func (r *DbidRegistry) Delete(ctx context.Context, dbid string) error {
	return r.store.Delete(ctx, dbidKey(dbid))
}
