// Package objectstore defines the ObjectStoreClient contract a cloud
// storage environment uses to read and write sorted-data files,
// manifests, and identity files in the S3-shaped backend, along with an
// AWS SDK v2 adapter that wraps every call with a circuit breaker, retry
// strategy, and telemetry hook.
package objectstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object without its body.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	Metadata     map[string]string
}

// Client is the contract cloudenv depends on for the object-store backend.
// Implementations must translate backend-specific errors into
// pkg/cerrors.Error values.
type Client interface {
	// Get fetches the full object body.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange fetches [offset, offset+length) of the object. length < 0
	// means "to the end".
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Put writes or overwrites an object, used for sorted-data files,
	// manifests, and identity files alike.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// PutMetadata writes a zero-byte marker object carrying metadata,
	// used by DbidRegistry.Save and directory marker creation.
	PutMetadata(ctx context.Context, key string, metadata map[string]string) error

	// Head returns metadata without fetching the body. Returns a NotFound
	// cerrors.Error if the object does not exist.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List enumerates objects under prefix in lexicographic key order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Copy copies src to dst within the same bucket.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// CreateBucket idempotently ensures the backing bucket exists, treating
	// AlreadyExists/AlreadyOwnedByYou as success.
	CreateBucket(ctx context.Context, region string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases client resources.
	Close() error
}
