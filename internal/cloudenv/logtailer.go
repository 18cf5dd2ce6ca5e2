package cloudenv

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rockset/rocksdb-cloud/internal/localfs"
	"github.com/rockset/rocksdb-cloud/internal/logstream"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// LogTailer is the single background worker per env that consumes every
// partition of the WAL stream and materialises a content-addressed local
// cache directory from which the engine reads log files.
type LogTailer struct {
	fs         localfs.FileSystem
	stream     logstream.Client
	streamName string
	cacheRoot  string
	logger     *slog.Logger

	reconnectCfg logstream.ReconnectConfig

	mu      sync.RWMutex
	cursors map[string]string

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	reconectors []*logstream.Reconnector
}

// NewLogTailer creates a LogTailer that will materialise streamName's
// records under cacheRoot once Start is called.
func NewLogTailer(fs localfs.FileSystem, stream logstream.Client, streamName, cacheRoot string, logger *slog.Logger) *LogTailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTailer{
		fs:         fs,
		stream:     stream,
		streamName: streamName,
		cacheRoot:  cacheRoot,
		logger:     logger,
		cursors:    make(map[string]string),
	}
}

// Start creates the stream if absent, waits for it to become active
// (via EnsureStream), discovers the full set of partitions, and spawns one
// worker goroutine per partition that applies records to the cache in
// sequence order.
func (t *LogTailer) Start(ctx context.Context) error {
	if err := t.stream.EnsureStream(ctx, t.streamName); err != nil {
		return err
	}
	partitions, err := t.stream.Partitions(ctx, t.streamName)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	for _, partition := range partitions {
		p := partition
		reconnector := logstream.NewReconnector(t.streamName+":"+p, t.reconnectCfg, func(c context.Context) (logstream.Subscription, error) {
			return t.stream.Subscribe(c, t.streamName, p)
		}, t.logger)
		t.reconectors = append(t.reconectors, reconnector)

		t.wg.Add(1)
		go t.run(runCtx, p, reconnector)
	}
	return nil
}

func (t *LogTailer) run(ctx context.Context, partition string, reconnector *logstream.Reconnector) {
	defer t.wg.Done()
	for record := range reconnector.Records(ctx) {
		if err := t.apply(record); err != nil {
			t.logger.Warn("cloudenv: log tailer failed to apply record, cursor not advanced",
				"partition", partition, "error", err)
			continue
		}
		t.mu.Lock()
		t.cursors[partition] = record.SequenceNumber
		t.mu.Unlock()
	}
}

// apply decodes one record and mutates the cache accordingly: append opens
// or creates the cache file and appends the payload; delete removes it if
// present; close truncates it to the reported final size. The cursor
// advance in run only happens after this returns nil.
func (t *LogTailer) apply(record logstream.Record) error {
	var body logRecordBody
	if err := json.Unmarshal(record.Data, &body); err != nil {
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to decode log record").WithComponent("cloudenv")
	}
	cachePath := t.CachePath(body.LogicalPath)
	ctx := context.Background()

	switch body.OpType {
	case logOpAppend:
		w, err := t.fs.OpenAppend(ctx, cachePath)
		if err != nil {
			return err
		}
		defer w.Close()
		if len(body.Payload) == 0 {
			return nil
		}
		if _, err := w.Write(body.Payload); err != nil {
			return cerrors.Wrap(cerrors.KindIOError, err, "failed to append to cache file").WithComponent("cloudenv").WithPath(cachePath)
		}
		return nil
	case logOpDelete:
		return t.fs.Remove(ctx, cachePath)
	case logOpClose:
		return t.fs.Truncate(ctx, cachePath, body.FinalSize)
	default:
		return cerrors.New(cerrors.KindIOError, "unknown log record op type").WithComponent("cloudenv").WithPath(body.LogicalPath)
	}
}

// DefaultCacheRoot builds a cache root directory name under baseDir that
// includes bucket and a random suffix, so repeated construction against the
// same bucket in the same process never collides with a prior run's cache.
func DefaultCacheRoot(baseDir, bucket string) string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return filepath.Join(baseDir, fmt.Sprintf("%s-logcache", bucket))
	}
	return filepath.Join(baseDir, fmt.Sprintf("%s-logcache-%x", bucket, buf))
}

// CachePath derives the deterministic, collision-resistant local cache path
// for logicalPath: cacheRoot/sha256(logicalPath) hex-encoded.
func (t *LogTailer) CachePath(logicalPath string) string {
	sum := sha256.Sum256([]byte(logicalPath))
	return filepath.Join(t.cacheRoot, fmt.Sprintf("%x", sum))
}

// Cursors returns a read-only snapshot of the per-partition last-applied
// sequence numbers, the accessor spec.md §5 requires instead of exposing
// the live map.
func (t *LogTailer) Cursors() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.cursors))
	for k, v := range t.cursors {
		out[k] = v
	}
	return out
}

// Stop signals every partition worker to exit and waits for them, then
// releases their subscriptions.
func (t *LogTailer) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	for _, r := range t.reconectors {
		_ = r.Close()
	}
}

// WaitForCachePath is the reader-side bounded retry loop spec.md §4.5/§5
// describes: readers that miss a file in the local cache retry briefly to
// give the tailer time to apply pending records, rather than failing
// immediately with NotFound.
func WaitForCachePath(ctx context.Context, fs localfs.FileSystem, path string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := fs.Exists(ctx, path)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return cerrors.New(cerrors.KindNotFound, "cache file did not appear before retry timeout").WithComponent("cloudenv").WithPath(path)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return cerrors.Wrap(cerrors.KindTimedOut, ctx.Err(), "canceled while waiting for cache file").WithComponent("cloudenv").WithPath(path)
		}
	}
}
