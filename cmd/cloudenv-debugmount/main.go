// Command cloudenv-debugmount mounts a cloud storage environment read-only
// at a local mountpoint using FUSE, so its contents can be browsed with
// ordinary tools (ls, cat, find) instead of a purpose-built CLI. It is a
// diagnostic aid, not a production mount: writes are always rejected.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/rockset/rocksdb-cloud/internal/cloudenv"
	"github.com/rockset/rocksdb-cloud/internal/config"
	"github.com/rockset/rocksdb-cloud/internal/localfs"
	"github.com/rockset/rocksdb-cloud/internal/logstream"
	"github.com/rockset/rocksdb-cloud/internal/objectstore"
	"github.com/rockset/rocksdb-cloud/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the EnvOptions YAML file (required)")
	mountPoint := flag.String("mountpoint", "", "directory to mount the environment at (required)")
	localRoot := flag.String("local-root", "", "local staging directory backing the environment (required)")
	cacheRoot := flag.String("cache-root", "", "local log-tailer cache directory (defaults to a bucket-and-random-suffixed directory under local-root)")
	streamName := flag.String("stream", "", "log stream name (required unless keep_local_log_files is set)")
	logLevel := flag.String("log-level", "info", "logging level (debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	if *configPath == "" || *mountPoint == "" || *localRoot == "" {
		fmt.Fprintln(os.Stderr, "usage: cloudenv-debugmount -config <path> -mountpoint <dir> -local-root <dir> [-stream <name>]")
		os.Exit(2)
	}
	if err := run(*configPath, *mountPoint, *localRoot, *cacheRoot, *streamName, logger); err != nil {
		logger.Error("cloudenv-debugmount: failed", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(configPath, mountPoint, localRoot, cacheRoot, streamName string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	opts, err := config.Load(raw)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	opts.BackfillRegions(config.DefaultRegionFromEnv())

	if cacheRoot == "" {
		bucket := opts.Src.Bucket
		if bucket == "" {
			bucket = opts.Dest.Bucket
		}
		cacheRoot = cloudenv.DefaultCacheRoot(localRoot, bucket)
	}

	metrics, err := telemetry.NewCollector(telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("building telemetry collector: %w", err)
	}

	deps := cloudenv.EnvDeps{
		Local:      localfs.New(),
		StreamName: streamName,
		CacheRoot:  cacheRoot,
		LocalRoot:  localRoot,
		Metrics:    metrics,
		Logger:     logger,
	}

	accessKeyID, secretKey := opts.Credentials.ResolvedKeys()

	if opts.HasSrc() {
		client, err := objectstore.NewS3Client(ctx, objectstore.S3Config{
			Bucket: opts.Src.Bucket, Region: opts.Src.Region,
			AccessKeyID: accessKeyID, SecretKey: secretKey,
		}, metrics, logger)
		if err != nil {
			return fmt.Errorf("building source object store client: %w", err)
		}
		deps.SrcStore = client
	}
	if opts.HasDest() {
		client, err := objectstore.NewS3Client(ctx, objectstore.S3Config{
			Bucket: opts.Dest.Bucket, Region: opts.Dest.Region,
			AccessKeyID: accessKeyID, SecretKey: secretKey,
		}, metrics, logger)
		if err != nil {
			return fmt.Errorf("building destination object store client: %w", err)
		}
		deps.DestStore = client
	}
	if !opts.KeepLocalLogFiles {
		region := opts.Dest.Region
		if region == "" {
			region = opts.Src.Region
		}
		client, err := logstream.NewKinesisClient(ctx, logstream.KinesisConfig{
			Region: region, AccessKeyID: accessKeyID, SecretKey: secretKey,
		}, metrics, logger)
		if err != nil {
			return fmt.Errorf("building log stream client: %w", err)
		}
		deps.Stream = client
	}

	env := cloudenv.NewEnv(ctx, opts, deps)
	if err := env.Status(); err != nil {
		return fmt.Errorf("environment construction failed: %w", err)
	}
	defer env.Close()

	root := &dirNode{env: env, path: ""}
	server, err := fs.Mount(mountPoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:  "cloudenv",
			Name:    "cloudenv",
			Debug:   false,
			Options: []string{"ro"},
		},
	})
	if err != nil {
		return fmt.Errorf("mounting at %s: %w", mountPoint, err)
	}

	logger.Info("cloudenv-debugmount: mounted", "mountpoint", mountPoint)
	go func() {
		<-ctx.Done()
		logger.Info("cloudenv-debugmount: unmounting")
		_ = server.Unmount()
	}()
	server.Wait()
	return nil
}
