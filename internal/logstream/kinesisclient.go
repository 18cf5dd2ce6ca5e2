package logstream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/rockset/rocksdb-cloud/internal/circuit"
	"github.com/rockset/rocksdb-cloud/internal/telemetry"
	"github.com/rockset/rocksdb-cloud/pkg/backoff"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// KinesisConfig configures the KinesisClient adapter.
type KinesisConfig struct {
	Region     string
	Endpoint   string
	ShardCount int32

	// AccessKeyID/SecretKey, when both set, take precedence over the
	// environment-variable and SDK-default credential chain, matching
	// internal/config.Credentials' resolution order.
	AccessKeyID string
	SecretKey   string

	WaitForActiveTimeout time.Duration
	PollInterval         time.Duration
}

func (c *KinesisConfig) setDefaults() {
	if c.ShardCount <= 0 {
		c.ShardCount = 1
	}
	if c.WaitForActiveTimeout <= 0 {
		c.WaitForActiveTimeout = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// KinesisClient adapts the AWS SDK v2 Kinesis client to the Client
// interface, built the same way S3Client loads its AWS config (same
// credential chain, same functional-options style).
type KinesisClient struct {
	client  *kinesis.Client
	cfg     KinesisConfig
	breaker *circuit.Breaker
	strategy backoff.Strategy
	metrics *telemetry.Collector
	logger  *slog.Logger
}

// NewKinesisClient loads the default AWS credential chain and builds a
// KinesisClient.
func NewKinesisClient(ctx context.Context, cfg KinesisConfig, metrics *telemetry.Collector, logger *slog.Logger) (*KinesisClient, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIOError, err, "failed to load AWS config").WithComponent("logstream")
	}

	client := kinesis.NewFromConfig(awsCfg, func(o *kinesis.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &KinesisClient{
		client:   client,
		cfg:      cfg,
		breaker:  circuit.New("logstream", circuit.Config{}),
		strategy: backoff.New(backoff.DefaultConfig()),
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func (c *KinesisClient) call(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	var attempt int
	for {
		attempt++
		err := c.breaker.Execute(fn)
		if c.metrics != nil {
			c.metrics.RecordRequest("logstream", operation, time.Since(start), err)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, circuit.ErrOpen) {
			return cerrors.Wrap(cerrors.KindBusy, err, "logstream circuit open").WithComponent("logstream").WithOperation(operation)
		}
		translated := translateKinesisError(err, operation)
		decision := c.strategy.Decide(cerrors.KindOf(translated), attempt)
		if !decision.Retry {
			return translated
		}
		select {
		case <-time.After(decision.Delay):
		case <-ctx.Done():
			return cerrors.Wrap(cerrors.KindTimedOut, ctx.Err(), "logstream call canceled while retrying").WithComponent("logstream").WithOperation(operation)
		}
	}
}

// EnsureStream implements Client.
func (c *KinesisClient) EnsureStream(ctx context.Context, name string) error {
	err := c.call(ctx, "CreateStream", func() error {
		_, err := c.client.CreateStream(ctx, &kinesis.CreateStreamInput{
			StreamName: aws.String(name),
			ShardCount: aws.Int32(c.cfg.ShardCount),
		})
		var exists *types.ResourceInUseException
		if errors.As(err, &exists) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return c.waitActive(ctx, name)
}

func (c *KinesisClient) waitActive(ctx context.Context, name string) error {
	deadline := time.Now().Add(c.cfg.WaitForActiveTimeout)
	for {
		var status types.StreamStatus
		err := c.call(ctx, "DescribeStreamSummary", func() error {
			out, derr := c.client.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{
				StreamName: aws.String(name),
			})
			if derr != nil {
				return derr
			}
			status = out.StreamDescriptionSummary.StreamStatus
			return nil
		})
		if err != nil {
			return err
		}
		if status == types.StreamStatusActive {
			return nil
		}
		if time.Now().After(deadline) {
			return cerrors.New(cerrors.KindTimedOut, "stream did not become active in time").WithComponent("logstream").WithPath(name)
		}
		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			return cerrors.Wrap(cerrors.KindTimedOut, ctx.Err(), "canceled while waiting for stream to become active").WithComponent("logstream").WithPath(name)
		}
	}
}

// DeleteStream implements Client.
func (c *KinesisClient) DeleteStream(ctx context.Context, name string) error {
	return c.call(ctx, "DeleteStream", func() error {
		_, err := c.client.DeleteStream(ctx, &kinesis.DeleteStreamInput{
			StreamName: aws.String(name),
		})
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	})
}

// PutRecord implements Client.
func (c *KinesisClient) PutRecord(ctx context.Context, stream, partitionKey string, data []byte) error {
	return c.call(ctx, "PutRecord", func() error {
		_, err := c.client.PutRecord(ctx, &kinesis.PutRecordInput{
			StreamName:   aws.String(stream),
			PartitionKey: aws.String(partitionKey),
			Data:         data,
		})
		return err
	})
}

// Subscribe implements Client, polling GetRecords on the shard matching
// partitionKey using the standard shard-iterator protocol (since cloudenv
// keeps every log file's records on one shard, this stays a single poll
// loop rather than a fan-out across shards).
func (c *KinesisClient) Subscribe(ctx context.Context, stream, partitionKey string) (Subscription, error) {
	shardID, err := c.shardForKey(ctx, stream, partitionKey)
	if err != nil {
		return nil, err
	}

	var iterator string
	err = c.call(ctx, "GetShardIterator", func() error {
		out, ierr := c.client.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
			StreamName:        aws.String(stream),
			ShardId:            aws.String(shardID),
			ShardIteratorType: types.ShardIteratorTypeTrimHorizon,
		})
		if ierr != nil {
			return ierr
		}
		iterator = aws.ToString(out.ShardIterator)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sub := &kinesisSubscription{
		client:   c,
		stream:   stream,
		iterator: iterator,
		records:  make(chan Record, 64),
		done:     make(chan struct{}),
	}
	go sub.pump(ctx)
	return sub, nil
}

// Partitions implements Client, letting LogTailer discover the full set of
// partitions to tail rather than only the one shard a given logical path's
// key would hash to.
func (c *KinesisClient) Partitions(ctx context.Context, stream string) ([]string, error) {
	shards, err := c.listShards(ctx, stream)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(shards))
	for i, sh := range shards {
		ids[i] = aws.ToString(sh.ShardId)
	}
	return ids, nil
}

func (c *KinesisClient) listShards(ctx context.Context, stream string) ([]types.Shard, error) {
	var shards []types.Shard
	err := c.call(ctx, "ListShards", func() error {
		out, lerr := c.client.ListShards(ctx, &kinesis.ListShardsInput{
			StreamName: aws.String(stream),
		})
		if lerr != nil {
			return lerr
		}
		shards = out.Shards
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, cerrors.New(cerrors.KindNotFound, "stream has no shards").WithComponent("logstream").WithPath(stream)
	}
	return shards, nil
}

// shardForKey resolves partitionKey to a shard ID. If partitionKey is
// itself a literal shard ID (as passed by LogTailer, which subscribes to
// partitions discovered via Partitions), it is used directly; otherwise it
// is deterministically hashed onto one of the stream's shards, since a
// given log file's records must always land on the same shard for
// GetRecords to observe them in order.
func (c *KinesisClient) shardForKey(ctx context.Context, stream, partitionKey string) (string, error) {
	shards, err := c.listShards(ctx, stream)
	if err != nil {
		return "", err
	}
	for _, sh := range shards {
		if aws.ToString(sh.ShardId) == partitionKey {
			return partitionKey, nil
		}
	}
	idx := hashKey(partitionKey) % uint32(len(shards))
	return aws.ToString(shards[idx].ShardId), nil
}

func hashKey(key string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}

// Close implements Client.
func (c *KinesisClient) Close() error { return nil }

type kinesisSubscription struct {
	client   *KinesisClient
	stream   string
	iterator string
	records  chan Record
	done     chan struct{}
	err      error
}

func (s *kinesisSubscription) pump(ctx context.Context) {
	defer close(s.records)
	ticker := time.NewTicker(s.client.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				s.err = err
				return
			}
		}
	}
}

func (s *kinesisSubscription) poll(ctx context.Context) error {
	var out *kinesis.GetRecordsOutput
	err := s.client.call(ctx, "GetRecords", func() error {
		o, gerr := s.client.client.GetRecords(ctx, &kinesis.GetRecordsInput{
			ShardIterator: aws.String(s.iterator),
		})
		out = o
		return gerr
	})
	if err != nil {
		return err
	}

	for _, rec := range out.Records {
		select {
		case s.records <- Record{SequenceNumber: aws.ToString(rec.SequenceNumber), Data: rec.Data}:
		case <-ctx.Done():
			return nil
		}
	}
	if out.NextShardIterator == nil {
		return cerrors.New(cerrors.KindIOError, "shard closed").WithComponent("logstream").WithPath(s.stream)
	}
	s.iterator = aws.ToString(out.NextShardIterator)
	return nil
}

func (s *kinesisSubscription) Records() <-chan Record { return s.records }
func (s *kinesisSubscription) Err() error              { return s.err }
func (s *kinesisSubscription) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func translateKinesisError(err error, operation string) error {
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return cerrors.Wrap(cerrors.KindNotFound, err, "stream not found").WithComponent("logstream").WithOperation(operation)
	}
	var throttled *types.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) {
		return cerrors.Wrap(cerrors.KindThrottled, err, "throughput exceeded").WithComponent("logstream").WithOperation(operation)
	}
	return cerrors.Wrap(cerrors.KindTransient, err, "log stream request failed").WithComponent("logstream").WithOperation(operation)
}
