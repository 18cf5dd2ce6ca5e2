package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awscargoconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/rockset/rocksdb-cloud/internal/circuit"
	"github.com/rockset/rocksdb-cloud/internal/telemetry"
	"github.com/rockset/rocksdb-cloud/pkg/backoff"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// S3Config configures the S3Client adapter.
type S3Config struct {
	Bucket     string
	Region     string
	Endpoint   string

	ForcePathStyle bool
	UseAccelerate  bool
	UseDualStack   bool

	// AccessKeyID/SecretKey, when both set, take precedence over the
	// environment-variable and SDK-default credential chain, matching
	// internal/config.Credentials' resolution order.
	AccessKeyID string
	SecretKey   string

	MaxRetries int

	// OptimizedUploadThreshold is the body size above which Put routes
	// through the CargoShip-accelerated multipart transporter instead of a
	// plain PutObject call. Zero disables the optimized path.
	OptimizedUploadThreshold int64
}

func (c *S3Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// S3Client adapts the AWS SDK v2 S3 client to the Client interface, wrapping
// every call with a circuit breaker and exponential-backoff retry.
type S3Client struct {
	bucket      string
	client      *s3.Client
	transporter *cargoships3.Transporter
	cfg         S3Config

	breaker  *circuit.Breaker
	strategy backoff.Strategy
	metrics  *telemetry.Collector
	logger   *slog.Logger
}

// NewS3Client loads the default AWS credential/config chain via
// config.LoadDefaultConfig and the SDK's functional-options pattern, and
// builds an S3Client for bucket.
func NewS3Client(ctx context.Context, cfg S3Config, metrics *telemetry.Collector, logger *slog.Logger) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, cerrors.New(cerrors.KindInvalidArgument, "bucket name cannot be empty").WithComponent("objectstore")
	}
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIOError, err, "failed to load AWS config").WithComponent("objectstore")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
		if cfg.UseDualStack {
			o.EndpointOptions.UseDualStackEndpoint = aws.DualStackEndpointStateEnabled
		}
	})

	var transporter *cargoships3.Transporter
	if cfg.OptimizedUploadThreshold > 0 {
		transporter = cargoships3.NewTransporter(client, awscargoconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       awscargoconfig.StorageClassIntelligentTiering,
			MultipartThreshold: cfg.OptimizedUploadThreshold,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        8,
		})
		logger.Info("objectstore: cargoship optimized upload enabled",
			"bucket", cfg.Bucket, "threshold", cfg.OptimizedUploadThreshold)
	}

	return &S3Client{
		bucket:      cfg.Bucket,
		client:      client,
		transporter: transporter,
		cfg:         cfg,
		breaker:     circuit.New("objectstore:"+cfg.Bucket, circuit.Config{}),
		strategy:    backoff.New(backoff.DefaultConfig()),
		metrics:     metrics,
		logger:      logger,
	}, nil
}

func (c *S3Client) call(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	var attempt int

	for {
		attempt++
		var definite error
		err := c.breaker.Execute(func() error {
			ferr := fn()
			if ferr != nil && !cerrors.Retryable(cerrors.KindOf(translateAWSError(ferr, operation))) {
				// A definite answer such as not-found means the backend is
				// responding, so the breaker records it as a success.
				definite = ferr
				return nil
			}
			return ferr
		})
		if definite != nil {
			err = definite
		}
		if c.metrics != nil {
			c.metrics.RecordRequest("objectstore", operation, time.Since(start), err)
		}
		if err == nil {
			return nil
		}

		if errors.Is(err, circuit.ErrOpen) {
			return cerrors.Wrap(cerrors.KindBusy, err, "objectstore circuit open").WithComponent("objectstore").WithOperation(operation)
		}

		translated := translateAWSError(err, operation)
		kind := cerrors.KindOf(translated)
		decision := c.strategy.Decide(kind, attempt)
		if !decision.Retry {
			return translated
		}
		select {
		case <-time.After(decision.Delay):
		case <-ctx.Done():
			return cerrors.Wrap(cerrors.KindTimedOut, ctx.Err(), "objectstore call canceled while retrying").WithComponent("objectstore").WithOperation(operation)
		}
	}
}

// Get implements Client.
func (c *S3Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.GetRange(ctx, key, 0, -1)
}

// GetRange implements Client.
func (c *S3Client) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	var body []byte
	err := c.call(ctx, "GetObject", func() error {
		input := &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		}
		if offset > 0 || length >= 0 {
			input.Range = aws.String(formatRange(offset, length))
		}
		out, err := c.client.GetObject(ctx, input)
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err := io.ReadAll(out.Body)
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, withPath(err, key)
	}
	if c.metrics != nil {
		c.metrics.RecordBytes("objectstore", "download", int64(len(body)))
	}
	return body, nil
}

func formatRange(offset, length int64) string {
	if length < 0 {
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

// Put implements Client.
func (c *S3Client) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to buffer object body").WithComponent("objectstore").WithPath(key)
	}

	err = c.call(ctx, "PutObject", func() error {
		if c.transporter != nil && int64(len(data)) >= c.cfg.OptimizedUploadThreshold {
			archive := cargoships3.Archive{
				Key:    key,
				Reader: bytes.NewReader(data),
				Size:   int64(len(data)),
			}
			if _, uploadErr := c.transporter.Upload(ctx, archive); uploadErr == nil {
				return nil
			} else {
				c.logger.Warn("objectstore: cargoship upload failed, falling back to plain PutObject", "key", key, "error", uploadErr)
			}
		}
		_, perr := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		return perr
	})
	if err != nil {
		return withPath(err, key)
	}
	if c.metrics != nil {
		c.metrics.RecordBytes("objectstore", "upload", int64(len(data)))
	}
	return nil
}

// PutMetadata implements Client.
func (c *S3Client) PutMetadata(ctx context.Context, key string, metadata map[string]string) error {
	err := c.call(ctx, "PutObject", func() error {
		_, perr := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
			Metadata:      metadata,
		})
		return perr
	})
	if err != nil {
		return withPath(err, key)
	}
	return nil
}

// Head implements Client.
func (c *S3Client) Head(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := c.call(ctx, "HeadObject", func() error {
		out, herr := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if herr != nil {
			return herr
		}
		info = ObjectInfo{Key: key}
		if out.ContentLength != nil {
			info.Size = *out.ContentLength
		}
		if out.LastModified != nil {
			info.LastModified = *out.LastModified
		}
		if out.ETag != nil {
			info.ETag = *out.ETag
		}
		if len(out.Metadata) > 0 {
			info.Metadata = out.Metadata
		}
		return nil
	})
	if err != nil {
		return ObjectInfo{}, withPath(err, key)
	}
	return info, nil
}

// Delete implements Client.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	err := c.call(ctx, "DeleteObject", func() error {
		_, derr := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		return derr
	})
	if err != nil && !cerrors.IsNotFound(withPath(err, key)) {
		return withPath(err, key)
	}
	return nil
}

// List implements Client.
func (c *S3Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var results []ObjectInfo
	err := c.call(ctx, "ListObjectsV2", func() error {
		results = nil
		paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(c.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, perr := paginator.NextPage(ctx)
			if perr != nil {
				return perr
			}
			for _, obj := range page.Contents {
				info := ObjectInfo{Key: aws.ToString(obj.Key)}
				if obj.Size != nil {
					info.Size = *obj.Size
				}
				if obj.LastModified != nil {
					info.LastModified = *obj.LastModified
				}
				if obj.ETag != nil {
					info.ETag = *obj.ETag
				}
				results = append(results, info)
			}
		}
		return nil
	})
	if err != nil {
		return nil, withPath(err, prefix)
	}
	return results, nil
}

// Copy implements Client.
func (c *S3Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	err := c.call(ctx, "CopyObject", func() error {
		_, cerr := c.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(c.bucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(c.bucket + "/" + srcKey),
		})
		return cerr
	})
	if err != nil {
		return withPath(err, dstKey)
	}
	return nil
}

// CreateBucket implements Client. AlreadyExists and AlreadyOwnedByYou are
// treated as success, matching AwsEnv::createBucket's idempotent intent.
func (c *S3Client) CreateBucket(ctx context.Context, region string) error {
	err := c.call(ctx, "CreateBucket", func() error {
		input := &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}
		if region != "" && region != "us-east-1" {
			input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(region),
			}
		}
		_, cerr := c.client.CreateBucket(ctx, input)
		var already *s3types.BucketAlreadyOwnedByYou
		if errors.As(cerr, &already) {
			return nil
		}
		var exists *s3types.BucketAlreadyExists
		if errors.As(cerr, &exists) {
			return nil
		}
		return cerr
	})
	if err != nil {
		return withPath(err, c.bucket)
	}
	return nil
}

// Exists implements Client.
func (c *S3Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if cerrors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Close implements Client.
func (c *S3Client) Close() error { return nil }

func withPath(err error, path string) error {
	var ce *cerrors.Error
	if errors.As(err, &ce) {
		return ce.WithPath(path)
	}
	return err
}

// translateAWSError maps AWS SDK v2 errors onto cerrors kinds.
func translateAWSError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var nf *s3types.NoSuchKey
	var nb *s3types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nb) {
		return cerrors.Wrap(cerrors.KindNotFound, err, "object not found").WithComponent("objectstore").WithOperation(operation)
	}

	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return cerrors.Wrap(cerrors.KindNotFound, err, "object not found").WithComponent("objectstore").WithOperation(operation)
		case "SlowDown", "TooManyRequests", "RequestLimitExceeded":
			return cerrors.Wrap(cerrors.KindThrottled, err, "request throttled").WithComponent("objectstore").WithOperation(operation)
		case "RequestTimeout":
			return cerrors.Wrap(cerrors.KindTimedOut, err, "request timed out").WithComponent("objectstore").WithOperation(operation)
		}
	}

	return cerrors.Wrap(cerrors.KindTransient, err, "object store request failed").WithComponent("objectstore").WithOperation(operation)
}
