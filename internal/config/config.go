// Package config defines the YAML-serializable configuration surface for a
// cloud storage environment (EnvOptions in spec terms) and the AWS
// credential-resolution fallback chain used when bootstrapping it.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// BucketSpec names a single cloud bucket and where inside it this env's
// objects live.
type BucketSpec struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// Empty reports whether no bucket has been configured.
func (b BucketSpec) Empty() bool { return strings.TrimSpace(b.Bucket) == "" }

// Credentials carries the access key pair an env authenticates with. Either
// field may be left blank to fall through to the environment-variable and
// SDK-default credential chain (AccessType below tracks which source won).
type Credentials struct {
	AccessKeyID string `yaml:"access_key_id"`
	SecretKey   string `yaml:"secret_key"`
}

// AccessType enumerates how credentials are ultimately resolved: from the
// environment, an explicit key pair, or an assumed role.
type AccessType string

const (
	AccessUndefined   AccessType = "undefined"
	AccessSimple      AccessType = "simple"
	AccessEnvironment AccessType = "environment"
	AccessInstance    AccessType = "instance"
	AccessAnonymous   AccessType = "anonymous"
)

// Resolve returns the access type the given credentials resolve to, following
// the same precedence as AwsCloudAccessCredentials::GetAccessType: explicit
// fields win, then AWS_* environment variables, else undefined (SDK default
// chain).
func (c Credentials) Resolve() AccessType {
	if c.AccessKeyID != "" || c.SecretKey != "" {
		return AccessSimple
	}
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return AccessEnvironment
	}
	return AccessUndefined
}

// ResolvedKeys returns the access key id/secret to use, falling through to
// environment variables when the struct fields are blank.
func (c Credentials) ResolvedKeys() (accessKeyID, secretKey string) {
	accessKeyID = c.AccessKeyID
	if accessKeyID == "" {
		accessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	secretKey = c.SecretKey
	if secretKey == "" {
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	return accessKeyID, secretKey
}

// DefaultRegionFromEnv returns AWS_DEFAULT_REGION (or its lowercase
// variant), or "" if neither is set.
func DefaultRegionFromEnv() string {
	if r := os.Getenv("AWS_DEFAULT_REGION"); r != "" {
		return r
	}
	return os.Getenv("aws_default_region")
}

// EnvOptions is the full configuration surface for a cloud storage
// environment (spec.md's EnvConfig / §6's EnvOptions table).
type EnvOptions struct {
	Src  BucketSpec `yaml:"src"`
	Dest BucketSpec `yaml:"dest"`

	Credentials Credentials `yaml:"credentials"`

	// KeepLocalSstFiles: after upload, sorted-data temp files are retained
	// locally; reads prefer local.
	KeepLocalSstFiles bool `yaml:"keep_local_sst_files"`

	// KeepLocalLogFiles: WAL stays on local fs; the log stream is unused.
	KeepLocalLogFiles bool `yaml:"keep_local_log_files"`

	// ManifestDurablePeriodicity is the minimum interval between manifest
	// uploads; zero disables manifest uploads entirely.
	ManifestDurablePeriodicity time.Duration `yaml:"manifest_durable_periodicity"`

	// PurgerPeriodicity is the sweep interval for the external purger.
	PurgerPeriodicity time.Duration `yaml:"purger_periodicity"`

	// DeletionDelay is how long a deleted cloud object's removal is
	// deferred to tolerate in-flight readers.
	DeletionDelay time.Duration `yaml:"deletion_delay"`

	// ConnectTimeout/RequestTimeout bound every object-store/stream call.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// EnableOptimizedUpload is loaded from YAML but no component reads it;
	// the CargoShip-backed upload path in internal/objectstore is switched
	// on by objectstore.S3Config.OptimizedUploadThreshold instead.
	EnableOptimizedUpload bool `yaml:"enable_optimized_upload"`

	// UseMmapReads mirrors the storage engine flag that spec.md §7 says
	// must fail validation when combined with !KeepLocalSstFiles.
	UseMmapReads bool `yaml:"use_mmap_reads"`

	// CacheReadRetryInterval/CacheReadRetryTimeout bound the read-path
	// retry loop used when a local cache file (log tailer output) is
	// momentarily missing, grounded on CloudLogControllerImpl::Retry's
	// 100ms/30s constants.
	CacheReadRetryInterval time.Duration `yaml:"cache_read_retry_interval"`
	CacheReadRetryTimeout  time.Duration `yaml:"cache_read_retry_timeout"`
}

// DefaultEnvOptions returns sensible defaults, matching the magnitudes
// spec.md names (600s request timeout, several-minute deletion delay, the
// tailer's 100ms/30s retry constants).
func DefaultEnvOptions() EnvOptions {
	return EnvOptions{
		DeletionDelay:          5 * time.Minute,
		ConnectTimeout:         30 * time.Second,
		RequestTimeout:         600 * time.Second,
		CacheReadRetryInterval: 100 * time.Millisecond,
		CacheReadRetryTimeout:  30 * time.Second,
	}
}

// Trim trims surrounding whitespace from both prefixes, as spec.md §4.1
// requires at env construction time.
func (o *EnvOptions) Trim() {
	o.Src.Prefix = strings.TrimSpace(o.Src.Prefix)
	o.Dest.Prefix = strings.TrimSpace(o.Dest.Prefix)
	o.Src.Bucket = strings.TrimSpace(o.Src.Bucket)
	o.Dest.Bucket = strings.TrimSpace(o.Dest.Bucket)
}

// HasSrc/HasDest/TwoUniqueBuckets implement spec.md §4.9 step 1.
func (o EnvOptions) HasSrc() bool  { return !o.Src.Empty() }
func (o EnvOptions) HasDest() bool { return !o.Dest.Empty() }
func (o EnvOptions) TwoUniqueBuckets() bool {
	return o.HasSrc() && o.HasDest() && o.Src.Bucket != o.Dest.Bucket
}

// BackfillRegions fills empty bucket regions from AWS_DEFAULT_REGION (or
// fallback) before the same-region invariant is checked, grounded on
// AwsEnv::PrepareOptions.
func (o *EnvOptions) BackfillRegions(fallback string) {
	region := DefaultRegionFromEnv()
	if region == "" {
		region = fallback
	}
	if o.Src.Region == "" {
		o.Src.Region = region
	}
	if o.Dest.Region == "" {
		o.Dest.Region = region
	}
}

// Validate enforces spec.md's construction and write-time invariants. It is
// called once at construction and returns an InvalidArgument cerrors.Error
// on failure.
func (o EnvOptions) Validate() error {
	if !o.HasSrc() && !o.HasDest() {
		return invalidArg("at least one of src or dest bucket must be configured")
	}
	if o.TwoUniqueBuckets() && o.Src.Region != o.Dest.Region {
		return invalidArg("two-unique-buckets mode requires src and dest to be in the same region")
	}
	if o.ManifestDurablePeriodicity > 0 && !o.KeepLocalLogFiles {
		return invalidArg("manifest_durable_periodicity > 0 requires keep_local_log_files = true")
	}
	if o.UseMmapReads && !o.KeepLocalSstFiles {
		return invalidArg("use_mmap_reads requires keep_local_sst_files = true")
	}
	return nil
}

func invalidArg(msg string) error {
	return cerrors.New(cerrors.KindInvalidArgument, msg).WithComponent("config")
}

// Load reads an EnvOptions from YAML, starting from DefaultEnvOptions so
// unset fields keep their defaults.
func Load(data []byte) (EnvOptions, error) {
	opts := DefaultEnvOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return EnvOptions{}, cerrors.Wrap(cerrors.KindInvalidArgument, err, "failed to parse env options yaml").WithComponent("config")
	}
	return opts, nil
}

// Marshal serializes an EnvOptions back to YAML, e.g. for diagnostics.
func Marshal(opts EnvOptions) ([]byte, error) {
	return yaml.Marshal(opts)
}
