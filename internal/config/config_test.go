package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

func TestValidateRequiresAtLeastOneBucket(t *testing.T) {
	opts := DefaultEnvOptions()
	err := opts.Validate()
	require.Error(t, err)
	assert.Equal(t, cerrors.KindInvalidArgument, cerrors.KindOf(err))
}

func TestValidateTwoUniqueBucketsRequireSameRegion(t *testing.T) {
	opts := DefaultEnvOptions()
	opts.Src = BucketSpec{Bucket: "src-bucket", Region: "us-east-1"}
	opts.Dest = BucketSpec{Bucket: "dest-bucket", Region: "us-west-2"}

	err := opts.Validate()
	require.Error(t, err)
}

func TestValidateSameRegionTwoBucketsOK(t *testing.T) {
	opts := DefaultEnvOptions()
	opts.Src = BucketSpec{Bucket: "src-bucket", Region: "us-east-1"}
	opts.Dest = BucketSpec{Bucket: "dest-bucket", Region: "us-east-1"}

	assert.NoError(t, opts.Validate())
}

func TestValidateManifestPeriodicityRequiresLocalLogFiles(t *testing.T) {
	opts := DefaultEnvOptions()
	opts.Dest = BucketSpec{Bucket: "dest-bucket", Region: "us-east-1"}
	opts.ManifestDurablePeriodicity = time.Minute
	opts.KeepLocalLogFiles = false

	err := opts.Validate()
	require.Error(t, err)
}

func TestValidateMmapReadsRequiresLocalSstFiles(t *testing.T) {
	opts := DefaultEnvOptions()
	opts.Dest = BucketSpec{Bucket: "dest-bucket", Region: "us-east-1"}
	opts.UseMmapReads = true
	opts.KeepLocalSstFiles = false

	err := opts.Validate()
	require.Error(t, err)
}

func TestCredentialsResolveExplicit(t *testing.T) {
	c := Credentials{AccessKeyID: "AKIA", SecretKey: "secret"}
	assert.Equal(t, AccessSimple, c.Resolve())
}

func TestCredentialsResolveEnvironmentFallback(t *testing.T) {
	os.Setenv("AWS_ACCESS_KEY_ID", "envkey")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")
	defer os.Unsetenv("AWS_ACCESS_KEY_ID")
	defer os.Unsetenv("AWS_SECRET_ACCESS_KEY")

	c := Credentials{}
	assert.Equal(t, AccessEnvironment, c.Resolve())

	id, secret := c.ResolvedKeys()
	assert.Equal(t, "envkey", id)
	assert.Equal(t, "envsecret", secret)
}

func TestCredentialsResolveUndefinedFallsThroughToSdkChain(t *testing.T) {
	os.Unsetenv("AWS_ACCESS_KEY_ID")
	os.Unsetenv("AWS_SECRET_ACCESS_KEY")

	c := Credentials{}
	assert.Equal(t, AccessUndefined, c.Resolve())
}

func TestBackfillRegionsPrefersEnvThenFallback(t *testing.T) {
	os.Unsetenv("AWS_DEFAULT_REGION")
	os.Unsetenv("aws_default_region")

	opts := DefaultEnvOptions()
	opts.BackfillRegions("us-east-2")
	assert.Equal(t, "us-east-2", opts.Src.Region)
	assert.Equal(t, "us-east-2", opts.Dest.Region)

	os.Setenv("AWS_DEFAULT_REGION", "eu-west-1")
	defer os.Unsetenv("AWS_DEFAULT_REGION")

	opts2 := DefaultEnvOptions()
	opts2.BackfillRegions("us-east-2")
	assert.Equal(t, "eu-west-1", opts2.Src.Region)
}

func TestTrimRemovesWhitespaceFromBucketsAndPrefixes(t *testing.T) {
	opts := EnvOptions{
		Src:  BucketSpec{Bucket: " src-bucket ", Prefix: " pfx/ "},
		Dest: BucketSpec{Bucket: " dest-bucket ", Prefix: " other/ "},
	}
	opts.Trim()
	assert.Equal(t, "src-bucket", opts.Src.Bucket)
	assert.Equal(t, "pfx/", opts.Src.Prefix)
	assert.Equal(t, "dest-bucket", opts.Dest.Bucket)
}

func TestLoadParsesYamlOverDefaults(t *testing.T) {
	yamlDoc := []byte(`
dest:
  bucket: dest-bucket
  prefix: db/
  region: us-east-1
keep_local_sst_files: true
`)
	opts, err := Load(yamlDoc)
	require.NoError(t, err)
	assert.Equal(t, "dest-bucket", opts.Dest.Bucket)
	assert.True(t, opts.KeepLocalSstFiles)
	// defaults not overwritten by the partial document
	assert.Equal(t, 30*time.Second, opts.ConnectTimeout)
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	_, err := Load([]byte("not: [valid"))
	require.Error(t, err)
	assert.Equal(t, cerrors.KindInvalidArgument, cerrors.KindOf(err))
}

func TestMarshalRoundTrips(t *testing.T) {
	opts := DefaultEnvOptions()
	opts.Dest = BucketSpec{Bucket: "dest-bucket", Region: "us-east-1"}

	data, err := Marshal(opts)
	require.NoError(t, err)

	reloaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, opts.Dest.Bucket, reloaded.Dest.Bucket)
}
