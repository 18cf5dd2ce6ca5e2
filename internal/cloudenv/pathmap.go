package cloudenv

import "fmt"

// PathMapper translates between local logical paths and bucket object
// keys using a per-env source prefix and destination prefix. Both
// prefixes are trimmed of surrounding whitespace at construction time by
// internal/config.EnvOptions.Trim.
type PathMapper struct {
	srcBucket, srcPrefix   string
	destBucket, destPrefix string
}

// NewPathMapper builds a PathMapper from the four bucket/prefix values. An
// empty bucket name means that side is unconfigured.
func NewPathMapper(srcBucket, srcPrefix, destBucket, destPrefix string) *PathMapper {
	return &PathMapper{srcBucket: srcBucket, srcPrefix: srcPrefix, destBucket: destBucket, destPrefix: destPrefix}
}

// HasSrc/HasDest report whether the corresponding bucket is configured.
func (m *PathMapper) HasSrc() bool  { return m.srcBucket != "" }
func (m *PathMapper) HasDest() bool { return m.destBucket != "" }

// SrcBucket/DestBucket return the configured bucket names.
func (m *PathMapper) SrcBucket() string  { return m.srcBucket }
func (m *PathMapper) DestBucket() string { return m.destBucket }

// SrcKey maps a logical path to its object key in the source bucket. It
// panics if no source bucket is configured — callers must check HasSrc
// first, matching spec.md §4.1's "mapper panics ... callers must check".
func (m *PathMapper) SrcKey(path string) string {
	if !m.HasSrc() {
		panic("cloudenv: SrcKey called with no source bucket configured")
	}
	return joinPrefix(m.srcPrefix, basename(path))
}

// DestKey maps a logical path to its object key in the destination bucket.
// Panics if no destination bucket is configured.
func (m *PathMapper) DestKey(path string) string {
	if !m.HasDest() {
		panic("cloudenv: DestKey called with no destination bucket configured")
	}
	return joinPrefix(m.destPrefix, basename(path))
}

// SrcDirKey/DestDirKey map a logical directory path to its zero-byte
// marker object key, trailing slash included per spec.md §6's on-wire
// layout ("<prefix>/<dirname>/").
func (m *PathMapper) SrcDirKey(path string) string {
	return m.SrcKey(path) + "/"
}

func (m *PathMapper) DestDirKey(path string) string {
	return m.DestKey(path) + "/"
}

func joinPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", prefix, name)
}
