package cloudenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathMapperSrcKeyJoinsPrefixAndBasename(t *testing.T) {
	m := NewPathMapper("srcbucket", "db", "destbucket", "backup")
	assert.Equal(t, "db/000123.sst", m.SrcKey("000123.sst"))
	assert.Equal(t, "db/000123.sst", m.SrcKey("/local/db/000123.sst"))
}

func TestPathMapperDestKeyJoinsPrefixAndBasename(t *testing.T) {
	m := NewPathMapper("srcbucket", "db", "destbucket", "backup")
	assert.Equal(t, "backup/000123.sst", m.DestKey("000123.sst"))
}

func TestPathMapperEmptyPrefixOmitsSlash(t *testing.T) {
	m := NewPathMapper("srcbucket", "", "destbucket", "")
	assert.Equal(t, "000123.sst", m.SrcKey("000123.sst"))
	assert.Equal(t, "000123.sst", m.DestKey("000123.sst"))
}

func TestPathMapperHasSrcHasDest(t *testing.T) {
	m := NewPathMapper("srcbucket", "db", "", "")
	assert.True(t, m.HasSrc())
	assert.False(t, m.HasDest())
}

func TestPathMapperSrcKeyPanicsWhenUnconfigured(t *testing.T) {
	m := NewPathMapper("", "", "destbucket", "backup")
	assert.Panics(t, func() { m.SrcKey("000123.sst") })
}

func TestPathMapperDestKeyPanicsWhenUnconfigured(t *testing.T) {
	m := NewPathMapper("srcbucket", "db", "", "")
	assert.Panics(t, func() { m.DestKey("000123.sst") })
}

func TestPathMapperDirKeysHaveTrailingSlash(t *testing.T) {
	m := NewPathMapper("srcbucket", "db", "destbucket", "backup")
	assert.Equal(t, "db/subdir/", m.SrcDirKey("subdir"))
	assert.Equal(t, "backup/subdir/", m.DestDirKey("subdir"))
}
