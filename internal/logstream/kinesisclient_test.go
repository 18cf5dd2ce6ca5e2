package logstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKinesisConfigSetDefaults(t *testing.T) {
	cfg := KinesisConfig{}
	cfg.setDefaults()
	assert.Equal(t, int32(1), cfg.ShardCount)
	assert.Equal(t, 60*time.Second, cfg.WaitForActiveTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
}

func TestKinesisConfigSetDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := KinesisConfig{ShardCount: 4, WaitForActiveTimeout: 10 * time.Second, PollInterval: time.Second}
	cfg.setDefaults()
	assert.Equal(t, int32(4), cfg.ShardCount)
	assert.Equal(t, 10*time.Second, cfg.WaitForActiveTimeout)
	assert.Equal(t, time.Second, cfg.PollInterval)
}
