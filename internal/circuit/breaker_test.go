package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New("objectstore", Config{})
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("objectstore", Config{ReadyToTrip: func(c Counts) bool {
		return c.ConsecutiveFailures >= 3
	}})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return boom })
	}

	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New("objectstore", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OpenTimeout: time.Hour,
	})
	_ = b.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerHalfOpensAfterTimeoutAndClosesOnSuccess(t *testing.T) {
	b := New("objectstore", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OpenTimeout: time.Millisecond,
	})
	_ = b.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(5 * time.Millisecond)
	err := b.Execute(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := New("objectstore", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OpenTimeout: time.Millisecond,
	})
	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(5 * time.Millisecond)

	err := b.Execute(func() error { return errors.New("still broken") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerResetForcesClosed(t *testing.T) {
	b := New("objectstore", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OpenTimeout: time.Hour,
	})
	_ = b.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerNameReturnsConstructorArg(t *testing.T) {
	b := New("logstream", Config{})
	assert.Equal(t, "logstream", b.Name())
}
