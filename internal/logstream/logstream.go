// Package logstream defines the LogStreamClient contract a cloud storage
// environment uses for the append-only WAL stream backend, plus a Kinesis
// adapter and a reconnect state machine for the long-lived tailing
// subscription LogTailer keeps open.
package logstream

import "context"

// Record is one WAL record read back from the stream, carrying its shard
// sequence number for checkpointing by LogTailer.
type Record struct {
	SequenceNumber string
	Data           []byte
}

// Client is the contract cloudenv depends on for the log-stream backend.
type Client interface {
	// EnsureStream creates the stream if it doesn't already exist and
	// waits for it to become active. Idempotent.
	EnsureStream(ctx context.Context, name string) error

	// DeleteStream tears a stream down; used when a log file's owning
	// dbid is being torn down entirely.
	DeleteStream(ctx context.Context, name string) error

	// PutRecord appends data to the stream, partitioned by partitionKey
	// so records for the same log file land on the same shard and so
	// GetRecords observes them in append order.
	PutRecord(ctx context.Context, stream, partitionKey string, data []byte) error

	// Partitions lists the stream's partition identifiers, letting
	// LogTailer discover every partition to tail rather than only the
	// one a single logical path's key would hash to.
	Partitions(ctx context.Context, stream string) ([]string, error)

	// Subscribe opens a tailing subscription starting at the oldest
	// retained record (or from TRIM_HORIZON-equivalent) and streams
	// records to the returned channel until ctx is canceled or Close is
	// called on the returned Subscription. partitionKey is either a
	// literal partition identifier from Partitions (the tailer's usage)
	// or an arbitrary key that gets hashed onto a partition.
	Subscribe(ctx context.Context, stream, partitionKey string) (Subscription, error)

	// Close releases client resources.
	Close() error
}

// Subscription is a single open tailing subscription to one stream
// partition.
type Subscription interface {
	// Records yields records in append order. The channel is closed when
	// the subscription ends, whether due to context cancellation, Close,
	// or an unrecoverable stream error (check Err after the channel
	// closes).
	Records() <-chan Record

	// Err returns the error that ended the subscription, if any.
	Err() error

	// Close ends the subscription.
	Close() error
}
