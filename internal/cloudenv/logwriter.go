package cloudenv

import (
	"context"
	"encoding/json"

	"github.com/rockset/rocksdb-cloud/internal/logstream"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// maxLogRecordPayloadBytes bounds a single stream record's payload,
// matching Kinesis's 1 MiB hard per-record limit; larger Append calls are
// split across multiple records in order.
const maxLogRecordPayloadBytes = 1 << 20

type logOpType string

const (
	logOpAppend logOpType = "append"
	logOpDelete logOpType = "delete"
	// logOpClose marks the file as closed by the engine and carries its
	// final size, so the tailer can reconcile its cache file against
	// records it may have missed or duplicated while reconnecting.
	logOpClose logOpType = "close"
)

// logRecordBody is the wire framing for one log-stream record, per
// spec.md §4.5: { opType, logicalPath, payload }, extended with a
// finalSize field carried only by close records.
type logRecordBody struct {
	OpType      logOpType `json:"opType"`
	LogicalPath string    `json:"logicalPath"`
	Payload     []byte    `json:"payload,omitempty"`
	FinalSize   int64     `json:"finalSize,omitempty"`
}

// LogWriter is the writable-file object CloudEnv.OpenForWrite hands back
// for a log path when local logs are disabled. Every Append call is
// framed as one or more log-stream records instead of touching local disk;
// Sync is a no-op because PutRecord already durably persists, and Close
// emits a close record carrying the total bytes written.
type LogWriter struct {
	ctx         context.Context
	stream      logstream.Client
	streamName  string
	logicalPath string
	size        int64
}

// NewLogWriter creates a LogWriter that appends records for logicalPath to
// streamName, using logicalPath itself as the partition key so all of one
// file's records land on the same partition and stay totally ordered.
func NewLogWriter(ctx context.Context, stream logstream.Client, streamName, logicalPath string) *LogWriter {
	return &LogWriter{ctx: ctx, stream: stream, streamName: streamName, logicalPath: logicalPath}
}

// Append pushes payload as one or more append records, splitting it across
// records when it exceeds maxLogRecordPayloadBytes while preserving order.
func (w *LogWriter) Append(payload []byte) error {
	if len(payload) == 0 {
		return w.putRecord(logOpAppend, nil)
	}
	for offset := 0; offset < len(payload); offset += maxLogRecordPayloadBytes {
		end := offset + maxLogRecordPayloadBytes
		if end > len(payload) {
			end = len(payload)
		}
		if err := w.putRecord(logOpAppend, payload[offset:end]); err != nil {
			return err
		}
		w.size += int64(end - offset)
	}
	return nil
}

// LogDelete pushes a delete record, indicating the engine unlinked this
// log file.
func (w *LogWriter) LogDelete() error {
	return w.putRecord(logOpDelete, nil)
}

// Sync is a no-op: each Append call already durably appended its record.
func (w *LogWriter) Sync() error { return nil }

// Close emits a close record carrying the file's final size, letting the
// tailer reconcile its cache file length instead of keeping a persistent
// handle open for the life of the tailer.
func (w *LogWriter) Close() error {
	body, err := json.Marshal(logRecordBody{OpType: logOpClose, LogicalPath: w.logicalPath, FinalSize: w.size})
	if err != nil {
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to encode log record").WithComponent("cloudenv").WithPath(w.logicalPath)
	}
	return w.stream.PutRecord(w.ctx, w.streamName, w.logicalPath, body)
}

func (w *LogWriter) putRecord(op logOpType, payload []byte) error {
	body, err := json.Marshal(logRecordBody{OpType: op, LogicalPath: w.logicalPath, Payload: payload})
	if err != nil {
		return cerrors.Wrap(cerrors.KindIOError, err, "failed to encode log record").WithComponent("cloudenv").WithPath(w.logicalPath)
	}
	return w.stream.PutRecord(w.ctx, w.streamName, w.logicalPath, body)
}
