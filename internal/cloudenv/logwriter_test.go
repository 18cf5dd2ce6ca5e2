package cloudenv

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockset/rocksdb-cloud/internal/logstream"
)

func TestLogWriterAppendPushesOneRecord(t *testing.T) {
	stream := logstream.NewFake()
	ctx := context.Background()
	require.NoError(t, stream.EnsureStream(ctx, "wal"))

	w := NewLogWriter(ctx, stream, "wal", "000123.log")
	require.NoError(t, w.Append([]byte("hello")))

	sub, err := stream.Subscribe(ctx, "wal", "000123.log")
	require.NoError(t, err)
	rec := <-sub.Records()

	var body logRecordBody
	require.NoError(t, json.Unmarshal(rec.Data, &body))
	assert.Equal(t, logOpAppend, body.OpType)
	assert.Equal(t, "000123.log", body.LogicalPath)
	assert.Equal(t, "hello", string(body.Payload))
}

func TestLogWriterLogDeletePushesDeleteRecord(t *testing.T) {
	stream := logstream.NewFake()
	ctx := context.Background()
	require.NoError(t, stream.EnsureStream(ctx, "wal"))

	w := NewLogWriter(ctx, stream, "wal", "000123.log")
	require.NoError(t, w.LogDelete())

	sub, err := stream.Subscribe(ctx, "wal", "000123.log")
	require.NoError(t, err)
	rec := <-sub.Records()

	var body logRecordBody
	require.NoError(t, json.Unmarshal(rec.Data, &body))
	assert.Equal(t, logOpDelete, body.OpType)
	assert.Empty(t, body.Payload)
}

func TestLogWriterSplitsOversizedAppendPreservingOrder(t *testing.T) {
	stream := logstream.NewFake()
	ctx := context.Background()
	require.NoError(t, stream.EnsureStream(ctx, "wal"))

	w := NewLogWriter(ctx, stream, "wal", "000123.log")
	big := strings.Repeat("a", maxLogRecordPayloadBytes) + strings.Repeat("b", 10)
	require.NoError(t, w.Append([]byte(big)))

	sub, err := stream.Subscribe(ctx, "wal", "000123.log")
	require.NoError(t, err)

	var first, second logRecordBody
	require.NoError(t, json.Unmarshal((<-sub.Records()).Data, &first))
	require.NoError(t, json.Unmarshal((<-sub.Records()).Data, &second))

	assert.Len(t, first.Payload, maxLogRecordPayloadBytes)
	assert.Equal(t, strings.Repeat("b", 10), string(second.Payload))
}

func TestLogWriterSyncIsNoop(t *testing.T) {
	w := NewLogWriter(context.Background(), logstream.NewFake(), "wal", "x.log")
	assert.NoError(t, w.Sync())
}

func TestLogWriterClosePushesCloseRecordWithFinalSize(t *testing.T) {
	stream := logstream.NewFake()
	ctx := context.Background()
	require.NoError(t, stream.EnsureStream(ctx, "wal"))

	w := NewLogWriter(ctx, stream, "wal", "000123.log")
	require.NoError(t, w.Append([]byte("hello")))
	require.NoError(t, w.Close())

	sub, err := stream.Subscribe(ctx, "wal", "000123.log")
	require.NoError(t, err)
	<-sub.Records() // the append record

	var body logRecordBody
	require.NoError(t, json.Unmarshal((<-sub.Records()).Data, &body))
	assert.Equal(t, logOpClose, body.OpType)
	assert.EqualValues(t, 5, body.FinalSize)
}
