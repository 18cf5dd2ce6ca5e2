package localfs

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeCreateThenOpenRoundTrips(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	w, err := f.Create(ctx, "/db/manifest")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := f.Open(ctx, "/db/manifest")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFakeOpenAppendAccumulates(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	for _, chunk := range []string{"a", "b", "c"} {
		w, err := f.OpenAppend(ctx, "/db/log")
		require.NoError(t, err)
		_, err = w.Write([]byte(chunk))
		require.NoError(t, err)
	}

	r, err := f.Open(ctx, "/db/log")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestFakeReadDirListsImmediateChildrenOnly(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	for _, p := range []string{"/db/a.sst", "/db/b.sst", "/db/sub/c.sst"} {
		w, err := f.Create(ctx, p)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	entries, err := f.ReadDir(ctx, "/db")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["a.sst"])
	assert.True(t, names["b.sst"])
	assert.True(t, names["sub"])
}

func TestFakeTruncateShrinksFile(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	w, err := f.Create(ctx, "/db/log")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, f.Truncate(ctx, "/db/log", 5))

	r, err := f.Open(ctx, "/db/log")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFakeTruncateOfMissingIsNotAnError(t *testing.T) {
	f := NewFake()
	assert.NoError(t, f.Truncate(context.Background(), "/nope", 0))
}

func TestFakeRenameMovesEntry(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	w, err := f.Create(ctx, "/old")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, f.Rename(ctx, "/old", "/new"))

	exists, _ := f.Exists(ctx, "/old")
	assert.False(t, exists)
	exists, _ = f.Exists(ctx, "/new")
	assert.True(t, exists)
}
