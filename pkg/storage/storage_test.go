package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenForWriteThenRead(t *testing.T) {
	fs := NewFileSystem(t.TempDir())

	sink, path, err := fs.OpenForWrite("hello.txt")
	require.NoError(t, err)

	_, err = sink.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, sink.Close(true))

	r, size, err := fs.OpenForRead(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(11), size)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestCloseWithoutCommitRemovesPartialFile(t *testing.T) {
	fs := NewFileSystem(t.TempDir())

	sink, path, err := fs.OpenForWrite("partial.bin")
	require.NoError(t, err)
	_, err = sink.Write([]byte("not finished"))
	require.NoError(t, err)
	require.NoError(t, sink.Close(false))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenForWriteDedupesCollidingNames(t *testing.T) {
	fs := NewFileSystem(t.TempDir())

	sink1, path1, err := fs.OpenForWrite("dup.txt")
	require.NoError(t, err)
	require.NoError(t, sink1.Close(true))

	sink2, path2, err := fs.OpenForWrite("dup.txt")
	require.NoError(t, err)
	require.NoError(t, sink2.Close(true))

	assert.NotEqual(t, path1, path2)
	assert.Equal(t, "dup (1).txt", filepath.Base(path2))
}

func TestOpenForWriteRejectsEscapingNames(t *testing.T) {
	fs := NewFileSystem(t.TempDir())

	_, _, err := fs.OpenForWrite("../../escape.txt")
	require.NoError(t, err, "path separators are stripped, not rejected, by sanitizeFileName")

	_, _, err = fs.OpenForWrite("..")
	assert.Error(t, err)
}

func TestMetadataReflectsWrittenFile(t *testing.T) {
	fs := NewFileSystem(t.TempDir())

	sink, path, err := fs.OpenForWrite("meta.txt")
	require.NoError(t, err)
	_, err = sink.Write([]byte("1234567890"))
	require.NoError(t, err)
	require.NoError(t, sink.Close(true))

	info, err := fs.Metadata(path)
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size())
}
