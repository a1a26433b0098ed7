package sender

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMetadataForTextItem(t *testing.T) {
	text := "hello lansend"
	meta, err := buildMetadata(Item{Text: &text})
	require.NoError(t, err)

	assert.Equal(t, uint64(len(text)), meta.Size)
	assert.Equal(t, "text/plain", meta.FileType)
	require.NotNil(t, meta.SHA256)
	assert.Len(t, *meta.SHA256, 64)
}

func TestBuildMetadataForFileItem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, []byte("fake-png-bytes"), 0o644))

	meta, err := buildMetadata(Item{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "photo.png", meta.FileName)
	assert.Equal(t, "image", meta.FileType)
	assert.Equal(t, uint64(len("fake-png-bytes")), meta.Size)
	require.NotNil(t, meta.SHA256)
}

func TestDetectFileTypeByExtension(t *testing.T) {
	assert.Equal(t, "video", detectFileType("clip.mp4"))
	assert.Equal(t, "archive", detectFileType("bundle.zip"))
	assert.Equal(t, "unknown", detectFileType("noext"))
}

func TestResolvedOpenReturnsTextReaderForTextItem(t *testing.T) {
	text := "snippet"
	res := resolved{item: Item{Text: &text}}

	r, err := res.open()
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "snippet", string(data))
}

func TestResolveItemsFailsOnMissingFile(t *testing.T) {
	_, err := resolveItems([]Item{{Path: "/no/such/file-ever"}})
	assert.Error(t, err)
}
