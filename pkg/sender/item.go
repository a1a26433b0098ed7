package sender

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaelbridge/lansend/pkg/model"
)

// maxHashableSize bounds how large a file can be before its SHA-256 is
// skipped rather than read twice (spec §9 non-goal: no resumable
// checksums, but small files still get one for free).
const maxHashableSize = 50 * 1024 * 1024

// Item is one unit the sender offers: either a local file or an
// inline text snippet, which the protocol treats as a synthetic
// "text/plain" file (spec §4.6).
type Item struct {
	Path string
	Text *string
}

// resolved pairs an Item with the FileMetadata it was registered
// under and how to open it for reading.
type resolved struct {
	item Item
	meta model.FileMetadata
}

func resolveItems(items []Item) ([]resolved, error) {
	out := make([]resolved, 0, len(items))
	for _, it := range items {
		meta, err := buildMetadata(it)
		if err != nil {
			return nil, fmt.Errorf("resolve item %q: %w", displayName(it), err)
		}
		out = append(out, resolved{item: it, meta: meta})
	}
	return out, nil
}

func displayName(it Item) string {
	if it.Text != nil {
		return "text item"
	}
	return it.Path
}

func buildMetadata(it Item) (model.FileMetadata, error) {
	id, err := newFileID()
	if err != nil {
		return model.FileMetadata{}, err
	}

	if it.Text != nil {
		sum := sha256.Sum256([]byte(*it.Text))
		hash := hex.EncodeToString(sum[:])
		return model.FileMetadata{
			ID:       id,
			FileName: fmt.Sprintf("%s.txt", id),
			Size:     uint64(len(*it.Text)),
			FileType: "text/plain",
			SHA256:   &hash,
		}, nil
	}

	info, err := os.Stat(it.Path)
	if err != nil {
		return model.FileMetadata{}, err
	}

	meta := model.FileMetadata{
		ID:       id,
		FileName: filepath.Base(it.Path),
		Size:     uint64(info.Size()),
		FileType: detectFileType(it.Path),
	}

	if info.Size() < maxHashableSize {
		if hash, err := hashFile(it.Path); err == nil {
			meta.SHA256 = &hash
		}
	}

	return meta, nil
}

func newFileID() (model.FileID, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return model.FileID(hex.EncodeToString(buf)), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func detectFileType(path string) string {
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
		return "image"
	case ".mp4", ".mov", ".avi", ".mkv", ".webm":
		return "video"
	case ".mp3", ".wav", ".ogg", ".flac", ".aac":
		return "audio"
	case ".pdf":
		return "pdf"
	case ".txt", ".md", ".rtf":
		return "text"
	case ".zip", ".tar", ".gz", ".rar", ".7z":
		return "archive"
	case ".apk":
		return "app"
	default:
		return "unknown"
	}
}

// open returns a reader for the item's bytes: the file on disk, or the
// text snippet wrapped in a reader.
func (res resolved) open() (io.ReadCloser, error) {
	if res.item.Text != nil {
		return io.NopCloser(strings.NewReader(*res.item.Text)), nil
	}
	return os.Open(res.item.Path)
}
