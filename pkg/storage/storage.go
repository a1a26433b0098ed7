// Package storage provides the abstract filesystem facade (C3): create
// dirs, streamed write, streamed read, and metadata lookups, with a
// default backend that writes under a configured save directory.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaelbridge/lansend/pkg/protocol"
)

// WriteSink accepts streamed chunks for one file and is closed exactly
// once. Close(false) discards whatever was written so far; no partial
// file remains visible to Metadata afterwards.
type WriteSink interface {
	io.Writer
	Close(commit bool) error
}

// Facade is the storage abstraction the receiver depends on. The
// default backend below is the only implementation shipped, but the
// receiver's handlers only ever see this interface. The sender does not
// use it: it opens the files it sends directly with os.Open.
type Facade interface {
	EnsureDirs(path string) error
	OpenForWrite(fileName string) (WriteSink, string, error)
	OpenForRead(path string) (io.ReadCloser, int64, error)
	Metadata(path string) (os.FileInfo, error)
}

// FileSystem is the default Facade backend: files land under SaveDir,
// sanitised and deduplicated.
type FileSystem struct {
	SaveDir string
}

// NewFileSystem constructs a FileSystem facade rooted at saveDir.
func NewFileSystem(saveDir string) *FileSystem {
	return &FileSystem{SaveDir: saveDir}
}

func (fs *FileSystem) EnsureDirs(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return protocol.Wrap(protocol.KindStorage, "create directory "+path, err)
	}
	return nil
}

// sanitizeFileName strips path separators and rejects names that would
// resolve outside SaveDir.
func sanitizeFileName(name string) (string, error) {
	clean := strings.ReplaceAll(name, "/", "")
	clean = strings.ReplaceAll(clean, "\\", "")
	clean = strings.TrimSpace(clean)
	if clean == "" || clean == "." || clean == ".." {
		return "", protocol.New(protocol.KindInvalidRequest, "invalid file name")
	}
	return clean, nil
}

// resolvePath joins saveDir and name, then verifies the result has not
// escaped saveDir (defense in depth beyond sanitizeFileName).
func resolvePath(saveDir, name string) (string, error) {
	full := filepath.Join(saveDir, name)
	rel, err := filepath.Rel(saveDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", protocol.New(protocol.KindInvalidRequest, "resolved path escapes save directory")
	}
	return full, nil
}

// dedupe appends " (n)" before the extension until path is free.
func dedupe(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := base + " (" + itoa(n) + ")" + ext
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// OpenForWrite creates (and dedupes collisions for) the destination
// file for fileName under SaveDir, returning a sink and the final path
// actually used on disk.
func (fs *FileSystem) OpenForWrite(fileName string) (WriteSink, string, error) {
	clean, err := sanitizeFileName(fileName)
	if err != nil {
		return nil, "", err
	}
	if err := fs.EnsureDirs(fs.SaveDir); err != nil {
		return nil, "", err
	}
	path, err := resolvePath(fs.SaveDir, clean)
	if err != nil {
		return nil, "", err
	}
	path = dedupe(path)

	f, err := os.Create(path)
	if err != nil {
		return nil, "", protocol.Wrap(protocol.KindStorage, "create file "+path, err)
	}
	return &fileSink{file: f, path: path}, path, nil
}

func (fs *FileSystem) OpenForRead(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, protocol.Wrap(protocol.KindStorage, "open file "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, protocol.Wrap(protocol.KindStorage, "stat file "+path, err)
	}
	return f, info.Size(), nil
}

func (fs *FileSystem) Metadata(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindStorage, "stat file "+path, err)
	}
	return info, nil
}

// fileSink wraps *os.File and removes the partial file on a non-commit
// close, so an aborted upload never leaves anything visible to Metadata.
type fileSink struct {
	file *os.File
	path string
}

func (s *fileSink) Write(p []byte) (int, error) { return s.file.Write(p) }

func (s *fileSink) Close(commit bool) error {
	if err := s.file.Close(); err != nil {
		return protocol.Wrap(protocol.KindStorage, "close file "+s.path, err)
	}
	if !commit {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return protocol.Wrap(protocol.KindStorage, "remove partial file "+s.path, err)
		}
	}
	return nil
}
