package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
)

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// WriteFile replaces path with the contents of r. The data goes to a sibling
// temp file first and is renamed into place, so readers never see a partial file.
func WriteFile(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, ioError("create folder", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, ioError("create temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		cleanup()
		return 0, ioError("write file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return 0, ioError("sync file", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, ioError("close file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return 0, ioError("replace file", err)
	}
	return n, nil
}

// CopyFile copies src to dst, creating dst's folder. It returns the bytes copied.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %w: %s", plmerr.ErrNotFound, plmerr.ErrIO, src)
		}
		return 0, ioError("open source", err)
	}
	defer in.Close()

	n, err := WriteFile(dst, in)
	if err != nil {
		return 0, err
	}
	if info, err := in.Stat(); err == nil {
		os.Chtimes(dst, info.ModTime(), info.ModTime())
	}
	return n, nil
}

// MoveFile moves src to dst, falling back to copy and remove across devices.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ioError("create folder", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if _, err := CopyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return ioError("remove source", err)
	}
	return nil
}

// RemoveFile deletes path. A file that is already gone is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("remove file", err)
	}
	return nil
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", plmerr.ErrIO, op, err)
}
