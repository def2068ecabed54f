// Package archive holds the leaf file transforms of the pipeline: gzip
// decompression and moving files into the cleaned storage area.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Decompress gunzips path into the sibling file without its ".gz" suffix,
// removes the compressed original and returns the new path.
// A payload that is not valid gzip is a hard error and leaves no output file.
func Decompress(path string) (string, error) {
	if !strings.HasSuffix(path, ".gz") {
		return "", fmt.Errorf("archive: %s has no .gz suffix", path)
	}
	out := strings.TrimSuffix(path, ".gz")

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("archive: open: %w", err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("archive: gzip: %w", err)
	}
	defer zr.Close()

	tmp := out + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("archive: create: %w", err)
	}
	if _, err := io.Copy(f, zr); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("archive: gzip: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("archive: rename: %w", err)
	}

	in.Close()
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("archive: remove compressed: %w", err)
	}
	return out, nil
}

// Relocate moves path into dir unchanged and returns the new path.
// It falls back to copy+remove when rename crosses filesystems.
func Relocate(path, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: mkdir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err == nil {
		return dest, nil
	}
	if _, err := CopyInto(path, dir); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("archive: remove source: %w", err)
	}
	return dest, nil
}

// CopyInto copies path byte for byte into dir and returns the copy's path.
// The source is left in place.
func CopyInto(path, dir string) (string, error) {
	dest := filepath.Join(dir, filepath.Base(path))
	if err := CopyFile(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// CopyFile copies src to dst through a temporary file.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive: open: %w", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("archive: create: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("archive: copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: rename: %w", err)
	}
	return nil
}
