// Package table writes canonical CSV tables to the cleaned storage area.
//
// Full tables are written atomically (write .tmp then rename) so a consumer
// never sees a partial file. Append mode exists for the paginated device
// search, which grows its table page by page.
package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// Write replaces path with header followed by rows.
// On any error the previous content of path is left untouched.
func Write(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("table: mkdir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("table: create tmp: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("table: write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("table: write rows: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("table: close tmp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("table: rename: %w", err)
	}
	return nil
}

// Append adds rows at the end of path. The header is written first when the
// file does not exist yet or is empty.
func Append(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("table: mkdir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("table: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("table: stat: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("table: write header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("table: append rows: %w", err)
	}
	return nil
}

// Null renders an optional string cell. Missing values become empty cells.
func Null(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
