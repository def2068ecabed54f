package acquire

import (
	"fmt"
	"os"
	"path/filepath"
)

// Canonical output file names in the cleaned area.
const (
	CrimesFile   = "crimes_france_2.csv"
	DevicesFile  = "shodan_camera_fr.csv"
	OverpassFile = "osm_cleaned.csv"
	GeometryFile = "french_communes.geojson"

	communesRaw = "v_commune_2024.csv"
	crimesRaw   = "crimes_france_2.csv.gz"
	snapshot    = "shodan_camera_fr.json"
)

// Workspace is the on-disk layout under one data root.
type Workspace struct {
	Root string
}

func (w Workspace) RawDir() string     { return filepath.Join(w.Root, "raw") }
func (w Workspace) CleanedDir() string { return filepath.Join(w.Root, "cleaned") }
func (w Workspace) BackupDir() string  { return filepath.Join(w.Root, "backup") }

// SnapshotPath is the device-search fallback file.
func (w Workspace) SnapshotPath() string {
	return filepath.Join(w.BackupDir(), "raw", snapshot)
}

// Cleaned returns the path of a canonical output.
func (w Workspace) Cleaned(name string) string { return filepath.Join(w.CleanedDir(), name) }

// Raw returns the download path of a resource.
func (w Workspace) Raw(name string) string { return filepath.Join(w.RawDir(), name) }

// Prepare creates the directory tree and empties raw and cleaned.
// Backups are never touched.
func (w Workspace) Prepare() error {
	for _, dir := range []string{w.RawDir(), w.CleanedDir(), w.BackupDir(), filepath.Dir(w.SnapshotPath())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("acquire: workspace: %w", err)
		}
	}
	for _, dir := range []string{w.RawDir(), w.CleanedDir()} {
		if err := removeFiles(dir); err != nil {
			return err
		}
	}
	return nil
}

// CleanupRaw removes every regular file from raw.
func (w Workspace) CleanupRaw() error {
	return removeFiles(w.RawDir())
}

func removeFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("acquire: workspace: list %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("acquire: workspace: %w", err)
		}
	}
	return nil
}
