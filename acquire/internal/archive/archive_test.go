package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeGzip(t *testing.T, path string, payload []byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDecompress(t *testing.T) {
	// WHAT: Decompress writes the sibling file and removes the archive.
	// WHY: The normalizer reads the plain CSV next to the downloaded archive.
	dir := t.TempDir()
	src := filepath.Join(dir, "crimes.csv.gz")
	payload := []byte("CODGEO_2024;annee\n01001;16\n")
	writeGzip(t, src, payload)

	out, err := Decompress(src)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if out != filepath.Join(dir, "crimes.csv") {
		t.Errorf("path: got %q", out)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload: got %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("compressed original should be removed")
	}
}

func TestDecompress_InvalidPayload(t *testing.T) {
	// WHAT: A non-gzip payload is a hard error with no output file.
	// WHY: A corrupt archive must not leave a truncated CSV behind.
	dir := t.TempDir()
	src := filepath.Join(dir, "crimes.csv.gz")
	if err := os.WriteFile(src, []byte("not gzip at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Decompress(src); err == nil {
		t.Fatal("expected error for invalid gzip")
	}
	if _, err := os.Stat(filepath.Join(dir, "crimes.csv")); !os.IsNotExist(err) {
		t.Error("no output file should exist")
	}
}

func TestDecompress_RequiresGzSuffix(t *testing.T) {
	// WHAT: Only a ".gz" suffix is stripped; other extensions are rejected and left alone.
	// WHY: Stripping any extension would turn data.csv into data.
	for _, name := range []string{"plain", "data.csv", "data.zip"} {
		t.Run(name, func(t *testing.T) {
			src := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Decompress(src); err == nil {
				t.Fatal("expected error without .gz suffix")
			}
			if _, err := os.Stat(src); err != nil {
				t.Errorf("input touched: %v", err)
			}
		})
	}
}

func TestRelocate_ByteIdentical(t *testing.T) {
	// WHAT: Relocate moves the geometry file without touching its bytes.
	// WHY: The dashboard reads the GeoJSON exactly as published.
	root := t.TempDir()
	src := filepath.Join(root, "raw", "french_communes.geojson")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	payload := []byte(`{"type":"FeatureCollection","features":[]}`)
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Relocate(src, filepath.Join(root, "cleaned"))
	if err != nil {
		t.Fatalf("relocate: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Errorf("content changed: %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after relocate")
	}
}

func TestCopyInto_KeepsSource(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "backup.geojson")
	if err := os.WriteFile(src, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CopyInto(src, filepath.Join(root, "cleaned")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source should remain after copy")
	}
}
