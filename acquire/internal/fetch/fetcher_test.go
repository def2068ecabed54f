package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// noopValidator allows all URLs (httptest listens on loopback).
func noopValidator(_ string) error { return nil }

type env struct {
	raw    string
	backup string
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	e := env{raw: filepath.Join(root, "raw"), backup: filepath.Join(root, "backup")}
	for _, d := range []string{e.raw, e.backup} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func (e env) fetcher() *Fetcher {
	return New(Config{BackupDir: e.backup, ChunkSize: 4, URLValidator: noopValidator}, nil)
}

func TestFetch_Primary(t *testing.T) {
	// WHAT: A 2xx probe streams the primary URL to the destination.
	// WHY: Nominal path for every downloaded resource.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("COM,NCCENR\n01001,L'Abergement-Clémenciat\n"))
	}))
	defer srv.Close()

	e := newEnv(t)
	f := e.fetcher()
	var got Outcome
	f.OnOutcome(func(o Outcome) { got = o })

	dest := filepath.Join(e.raw, "v_commune_2024.csv")
	path, err := f.Fetch(context.Background(), Resource{URL: srv.URL, Dest: dest})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != dest {
		t.Errorf("path: got %q, want %q", path, dest)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "Clémenciat") {
		t.Errorf("body not streamed: %q", data)
	}
	if got.Source != SourcePrimary {
		t.Errorf("outcome source: got %q", got.Source)
	}
}

func TestFetch_AlternateOnProbeFailure(t *testing.T) {
	// WHAT: A non-2xx probe switches the download to the alternate URL.
	// WHY: data.gouv static links rot; the stable dataset redirect is the alternate.
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer primary.Close()
	alternate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("alternate body"))
	}))
	defer alternate.Close()

	e := newEnv(t)
	f := e.fetcher()
	var got Outcome
	f.OnOutcome(func(o Outcome) { got = o })

	dest := filepath.Join(e.raw, "french_communes.geojson")
	path, err := f.Fetch(context.Background(), Resource{URL: primary.URL, AlternateURL: alternate.URL, Dest: dest})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "alternate body" {
		t.Errorf("body: got %q", data)
	}
	if got.Source != SourceAlternate {
		t.Errorf("source: got %q", got.Source)
	}
}

func TestFetch_NoAlternateUsesBackupWithoutDownload(t *testing.T) {
	// WHAT: Non-2xx probe, no alternate, backup present → backup path, no GET issued.
	// WHY: A missing alternate must fail closed, never download from an empty URL.
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := newEnv(t)
	backup := filepath.Join(e.backup, "v_commune_2024.csv")
	if err := os.WriteFile(backup, []byte("COM,NCCENR\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := e.fetcher()
	var got Outcome
	f.OnOutcome(func(o Outcome) { got = o })

	var validated []string
	f.config.URLValidator = func(u string) error {
		validated = append(validated, u)
		return nil
	}

	path, err := f.Fetch(context.Background(), Resource{URL: srv.URL, Dest: filepath.Join(e.raw, "v_commune_2024.csv")})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != backup {
		t.Errorf("path: got %q, want backup %q", path, backup)
	}
	if gets.Load() != 0 {
		t.Errorf("GET requests: got %d, want 0", gets.Load())
	}
	for _, u := range validated {
		if u == "" {
			t.Error("an empty URL reached the request path")
		}
	}
	if got.Source != SourceBackup || got.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("outcome: %+v", got)
	}
}

func TestFetch_NoBackup(t *testing.T) {
	// WHAT: Network failure without backup returns ErrNoBackup.
	// WHY: The orchestrator marks the resource failed and keeps going.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newEnv(t)
	_, err := e.fetcher().Fetch(context.Background(), Resource{URL: srv.URL, Dest: filepath.Join(e.raw, "x.csv")})
	if !errors.Is(err, ErrNoBackup) {
		t.Fatalf("expected ErrNoBackup, got %v", err)
	}
}

func TestFetch_ConnectionRefusedUsesBackup(t *testing.T) {
	// WHAT: A transport error on the probe goes straight to the backup.
	// WHY: Offline runs must still produce canonical files.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	e := newEnv(t)
	backup := filepath.Join(e.backup, "geo.geojson")
	os.WriteFile(backup, []byte("{}"), 0o644)

	path, err := e.fetcher().Fetch(context.Background(), Resource{URL: url, Dest: filepath.Join(e.raw, "geo.geojson")})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != backup {
		t.Errorf("path: got %q", path)
	}
}

func TestFetch_DownloadErrorRemovesPartial(t *testing.T) {
	// WHAT: A failing GET after a good probe removes the destination and uses backup.
	// WHY: No partial file may be left in raw storage.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newEnv(t)
	dest := filepath.Join(e.raw, "data.csv")
	os.WriteFile(dest, []byte("stale"), 0o644)
	backup := filepath.Join(e.backup, "data.csv")
	os.WriteFile(backup, []byte("backup"), 0o644)

	path, err := e.fetcher().Fetch(context.Background(), Resource{URL: srv.URL, Dest: dest})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != backup {
		t.Errorf("path: got %q", path)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial destination should be removed")
	}
}

func TestFetch_TruncatedBodyRemovesPartial(t *testing.T) {
	// WHAT: A body cut short mid-stream removes the partly written destination and uses backup.
	// WHY: A copy error after bytes hit disk is the case most likely to leave a corrupt file.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("COM,NCCENR\n"))
	}))
	defer srv.Close()

	e := newEnv(t)
	dest := filepath.Join(e.raw, "data.csv")
	backup := filepath.Join(e.backup, "data.csv")
	os.WriteFile(backup, []byte("backup"), 0o644)

	path, err := e.fetcher().Fetch(context.Background(), Resource{URL: srv.URL, Dest: dest})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != backup {
		t.Errorf("path: got %q, want backup", path)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("truncated destination should be removed")
	}
}

func TestFetch_Transform(t *testing.T) {
	// WHAT: The transform result replaces the raw path.
	// WHY: The crime archive is decompressed right after download.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	e := newEnv(t)
	dest := filepath.Join(e.raw, "c.csv.gz")
	path, err := e.fetcher().Fetch(context.Background(), Resource{
		URL:  srv.URL,
		Dest: dest,
		Transform: func(p string) (string, error) {
			return p + ".done", nil
		},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != dest+".done" {
		t.Errorf("path: got %q", path)
	}
}

func TestFetch_TransformErrorIsHard(t *testing.T) {
	// WHAT: A transform failure returns ErrTransform and never falls back.
	// WHY: Backup logic already ran; a corrupt payload is unrecoverable.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	e := newEnv(t)
	os.WriteFile(filepath.Join(e.backup, "c.csv.gz"), []byte("backup"), 0o644)

	_, err := e.fetcher().Fetch(context.Background(), Resource{
		URL:       srv.URL,
		Dest:      filepath.Join(e.raw, "c.csv.gz"),
		Transform: func(string) (string, error) { return "", errors.New("bad gzip") },
	})
	if !errors.Is(err, ErrTransform) {
		t.Fatalf("expected ErrTransform, got %v", err)
	}
}

func TestFetch_BackupWithTransformKeepsBackup(t *testing.T) {
	// WHAT: A backup hit with a transform stages a copy and transforms the copy.
	// WHY: Decompression deletes its input; the backup must survive the run.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := newEnv(t)
	backup := filepath.Join(e.backup, "c.csv.gz")
	os.WriteFile(backup, []byte("archived"), 0o644)

	dest := filepath.Join(e.raw, "c.csv.gz")
	var seen string
	path, err := e.fetcher().Fetch(context.Background(), Resource{
		URL:  srv.URL,
		Dest: dest,
		Transform: func(p string) (string, error) {
			seen = p
			return strings.TrimSuffix(p, ".gz"), nil
		},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if seen != dest {
		t.Errorf("transform input: got %q, want staged %q", seen, dest)
	}
	if path != filepath.Join(e.raw, "c.csv") {
		t.Errorf("path: got %q", path)
	}
	if _, err := os.Stat(backup); err != nil {
		t.Error("backup must remain")
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.data.gouv.fr/fr/datasets/r/x", false},
		{"http://overpass-api.de/api/interpreter", false},
		{"", true},
		{"ftp://example.com/file", true},
		{"http://127.0.0.1/admin", true},
		{"http://192.168.1.1/data", true},
		{"http://169.254.169.254/latest/", true},
		{"http://localhost:8080/", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestFetch_DefaultValidatorBlocksLoopback(t *testing.T) {
	// WHAT: Without an injected validator, loopback targets are refused.
	// WHY: The fetcher only ever talks to public data hosts.
	e := newEnv(t)
	f := New(Config{BackupDir: e.backup}, nil)
	_, err := f.Fetch(context.Background(), Resource{URL: "http://127.0.0.1:1/x", Dest: filepath.Join(e.raw, "x")})
	if !errors.Is(err, ErrNoBackup) || !errors.Is(err, ErrPrivateHost) {
		t.Fatalf("expected ErrNoBackup wrapping ErrPrivateHost, got %v", err)
	}
}
