// Package fetch downloads a single remote resource with primary/alternate
// URL selection and a local backup fallback.
//
// A HEAD probe decides between the primary and the alternate URL. The body
// is streamed to disk in bounded chunks. When the network fails, a file with
// the destination's name in the backup directory is used instead.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/vigie/acquire/internal/archive"
)

// ErrNoBackup is returned when the download failed and no backup file exists.
var ErrNoBackup = errors.New("fetch: no backup available")

// ErrTransform is returned when the post-fetch transform fails.
var ErrTransform = errors.New("fetch: transform failed")

// Source tells where the returned file came from.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceAlternate Source = "alternate"
	SourceBackup    Source = "backup"
	SourceNone      Source = "none"
)

// Resource describes one download. Its identity is Dest.
type Resource struct {
	Name         string // label for logs and the ledger; defaults to base(Dest)
	URL          string
	AlternateURL string // optional, used when the HEAD probe on URL is not 2xx
	Dest         string
	// Transform runs on the downloaded file; its result replaces the raw path.
	Transform func(path string) (string, error)
}

func (r Resource) label() string {
	if r.Name != "" {
		return r.Name
	}
	return filepath.Base(r.Dest)
}

// Outcome reports how a Fetch resolved.
type Outcome struct {
	Resource   string
	Source     Source
	URL        string
	Path       string
	StatusCode int
	Err        error // network failure that triggered the backup, or the final error
	Duration   time.Duration
}

// Config configures the fetcher.
type Config struct {
	Timeout   time.Duration // HTTP timeout per request. Default: 5m.
	UserAgent string
	// BackupDir holds pre-existing copies named after the destination file.
	BackupDir string
	// ChunkSize bounds each streaming write. Default: 32 KiB.
	ChunkSize int
	// URLValidator validates URLs before each request.
	// Default: ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.UserAgent == "" {
		c.UserAgent = "vigie/1.0"
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join("data", "backup")
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 32 * 1024
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidateURL
	}
}

// Fetcher performs resource downloads.
type Fetcher struct {
	client  *http.Client
	config  Config
	logger  *slog.Logger
	observe func(Outcome)
}

// New creates a Fetcher. Redirect targets are validated like the initial URL.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
		logger: logger,
	}
}

// OnOutcome registers fn to receive the outcome of every Fetch.
func (f *Fetcher) OnOutcome(fn func(Outcome)) {
	f.observe = fn
}

// Fetch downloads res and returns the path of a usable file: the downloaded
// (and transformed) file, or the backup copy when the network failed.
// Returns ErrNoBackup when neither is available and ErrTransform when the
// transform rejects the downloaded file.
func (f *Fetcher) Fetch(ctx context.Context, res Resource) (string, error) {
	start := time.Now()
	out := Outcome{Resource: res.label()}
	defer func() {
		out.Duration = time.Since(start)
		if f.observe != nil {
			f.observe(out)
		}
	}()

	log := f.logger.With("resource", out.Resource)

	src, target, status, err := f.download(ctx, res)
	out.URL, out.StatusCode = target, status
	if err == nil {
		out.Source = src
		path, terr := f.transform(res, res.Dest)
		if terr != nil {
			out.Err = terr
			return "", terr
		}
		out.Path = path
		log.Info("fetch: downloaded", "source", src, "url", target, "path", path)
		return path, nil
	}

	out.Err = err
	log.Warn("fetch: download failed, looking for backup", "url", target, "error", err)
	os.Remove(res.Dest)

	backup := filepath.Join(f.config.BackupDir, filepath.Base(res.Dest))
	if _, statErr := os.Stat(backup); statErr != nil {
		out.Source = SourceNone
		log.Error("fetch: backup not found", "backup", backup)
		return "", fmt.Errorf("%w: %s (%w)", ErrNoBackup, backup, err)
	}

	out.Source = SourceBackup
	if res.Transform == nil {
		out.Path = backup
		log.Info("fetch: using backup", "path", backup)
		return backup, nil
	}

	// Stage the backup so the transform never consumes the original copy.
	if err := archive.CopyFile(backup, res.Dest); err != nil {
		out.Err = err
		return "", err
	}
	path, terr := f.transform(res, res.Dest)
	if terr != nil {
		out.Err = terr
		return "", terr
	}
	out.Path = path
	log.Info("fetch: using backup", "backup", backup, "path", path)
	return path, nil
}

func (f *Fetcher) transform(res Resource, path string) (string, error) {
	if res.Transform == nil {
		return path, nil
	}
	out, err := res.Transform(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrTransform, res.label(), err)
	}
	return out, nil
}

// download probes res.URL and streams from the selected URL into res.Dest.
// A non-2xx probe selects the alternate URL; without one it fails closed.
func (f *Fetcher) download(ctx context.Context, res Resource) (Source, string, int, error) {
	status, err := f.probe(ctx, res.URL)
	if err != nil {
		return SourceNone, res.URL, status, fmt.Errorf("probe: %w", err)
	}

	src, target := SourcePrimary, res.URL
	if status < 200 || status >= 300 {
		if res.AlternateURL == "" {
			return SourceNone, res.URL, status, fmt.Errorf("probe: http %d and no alternate URL", status)
		}
		f.logger.Info("fetch: primary unavailable, trying alternate",
			"resource", res.label(), "status", status, "alternate", res.AlternateURL)
		src, target = SourceAlternate, res.AlternateURL
	}

	status, err = f.stream(ctx, target, res.Dest)
	if err != nil {
		return SourceNone, target, status, fmt.Errorf("download: %w", err)
	}
	return src, target, status, nil
}

func (f *Fetcher) probe(ctx context.Context, url string) (int, error) {
	if err := f.config.URLValidator(url); err != nil {
		return 0, fmt.Errorf("URL blocked: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (f *Fetcher) stream(ctx context.Context, url, dest string) (int, error) {
	if err := f.config.URLValidator(url); err != nil {
		return 0, fmt.Errorf("URL blocked: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return resp.StatusCode, fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("create: %w", err)
	}

	if _, err := io.CopyBuffer(out, resp.Body, make([]byte, f.config.ChunkSize)); err != nil {
		out.Close()
		return resp.StatusCode, fmt.Errorf("copy body: %w", err)
	}
	if err := out.Close(); err != nil {
		return resp.StatusCode, fmt.Errorf("close: %w", err)
	}
	return resp.StatusCode, nil
}
