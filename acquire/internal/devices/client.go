// Package devices queries a Shodan-style device-search API page by page,
// rotating credentials on quota exhaustion and falling back to a local
// line-delimited JSON snapshot when the live source cannot be used.
package devices

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/vigie/acquire/internal/table"
)

var (
	// ErrEmptyPool is returned when Search is called without any credential.
	ErrEmptyPool = errors.New("devices: credential pool is empty")
	// ErrSnapshot is returned when the fallback snapshot cannot be used.
	ErrSnapshot = errors.New("devices: snapshot unusable")
)

// Source tells which data the device table was built from.
type Source string

const (
	SourceLive     Source = "live"
	SourceSnapshot Source = "snapshot"
)

// Result summarizes one Search.
type Result struct {
	Source  Source `json:"source"`
	Total   int    `json:"total"` // count reported by the API, -1 when never obtained
	Pages   int    `json:"pages"` // pages appended from the live source
	Rows    int    `json:"rows"`  // rows in the table at the end
	Evicted int    `json:"evicted"`
	Retries int    `json:"retries"`
	Reason  string `json:"reason,omitempty"` // why the snapshot was used
}

// Config configures the client.
type Config struct {
	PageSize     int           // Default: 100.
	MaxRetries   int           // Default: 3.
	RetryBackoff time.Duration // Multiplied by the try number. Zero disables sleeping.
	OutPath      string        // canonical device CSV
	SnapshotPath string        // line-delimited JSON banners
}

func (c *Config) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Client runs searches.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// NewClient returns a client. A negative MaxRetries means no retry at all.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

type state int

const (
	stateSearching state = iota
	stateRetrying
	stateFallback
	stateCompleted
)

// Search walks every result page for query starting at startPage, appending
// rows to a staging file next to the device table as pages arrive. The
// staging file replaces the table only once every page is in, so a failed
// search never leaves a partial table behind. A count of zero yields a
// header-only table.
//
// Quota exhaustion evicts the front credential and repeats the same page with
// the next one; with a single credential left it switches to the snapshot.
// Any other API error is retried up to MaxRetries times. A page without a
// results key also switches to the snapshot, which overwrites the table.
func (c *Client) Search(ctx context.Context, pool *Pool, query string, startPage int) (Result, error) {
	if pool == nil || pool.Len() == 0 {
		return Result{}, ErrEmptyPool
	}
	if startPage < 1 {
		startPage = 1
	}

	staging := c.cfg.OutPath + ".part"
	if err := os.Remove(staging); err != nil && !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("devices: clear staging: %w", err)
	}
	defer os.Remove(staging)

	res := Result{Total: -1}
	page := startPage
	pages := 0
	tries := 0
	st := stateSearching

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch st {
		case stateSearching:
			api := pool.Front()
			if res.Total < 0 {
				total, err := api.Count(ctx, query)
				if err != nil {
					st = c.onError(pool, &res, err)
					continue
				}
				res.Total = total
				pages = (total + c.cfg.PageSize - 1) / c.cfg.PageSize
				c.logger.Info("devices: count", "query", query, "total", total, "pages", pages)
			}
			if page > pages {
				st = stateCompleted
				continue
			}

			p, err := api.Search(ctx, query, page)
			if err != nil {
				st = c.onError(pool, &res, err)
				continue
			}
			if p == nil || p.Matches == nil {
				c.logger.Warn("devices: page without results key", "page", page)
				res.Reason = "missing matches"
				st = stateFallback
				continue
			}
			if err := table.Append(staging, Header, rows(p.Matches)); err != nil {
				return res, fmt.Errorf("devices: append page %d: %w", page, err)
			}
			res.Pages++
			res.Rows += len(p.Matches)
			c.logger.Debug("devices: page appended", "page", page, "rows", len(p.Matches))
			page++

		case stateRetrying:
			tries++
			res.Retries = tries
			if tries > c.cfg.MaxRetries {
				c.logger.Warn("devices: retries exhausted", "tries", tries, "max", c.cfg.MaxRetries)
				res.Reason = "retries exhausted"
				st = stateFallback
				continue
			}
			if err := c.sleep(ctx, c.cfg.RetryBackoff*time.Duration(tries)); err != nil {
				return res, err
			}
			c.logger.Info("devices: retrying", "page", page, "try", tries)
			st = stateSearching

		case stateFallback:
			n, err := c.fallback()
			if err != nil {
				return res, err
			}
			res.Source = SourceSnapshot
			res.Rows = n
			return res, nil

		case stateCompleted:
			if err := c.commit(staging, res.Pages); err != nil {
				return res, err
			}
			res.Source = SourceLive
			c.logger.Info("devices: search completed", "pages", res.Pages, "rows", res.Rows)
			return res, nil
		}
	}
}

// onError picks the next state after a failed API call.
func (c *Client) onError(pool *Pool, res *Result, err error) state {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Quota() {
		if pool.Len() > 1 {
			pool.Evict()
			res.Evicted++
			c.logger.Warn("devices: credential out of credits, rotating", "remaining", pool.Len())
			return stateSearching
		}
		c.logger.Warn("devices: last credential out of credits")
		res.Reason = "quota exhausted"
		return stateFallback
	}
	c.logger.Warn("devices: api call failed", "error", err)
	return stateRetrying
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// commit moves the staged pages into place, or writes a header-only table
// when no page was appended.
func (c *Client) commit(staging string, pages int) error {
	if pages == 0 {
		if err := table.Write(c.cfg.OutPath, Header, nil); err != nil {
			return fmt.Errorf("devices: write empty table: %w", err)
		}
		return nil
	}
	if err := os.Rename(staging, c.cfg.OutPath); err != nil {
		return fmt.Errorf("devices: commit table: %w", err)
	}
	return nil
}

// fallback rebuilds the whole table from the snapshot. Nothing is written
// unless every line decodes.
func (c *Client) fallback() (int, error) {
	c.logger.Info("devices: falling back to snapshot", "path", c.cfg.SnapshotPath)
	devs, err := ReadSnapshot(c.cfg.SnapshotPath)
	if err != nil {
		return 0, err
	}
	if err := table.Write(c.cfg.OutPath, Header, rows(devs)); err != nil {
		return 0, fmt.Errorf("devices: write snapshot table: %w", err)
	}
	return len(devs), nil
}

// ReadSnapshot decodes a line-delimited JSON banner file. Blank lines are skipped.
func ReadSnapshot(path string) ([]Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshot, err)
	}
	defer f.Close()

	var out []Device
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		devs, err := Normalize(b, ModeSnapshot)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrSnapshot, line, err)
		}
		out = append(out, devs...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshot, err)
	}
	return out, nil
}
